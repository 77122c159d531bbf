package record

// DiagnosisSet is a set of diagnosis identifiers
type DiagnosisSet map[ID]struct{}

// NewDiagnosisSet builds a set from identifiers
func NewDiagnosisSet(ids ...ID) DiagnosisSet {
	s := make(DiagnosisSet, len(ids))
	for _, id := range ids {
		if id != "" {
			s[id] = struct{}{}
		}
	}
	return s
}

// Has reports membership
func (s DiagnosisSet) Has(id ID) bool {
	_, ok := s[id]
	return ok
}

// Intersects reports whether s and other share an identifier
func (s DiagnosisSet) Intersects(other DiagnosisSet) bool {
	small, large := s, other
	if len(large) < len(small) {
		small, large = large, small
	}
	for id := range small {
		if large.Has(id) {
			return true
		}
	}
	return false
}

// Linker extracts the diagnosis identifiers a record is linked to
type Linker interface {
	Links(r Record) DiagnosisSet
}

// directLinker reads the array of diagnosis identifiers carried on the record
type directLinker struct{}

func (directLinker) Links(r Record) DiagnosisSet {
	return NewDiagnosisSet(r.DiagnosisIDs...)
}

// foreignKeyLinker reads the single diagnosis foreign key
type foreignKeyLinker struct{}

func (foreignKeyLinker) Links(r Record) DiagnosisSet {
	return NewDiagnosisSet(r.DiagnosisFK)
}

var linkers = map[Category]Linker{
	CategoryMedication:   directLinker{},
	CategoryAppointment:  directLinker{},
	CategoryLifestyle:    directLinker{},
	CategoryIntervention: foreignKeyLinker{},
	CategoryImaging:      foreignKeyLinker{},
}

// LinkerFor returns the linkage strategy of a category. Diagnoses have none.
func LinkerFor(cat Category) (Linker, bool) {
	l, ok := linkers[cat]
	return l, ok
}

// DiagnosisLinks returns the diagnosis identifiers r is linked to
func DiagnosisLinks(r Record) DiagnosisSet {
	l, ok := LinkerFor(r.Category)
	if !ok {
		return DiagnosisSet{}
	}
	return l.Links(r)
}
