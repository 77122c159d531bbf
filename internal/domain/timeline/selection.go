package timeline

import (
	"sort"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// Selection is the working set of records chosen for display plus the
// diagnosis filter derived from it. The zero value is not usable; call
// NewSelection.
type Selection struct {
	working   map[record.Key]record.Category
	diagnoses record.DiagnosisSet
}

// NewSelection returns an empty selection
func NewSelection() *Selection {
	return &Selection{
		working:   make(map[record.Key]record.Category),
		diagnoses: record.NewDiagnosisSet(),
	}
}

// Toggle adds r to the working set if absent and removes it otherwise.
// Diagnosis records are routed through ToggleDiagnosis. It returns whether r
// is selected afterwards.
func (s *Selection) Toggle(r record.Record) bool {
	if r.Category == record.CategoryDiagnosis {
		return s.ToggleDiagnosis(r)
	}
	return s.flip(r)
}

// ToggleDiagnosis toggles r and, when r is a diagnosis, adds or removes it
// from the diagnosis filter in the same step
func (s *Selection) ToggleDiagnosis(r record.Record) bool {
	on := s.flip(r)
	if r.Category == record.CategoryDiagnosis {
		if on {
			s.diagnoses[r.ID] = struct{}{}
		} else {
			delete(s.diagnoses, r.ID)
		}
	}
	return on
}

func (s *Selection) flip(r record.Record) bool {
	k := r.Key()
	if _, ok := s.working[k]; ok {
		delete(s.working, k)
		return false
	}
	s.working[k] = r.Category
	return true
}

// ToggleAll selects every record of list, or deselects every record of
// category cat. Other categories are never touched.
func (s *Selection) ToggleAll(cat record.Category, list []record.Record, selected bool) {
	if selected {
		for _, r := range list {
			if r.Category != cat {
				continue
			}
			s.working[r.Key()] = r.Category
			if cat == record.CategoryDiagnosis {
				s.diagnoses[r.ID] = struct{}{}
			}
		}
		return
	}

	for k, c := range s.working {
		if c == cat {
			delete(s.working, k)
		}
	}
	if cat == record.CategoryDiagnosis {
		s.diagnoses = record.NewDiagnosisSet()
	}
}

// RetainDiagnoses drops every selected diagnosis that is not in recs from
// both the filter and the working set, so the chips always name diagnoses the
// session still holds. It returns how many were dropped.
func (s *Selection) RetainDiagnoses(recs []record.Record) int {
	present := make(map[record.ID]struct{}, len(recs))
	for _, r := range recs {
		present[r.ID] = struct{}{}
	}
	dropped := 0
	for id := range s.diagnoses {
		if _, ok := present[id]; ok {
			continue
		}
		delete(s.diagnoses, id)
		delete(s.working, record.KeyOf(record.CategoryDiagnosis, id))
		dropped++
	}
	return dropped
}

// IsAllSelected reports whether every record of list is in the working set.
// An empty list is never all selected.
func (s *Selection) IsAllSelected(list []record.Record) bool {
	if len(list) == 0 {
		return false
	}
	for _, r := range list {
		if _, ok := s.working[r.Key()]; !ok {
			return false
		}
	}
	return true
}

// IsSelected reports whether key is in the working set
func (s *Selection) IsSelected(key record.Key) bool {
	_, ok := s.working[key]
	return ok
}

// Len returns the size of the working set
func (s *Selection) Len() int { return len(s.working) }

// Reset clears the working set and the diagnosis filter
func (s *Selection) Reset() {
	s.working = make(map[record.Key]record.Category)
	s.diagnoses = record.NewDiagnosisSet()
}

// Snapshot is an immutable copy of a selection
type Snapshot struct {
	Keys      []record.Key
	Diagnoses record.DiagnosisSet
	Open      map[record.Category]bool
}

// Has reports whether key is part of the snapshot's working set
func (s Snapshot) Has(key record.Key) bool {
	for _, k := range s.Keys {
		if k == key {
			return true
		}
	}
	return false
}

// Len returns the size of the snapshot's working set
func (s Snapshot) Len() int { return len(s.Keys) }

// Snapshot copies the selection. Keys are sorted.
func (s *Selection) Snapshot() Snapshot {
	keys := make([]record.Key, 0, len(s.working))
	for k := range s.working {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	dx := make(record.DiagnosisSet, len(s.diagnoses))
	for id := range s.diagnoses {
		dx[id] = struct{}{}
	}
	return Snapshot{Keys: keys, Diagnoses: dx}
}
