package record

// Set is an immutable view of normalized records grouped by category
type Set struct {
	byCategory map[Category][]Record
	index      map[Key]Record
}

// NewSet returns an empty set
func NewSet() Set {
	return Set{
		byCategory: make(map[Category][]Record),
		index:      make(map[Key]Record),
	}
}

// With returns a copy of s whose cat collection is replaced by recs
func (s Set) With(cat Category, recs []Record) Set {
	next := Set{
		byCategory: make(map[Category][]Record, len(s.byCategory)+1),
		index:      make(map[Key]Record, len(s.index)+len(recs)),
	}
	for c, list := range s.byCategory {
		if c == cat {
			continue
		}
		next.byCategory[c] = list
		for _, r := range list {
			next.index[r.Key()] = r
		}
	}
	owned := make([]Record, len(recs))
	copy(owned, recs)
	next.byCategory[cat] = owned
	for _, r := range owned {
		next.index[r.Key()] = r
	}
	return next
}

// Records returns the records of one category in source order
func (s Set) Records(cat Category) []Record {
	return s.byCategory[cat]
}

// Lookup finds a record by its composite key
func (s Set) Lookup(key Key) (Record, bool) {
	r, ok := s.index[key]
	return r, ok
}

// Find finds a record by category and identifier
func (s Set) Find(cat Category, id ID) (Record, bool) {
	return s.Lookup(KeyOf(cat, id))
}

// Len returns the number of records across all categories
func (s Set) Len() int {
	return len(s.index)
}
