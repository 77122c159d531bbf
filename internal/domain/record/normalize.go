package record

import "strings"

// NormalizeStats counts what the normalizer discarded or flagged for one collection
type NormalizeStats struct {
	Received     int
	Kept         int
	MissingID    int
	Duplicate    int
	MissingStart int
}

// Add accumulates other into s
func (s *NormalizeStats) Add(other NormalizeStats) {
	s.Received += other.Received
	s.Kept += other.Kept
	s.MissingID += other.MissingID
	s.Duplicate += other.Duplicate
	s.MissingStart += other.MissingStart
}

// Normalize tags each raw record with cat and drops records without an identifier.
// A repeated identifier keeps its first occurrence. Records without a parseable start
// date are kept (they still appear as candidates) but are never placed on the grid.
func Normalize(cat Category, raws []Raw) ([]Record, NormalizeStats) {
	stats := NormalizeStats{Received: len(raws)}
	out := make([]Record, 0, len(raws))
	seen := make(map[ID]struct{}, len(raws))

	for _, raw := range raws {
		if raw.ID == "" {
			stats.MissingID++
			continue
		}
		if _, dup := seen[raw.ID]; dup {
			stats.Duplicate++
			continue
		}
		seen[raw.ID] = struct{}{}

		rec := fromRaw(cat, raw)
		if !rec.HasStart() {
			stats.MissingStart++
		}
		out = append(out, rec)
	}

	stats.Kept = len(out)
	return out, stats
}

func fromRaw(cat Category, raw Raw) Record {
	rec := Record{
		ID:        raw.ID,
		Category:  cat,
		Title:     strings.TrimSpace(raw.Title),
		ListOrder: raw.ListOrder,
	}
	if rec.Title == "" {
		rec.Title = strings.TrimSpace(raw.Name)
	}

	start := raw.StartDate
	if start == "" {
		start = raw.Date
	}
	if t, ok := ParseDate(start); ok {
		rec.StartDate = t
	}
	if t, ok := ParseDate(raw.EndDate); ok {
		rec.EndDate = &t
	}

	for _, d := range raw.Diagnosis {
		if d.ID != "" {
			rec.DiagnosisIDs = append(rec.DiagnosisIDs, d.ID)
		}
	}
	for _, id := range raw.DiagnosisIDs {
		if id != "" {
			rec.DiagnosisIDs = append(rec.DiagnosisIDs, id)
		}
	}
	rec.DiagnosisFK = raw.DiagnosisID
	return rec
}

// NormalizeAll normalizes every collection into a Set
func NormalizeAll(c Collections) (Set, map[Category]NormalizeStats) {
	stats := make(map[Category]NormalizeStats, len(Categories))
	set := NewSet()
	for _, cat := range Categories {
		recs, st := Normalize(cat, c.For(cat))
		set = set.With(cat, recs)
		stats[cat] = st
	}
	return set, stats
}
