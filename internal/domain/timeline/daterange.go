package timeline

import (
	"time"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// Range is the date span covered by the selected records
type Range struct {
	Min time.Time `json:"min"`
	Max time.Time `json:"max"`
}

// ResolveRange computes the span of the selected records. Records without a
// start date are ignored. An end date earlier than the latest start date in
// the selection is floored to that start date, so ongoing records reach the
// last event in view. It reports false when no record has a start date.
func ResolveRange(selected []record.Record) (Range, bool) {
	var (
		minStart, latestStart time.Time
		found                 bool
	)
	for _, r := range selected {
		if !r.HasStart() {
			continue
		}
		if !found || r.StartDate.Before(minStart) {
			minStart = r.StartDate
		}
		if !found || r.StartDate.After(latestStart) {
			latestStart = r.StartDate
		}
		found = true
	}
	if !found {
		return Range{}, false
	}

	maxEnd := latestStart
	for _, r := range selected {
		if !r.HasStart() {
			continue
		}
		if end := EffectiveEnd(r, latestStart); end.After(maxEnd) {
			maxEnd = end
		}
	}
	return Range{Min: minStart, Max: maxEnd}, true
}

// EffectiveEnd returns the end date the resolver assigns to r given the
// latest start date of its selection
func EffectiveEnd(r record.Record, latestStart time.Time) time.Time {
	if r.EndDate != nil && r.EndDate.After(latestStart) {
		return *r.EndDate
	}
	return latestStart
}
