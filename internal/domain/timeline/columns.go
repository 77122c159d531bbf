package timeline

import (
	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// Placement is a record positioned on the grid. Columns are 1-based and the
// record occupies [StartColumn, EndColumn).
type Placement struct {
	Record      record.Record `json:"record"`
	StartColumn int           `json:"startColumn"`
	EndColumn   int           `json:"endColumn"`
	ColorClass  string        `json:"colorClass"`
}

// Span returns the number of columns the placement covers
func (p Placement) Span() int {
	return p.EndColumn - p.StartColumn
}

// Place maps r onto g. It reports false when r has no start date or its
// start month is not part of the grid.
func Place(g Grid, r record.Record) (Placement, bool) {
	if !r.HasStart() {
		return Placement{}, false
	}
	start := g.IndexOf(BucketOf(r.StartDate))
	if start < 0 {
		return Placement{}, false
	}
	p := Placement{Record: r, StartColumn: start + 1, EndColumn: start + 2}

	if r.EndDate == nil || !r.EndDate.After(r.StartDate) {
		return p, true
	}

	// first bucket strictly after the end month, clamped to the grid width
	after := g[0].MonthsUntil(BucketOf(*r.EndDate)) + 1
	if after >= len(g) {
		p.EndColumn = len(g) + 1
		return p, true
	}
	if after+1 > p.EndColumn {
		p.EndColumn = after + 1
	}
	return p, true
}
