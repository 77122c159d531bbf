package timeline

import (
	"sort"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// PanelItem is one candidate record in a category panel
type PanelItem struct {
	Record   record.Record `json:"record"`
	Selected bool          `json:"selected"`
}

// Panel is the per-category checklist shown beside the grid
type Panel struct {
	Category    record.Category `json:"category"`
	Open        bool            `json:"open"`
	Items       []PanelItem     `json:"items"`
	AllSelected bool            `json:"allSelected"`
	Hidden      int             `json:"hidden"`
}

// View is everything the rendering layer needs
type View struct {
	Mode               ViewMode      `json:"mode"`
	Buckets            []MonthBucket `json:"buckets"`
	Placements         []Placement   `json:"placements"`
	Panels             []Panel       `json:"panels"`
	DiagnosisSelection []record.ID   `json:"diagnosisSelection"`
	Range              *Range        `json:"range,omitempty"`
	Empty              bool          `json:"empty"`
	Unplaced           int           `json:"unplaced"`
	// Version is set by Session: the recompute count that produced this view
	Version int `json:"-"`
}

// Panel returns the panel for cat
func (v View) Panel(cat record.Category) (Panel, bool) {
	for _, p := range v.Panels {
		if p.Category == cat {
			return p, true
		}
	}
	return Panel{}, false
}

// Placement returns the placement of the record with key
func (v View) Placement(key record.Key) (Placement, bool) {
	for _, p := range v.Placements {
		if p.Record.Key() == key {
			return p, true
		}
	}
	return Placement{}, false
}

// Recompute derives the whole view from the records and a selection snapshot.
// It has no side effects.
func Recompute(cfg Config, set record.Set, snap Snapshot) View {
	v := View{
		Mode:               cfg.ViewMode,
		Buckets:            []MonthBucket{},
		Placements:         []Placement{},
		DiagnosisSelection: diagnosisIDs(snap.Diagnoses),
	}
	if v.Mode == "" {
		v.Mode = ViewTimeline
	}

	selected := make(map[record.Key]struct{}, len(snap.Keys))
	for _, k := range snap.Keys {
		selected[k] = struct{}{}
	}

	for _, cat := range record.Categories {
		all := set.Records(cat)
		visible := record.FilterByDiagnosis(all, snap.Diagnoses)
		p := Panel{
			Category: cat,
			Open:     snap.Open[cat],
			Items:    make([]PanelItem, 0, len(visible)),
			Hidden:   len(all) - len(visible),
		}
		allSelected := len(visible) > 0
		for _, r := range visible {
			_, on := selected[r.Key()]
			allSelected = allSelected && on
			p.Items = append(p.Items, PanelItem{Record: r, Selected: on})
		}
		p.AllSelected = allSelected
		v.Panels = append(v.Panels, p)
	}

	working := make([]record.Record, 0, len(snap.Keys))
	for _, k := range snap.Keys {
		r, ok := set.Lookup(k)
		if !ok {
			continue
		}
		if !r.HasStart() {
			v.Unplaced++
			continue
		}
		working = append(working, r)
	}

	rng, ok := ResolveRange(working)
	if !ok {
		v.Empty = true
		return v
	}
	v.Range = &rng

	grid := BuildGrid(rng, cfg.LeadMonths, cfg.TrailMonths)
	v.Buckets = grid

	sortForPlacement(working)
	for _, r := range working {
		p, ok := Place(grid, r)
		if !ok {
			v.Unplaced++
			continue
		}
		p.ColorClass = cfg.ColorClass(r.Category)
		v.Placements = append(v.Placements, p)
	}
	return v
}

// sortForPlacement orders rows by start date, then category, then id
func sortForPlacement(recs []record.Record) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.StartDate.Equal(b.StartDate) {
			return a.StartDate.Before(b.StartDate)
		}
		if a.Category != b.Category {
			return a.Category.Rank() < b.Category.Rank()
		}
		return a.ID < b.ID
	})
}

func diagnosisIDs(s record.DiagnosisSet) []record.ID {
	ids := make([]record.ID, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
