package main

import (
	"strings"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
)

// applySelection replays the diagnosis chips first, then the selections.
// A selection is "all", a category name, or "category:id".
func applySelection(s *timeline.Session, diagnoses, selections []string) error {
	for _, id := range diagnoses {
		if _, err := s.ToggleDiagnosis(record.ID(id)); err != nil {
			return err
		}
	}
	for _, sel := range selections {
		if sel == "all" {
			if err := selectEverything(s, len(diagnoses) > 0); err != nil {
				return err
			}
			continue
		}
		name, id, hasID := strings.Cut(sel, ":")
		cat, err := record.ParseCategory(name)
		if err != nil {
			return err
		}
		if !hasID {
			if _, err := s.ToggleAll(cat, true); err != nil {
				return err
			}
			continue
		}
		if _, err := s.Toggle(cat, record.ID(id)); err != nil {
			return err
		}
	}
	return nil
}

// selectEverything selects every visible record. Diagnoses go last so the
// chips they add do not hide unlinked records of the other categories, and
// are left alone when explicit chips were given.
func selectEverything(s *timeline.Session, keepChips bool) error {
	for _, cat := range record.Categories {
		if cat == record.CategoryDiagnosis {
			continue
		}
		if _, err := s.ToggleAll(cat, true); err != nil {
			return err
		}
	}
	if keepChips {
		return nil
	}
	_, err := s.ToggleAll(record.CategoryDiagnosis, true)
	return err
}
