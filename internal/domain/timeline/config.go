package timeline

import (
	"fmt"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// ViewMode selects between the grid and the tabular presentation
type ViewMode string

const (
	ViewTimeline ViewMode = "timeline"
	ViewTable    ViewMode = "table"
)

// ParseViewMode validates a view mode string
func ParseViewMode(s string) (ViewMode, error) {
	switch ViewMode(s) {
	case ViewTimeline, ViewTable:
		return ViewMode(s), nil
	case "":
		return ViewTimeline, nil
	}
	return "", fmt.Errorf("unknown view mode %q", s)
}

// Config holds engine settings
type Config struct {
	LeadMonths     int
	TrailMonths    int
	ColorClasses   map[record.Category]string
	ViewMode       ViewMode
	OpenCategories []record.Category
}

// DefaultConfig returns default engine configuration
func DefaultConfig() Config {
	return Config{
		LeadMonths:  1,
		TrailMonths: 3,
		ColorClasses: map[record.Category]string{
			record.CategoryDiagnosis:    "timeline-bar--diagnosis",
			record.CategoryMedication:   "timeline-bar--medication",
			record.CategoryIntervention: "timeline-bar--intervention",
			record.CategoryImaging:      "timeline-bar--imaging",
			record.CategoryAppointment:  "timeline-bar--appointment",
			record.CategoryLifestyle:    "timeline-bar--lifestyle",
		},
		ViewMode:       ViewTimeline,
		OpenCategories: []record.Category{record.CategoryDiagnosis},
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.LeadMonths < 0 {
		return fmt.Errorf("lead months must not be negative: %d", c.LeadMonths)
	}
	if c.TrailMonths < 0 {
		return fmt.Errorf("trail months must not be negative: %d", c.TrailMonths)
	}
	if _, err := ParseViewMode(string(c.ViewMode)); err != nil {
		return err
	}
	for _, cat := range c.OpenCategories {
		if !cat.Valid() {
			return fmt.Errorf("open categories: %w: %q", record.ErrUnknownCategory, cat)
		}
	}
	return nil
}

// ColorClass returns the color class for cat, falling back to a generic one
func (c Config) ColorClass(cat record.Category) string {
	if cls, ok := c.ColorClasses[cat]; ok && cls != "" {
		return cls
	}
	return "timeline-bar--" + string(cat)
}
