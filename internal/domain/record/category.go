// Package record implements the normalized clinical record model shared by the timeline engine.
package record

import (
	"errors"
	"fmt"
	"strings"
)

// Category tags a record with the collection it came from
type Category string

const (
	CategoryDiagnosis    Category = "diagnosis"
	CategoryMedication   Category = "medication"
	CategoryIntervention Category = "intervention"
	CategoryImaging      Category = "imaging"
	CategoryAppointment  Category = "appointment"
	CategoryLifestyle    Category = "lifestyle"
)

// Categories is the canonical display order
var Categories = []Category{
	CategoryDiagnosis,
	CategoryMedication,
	CategoryIntervention,
	CategoryImaging,
	CategoryAppointment,
	CategoryLifestyle,
}

// ErrUnknownCategory is returned when a category name cannot be resolved
var ErrUnknownCategory = errors.New("unknown record category")

var categoryAliases = map[string]Category{
	"diagnosis":     CategoryDiagnosis,
	"diagnoses":     CategoryDiagnosis,
	"medication":    CategoryMedication,
	"medications":   CategoryMedication,
	"intervention":  CategoryIntervention,
	"interventions": CategoryIntervention,
	"imaging":       CategoryImaging,
	"appointment":   CategoryAppointment,
	"appointments":  CategoryAppointment,
	"lifestyle":     CategoryLifestyle,
	"symptom":       CategoryLifestyle,
	"symptoms":      CategoryLifestyle,
	"timeline":      CategoryLifestyle,
}

// ParseCategory resolves a category from its singular, plural or collection name
func ParseCategory(s string) (Category, error) {
	if c, ok := categoryAliases[strings.ToLower(strings.TrimSpace(s))]; ok {
		return c, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCategory, s)
}

// Valid reports whether c is one of the six known categories
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Rank returns the position of c in the display order, or len(Categories) if unknown
func (c Category) Rank() int {
	for i, known := range Categories {
		if c == known {
			return i
		}
	}
	return len(Categories)
}

// Plural returns the collection name used by the data layer
func (c Category) Plural() string {
	switch c {
	case CategoryDiagnosis:
		return "diagnoses"
	case CategoryImaging:
		return "imaging"
	case CategoryLifestyle:
		return "timeline"
	default:
		return string(c) + "s"
	}
}
