package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ID is a record identifier. The data layer sends either strings or numbers.
type ID string

// UnmarshalJSON accepts a JSON string, number or null
func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("record id: %w", err)
	}
	*id = ID(n.String())
	return nil
}

// Key identifies a record across categories
type Key string

// KeyOf builds the composite category:id key
func KeyOf(c Category, id ID) Key {
	return Key(string(c) + ":" + string(id))
}

// DiagnosisRef is a diagnosis embedded in another record
type DiagnosisRef struct {
	ID    ID     `json:"id"`
	Title string `json:"title,omitempty"`
}

// Raw is one record as delivered by the data-fetching layer
type Raw struct {
	ID           ID             `json:"id"`
	Title        string         `json:"title,omitempty"`
	Name         string         `json:"name,omitempty"`
	StartDate    string         `json:"startDate,omitempty"`
	Date         string         `json:"date,omitempty"`
	EndDate      string         `json:"endDate,omitempty"`
	Diagnosis    []DiagnosisRef `json:"diagnosis,omitempty"`
	DiagnosisIDs []ID           `json:"diagnosisIds,omitempty"`
	DiagnosisID  ID             `json:"diagnosisId,omitempty"`
	ListOrder    *int           `json:"listOrder,omitempty"`
}

// Record is a normalized, category-tagged clinical record
type Record struct {
	ID        ID
	Category  Category
	Title     string
	StartDate time.Time
	EndDate   *time.Time

	// DiagnosisIDs holds direct links: embedded diagnosis objects and id arrays
	DiagnosisIDs []ID
	// DiagnosisFK holds the single foreign key used by interventions and imaging
	DiagnosisFK ID

	ListOrder *int
}

// Key returns the composite selection key
func (r Record) Key() Key { return KeyOf(r.Category, r.ID) }

// HasStart reports whether the record can be placed on the grid
func (r Record) HasStart() bool { return !r.StartDate.IsZero() }

type recordJSON struct {
	ID           ID       `json:"id"`
	Category     Category `json:"category"`
	Title        string   `json:"title"`
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	DiagnosisIDs []ID     `json:"diagnosisIds,omitempty"`
	DiagnosisID  ID       `json:"diagnosisId,omitempty"`
	ListOrder    *int     `json:"listOrder,omitempty"`
}

// MarshalJSON renders dates as YYYY-MM-DD
func (r Record) MarshalJSON() ([]byte, error) {
	out := recordJSON{
		ID:           r.ID,
		Category:     r.Category,
		Title:        r.Title,
		DiagnosisIDs: r.DiagnosisIDs,
		DiagnosisID:  r.DiagnosisFK,
		ListOrder:    r.ListOrder,
	}
	if r.HasStart() {
		out.StartDate = FormatDate(r.StartDate)
	}
	if r.EndDate != nil {
		out.EndDate = FormatDate(*r.EndDate)
	}
	return json.Marshal(out)
}
