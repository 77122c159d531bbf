package redpanda

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// RecordChange announces a new version of one category of a patient's records
type RecordChange struct {
	EventID   string          `json:"event_id"`
	PatientID string          `json:"patient_id"`
	Category  record.Category `json:"category"`
	Records   []record.Raw    `json:"records"`
	ChangedAt time.Time       `json:"changed_at"`
}

// NewRecordChange builds a change event with a fresh id
func NewRecordChange(patientID string, cat record.Category, raws []record.Raw) RecordChange {
	return RecordChange{
		EventID:   uuid.New().String(),
		PatientID: patientID,
		Category:  cat,
		Records:   raws,
		ChangedAt: time.Now().UTC(),
	}
}

// DecodeRecordChange parses and validates a change event
func DecodeRecordChange(b []byte) (RecordChange, error) {
	var ev RecordChange
	if err := json.Unmarshal(b, &ev); err != nil {
		return RecordChange{}, fmt.Errorf("decode record change: %w", err)
	}
	if ev.PatientID == "" {
		return RecordChange{}, errors.New("decode record change: patient_id is required")
	}
	cat, err := record.ParseCategory(string(ev.Category))
	if err != nil {
		return RecordChange{}, fmt.Errorf("decode record change: %w", err)
	}
	ev.Category = cat
	return ev, nil
}

// ViewUpdated reports that a session recomputed its view
type ViewUpdated struct {
	EventID    string    `json:"event_id"`
	SessionID  string    `json:"session_id"`
	PatientID  string    `json:"patient_id"`
	Version    int       `json:"version"`
	Cause      string    `json:"cause"`
	Buckets    int       `json:"buckets"`
	Placements int       `json:"placements"`
	Empty      bool      `json:"empty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Encode marshals the event, filling in the id and timestamp when absent
func (e ViewUpdated) Encode() ([]byte, error) {
	if e.EventID == "" {
		e.EventID = uuid.New().String()
	}
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now().UTC()
	}
	return json.Marshal(e)
}
