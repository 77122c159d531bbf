package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/infrastructure/postgres"
	"github.com/carebridge/portal-timeline/internal/infrastructure/redpanda"
	"github.com/carebridge/portal-timeline/internal/recordfile"
)

// eventRecordsChanged is the outbox event type of a replaced collection
const eventRecordsChanged = "records_changed"

type collectionWriter interface {
	ReplaceCollection(ctx context.Context, patientID string, cat record.Category, raws []record.Raw, change *postgres.OutboxEntry) error
}

// importRecords replaces each category present in file and queues one
// record change per category. It returns the number of categories written.
func importRecords(ctx context.Context, w collectionWriter, file recordfile.File, patientID string, replaceEmpty bool) (int, error) {
	if patientID == "" {
		patientID = file.PatientID
	}
	if patientID == "" {
		return 0, errors.New("patient id is required: pass --patient or import a bundle with a Patient")
	}

	written := 0
	for _, cat := range record.Categories {
		raws := file.Collections.For(cat)
		if len(raws) == 0 && !replaceEmpty {
			continue
		}
		ev := redpanda.NewRecordChange(patientID, cat, raws)
		payload, err := json.Marshal(ev)
		if err != nil {
			return written, fmt.Errorf("encode %s change: %w", cat, err)
		}
		change := &postgres.OutboxEntry{
			PatientID: patientID,
			Category:  string(cat),
			EventType: eventRecordsChanged,
			Payload:   payload,
			Topic:     redpanda.TopicRecordChanges,
			Key:       patientID,
		}
		if err := w.ReplaceCollection(ctx, patientID, cat, raws, change); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}
