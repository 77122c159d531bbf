package handlers

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/infrastructure/redpanda"
)

// CauseRecordsChanged marks views recomputed after a record-change event
const CauseRecordsChanged = "records_changed"

// ApplyRecordChange pushes a changed collection into every live session of
// the patient, recomputing each view once
func (h *TimelineHandler) ApplyRecordChange(ctx context.Context, ev redpanda.RecordChange) error {
	ctx, span := h.tracer.Start(ctx, "apply_record_change")
	defer span.End()

	recs, stats := record.Normalize(ev.Category, ev.Records)
	entries, err := h.store.ApplyChange(ev.PatientID, ev.Category, recs)
	if err != nil {
		return fmt.Errorf("apply record change %s: %w", ev.EventID, err)
	}

	h.logger.Info("record change applied",
		zap.String("event_id", ev.EventID),
		zap.String("patient_id", ev.PatientID),
		zap.String("category", string(ev.Category)),
		zap.Int("records", stats.Kept),
		zap.Int("sessions", len(entries)))

	for _, e := range entries {
		v := e.Session.View()
		h.publish(ctx, e, v.Version, CauseRecordsChanged, v)
	}
	return nil
}
