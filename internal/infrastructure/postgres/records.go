// Package postgres reads patient records from PostgreSQL with pgx.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/domain/record"
)

// Schema creates the table backing the timeline_records view. The portal
// owns the real clinical tables; this is what local development runs against.
const Schema = `
CREATE TABLE IF NOT EXISTS patient_records (
	patient_id    TEXT        NOT NULL,
	category      TEXT        NOT NULL,
	record_id     TEXT        NOT NULL,
	title         TEXT        NOT NULL DEFAULT '',
	start_date    DATE,
	end_date      DATE,
	diagnosis_ids TEXT[]      NOT NULL DEFAULT '{}',
	diagnosis_id  TEXT,
	list_order    INTEGER,
	updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (patient_id, category, record_id)
);

CREATE OR REPLACE VIEW timeline_records AS
	SELECT patient_id, category, record_id, title, start_date, end_date,
	       diagnosis_ids, diagnosis_id, list_order
	FROM patient_records;
`

const selectRecords = `
	SELECT record_id, title, start_date, end_date, diagnosis_ids, diagnosis_id, list_order
	FROM timeline_records
	WHERE patient_id = $1 AND category = $2
	ORDER BY start_date NULLS LAST, record_id
`

const upsertRecord = `
	INSERT INTO patient_records
		(patient_id, category, record_id, title, start_date, end_date, diagnosis_ids, diagnosis_id, list_order)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (patient_id, category, record_id) DO UPDATE SET
		title = EXCLUDED.title,
		start_date = EXCLUDED.start_date,
		end_date = EXCLUDED.end_date,
		diagnosis_ids = EXCLUDED.diagnosis_ids,
		diagnosis_id = EXCLUDED.diagnosis_id,
		list_order = EXCLUDED.list_order,
		updated_at = now()
`

const deleteMissing = `
	DELETE FROM patient_records
	WHERE patient_id = $1 AND category = $2 AND NOT (record_id = ANY($3))
`

// DB is the subset of pgxpool.Pool used here
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Row is one row of timeline_records
type Row struct {
	RecordID     string
	Title        string
	StartDate    *time.Time
	EndDate      *time.Time
	DiagnosisIDs []string
	DiagnosisID  *string
	ListOrder    *int32
}

// Raw converts the row to the record input contract
func (r Row) Raw() record.Raw {
	raw := record.Raw{ID: record.ID(r.RecordID), Title: r.Title}
	if r.StartDate != nil {
		raw.StartDate = record.FormatDate(*r.StartDate)
	}
	if r.EndDate != nil {
		raw.EndDate = record.FormatDate(*r.EndDate)
	}
	for _, id := range r.DiagnosisIDs {
		raw.DiagnosisIDs = append(raw.DiagnosisIDs, record.ID(id))
	}
	if r.DiagnosisID != nil {
		raw.DiagnosisID = record.ID(*r.DiagnosisID)
	}
	if r.ListOrder != nil {
		n := int(*r.ListOrder)
		raw.ListOrder = &n
	}
	return raw
}

// RowFromRaw is the inverse of Row.Raw for seeding and tests
func RowFromRaw(raw record.Raw) Row {
	row := Row{RecordID: string(raw.ID), Title: raw.Title}
	if row.Title == "" {
		row.Title = raw.Name
	}
	start := raw.StartDate
	if start == "" {
		start = raw.Date
	}
	if t, ok := record.ParseDate(start); ok {
		row.StartDate = &t
	}
	if t, ok := record.ParseDate(raw.EndDate); ok {
		row.EndDate = &t
	}
	for _, d := range raw.Diagnosis {
		if d.ID != "" {
			row.DiagnosisIDs = append(row.DiagnosisIDs, string(d.ID))
		}
	}
	for _, id := range raw.DiagnosisIDs {
		row.DiagnosisIDs = append(row.DiagnosisIDs, string(id))
	}
	if raw.DiagnosisID != "" {
		fk := string(raw.DiagnosisID)
		row.DiagnosisID = &fk
	}
	if raw.ListOrder != nil {
		n := int32(*raw.ListOrder)
		row.ListOrder = &n
	}
	return row
}

// RecordSource serves record collections from the timeline_records view
type RecordSource struct {
	db     DB
	logger *zap.Logger
	tracer trace.Tracer
}

// NewRecordSource creates a source over db
func NewRecordSource(db DB, logger *zap.Logger) *RecordSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RecordSource{db: db, logger: logger, tracer: otel.Tracer("portal-timeline/postgres")}
}

// Fetch returns one category of records for a patient
func (s *RecordSource) Fetch(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error) {
	ctx, span := s.tracer.Start(ctx, "postgres.fetch_records",
		trace.WithAttributes(attribute.String("record.category", string(cat))))
	defer span.End()

	rows, err := s.db.Query(ctx, selectRecords, patientID, string(cat))
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("query %s: %w", cat.Plural(), err)
	}
	defer rows.Close()

	var out []record.Raw
	for rows.Next() {
		var r Row
		if err := rows.Scan(&r.RecordID, &r.Title, &r.StartDate, &r.EndDate, &r.DiagnosisIDs, &r.DiagnosisID, &r.ListOrder); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scan %s: %w", cat.Plural(), err)
		}
		out = append(out, r.Raw())
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("iterate %s: %w", cat.Plural(), err)
	}

	s.logger.Debug("records fetched",
		zap.String("patient_id", patientID),
		zap.String("category", string(cat)),
		zap.Int("count", len(out)))
	return out, nil
}

// Upsert writes raws for a patient, replacing rows with the same identifier
func (s *RecordSource) Upsert(ctx context.Context, patientID string, cat record.Category, raws []record.Raw) error {
	_, err := upsertAll(ctx, s.db, patientID, cat, raws)
	return err
}

// ReplaceCollection makes raws the whole of one category for a patient.
// When change is not nil it is queued in the outbox in the same transaction.
func (s *RecordSource) ReplaceCollection(ctx context.Context, patientID string, cat record.Category, raws []record.Raw, change *OutboxEntry) error {
	ctx, span := s.tracer.Start(ctx, "postgres.replace_collection",
		trace.WithAttributes(attribute.String("record.category", string(cat))))
	defer span.End()

	tx, err := s.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("begin replace %s: %w", cat.Plural(), err)
	}
	defer tx.Rollback(ctx)

	ids, err := upsertAll(ctx, tx, patientID, cat, raws)
	if err != nil {
		span.RecordError(err)
		return err
	}
	tag, err := tx.Exec(ctx, deleteMissing, patientID, string(cat), ids)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("delete stale %s: %w", cat.Plural(), err)
	}
	if change != nil {
		if err := WriteEntry(ctx, tx, change); err != nil {
			span.RecordError(err)
			return err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return fmt.Errorf("commit replace %s: %w", cat.Plural(), err)
	}

	s.logger.Info("collection replaced",
		zap.String("patient_id", patientID),
		zap.String("category", string(cat)),
		zap.Int("records", len(ids)),
		zap.Int64("removed", tag.RowsAffected()))
	return nil
}

// upsertAll writes every raw with an id and returns the ids written
func upsertAll(ctx context.Context, db execer, patientID string, cat record.Category, raws []record.Raw) ([]string, error) {
	ids := make([]string, 0, len(raws))
	for _, raw := range raws {
		if raw.ID == "" {
			continue
		}
		r := RowFromRaw(raw)
		if r.DiagnosisIDs == nil {
			r.DiagnosisIDs = []string{}
		}
		if _, err := db.Exec(ctx, upsertRecord,
			patientID, string(cat), r.RecordID, r.Title, r.StartDate, r.EndDate,
			r.DiagnosisIDs, r.DiagnosisID, r.ListOrder,
		); err != nil {
			return nil, fmt.Errorf("upsert %s %s: %w", cat, r.RecordID, err)
		}
		ids = append(ids, r.RecordID)
	}
	return ids, nil
}

// Migrate applies Schema and OutboxSchema
func (s *RecordSource) Migrate(ctx context.Context) error {
	for _, ddl := range []string{Schema, OutboxSchema} {
		if _, err := s.db.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// NewPool opens a pgx pool and verifies connectivity
func NewPool(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}
