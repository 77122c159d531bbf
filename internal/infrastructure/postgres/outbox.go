package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// OutboxSchema creates the record change outbox
const OutboxSchema = `
CREATE TABLE IF NOT EXISTS record_outbox (
	id           BIGSERIAL   PRIMARY KEY,
	patient_id   TEXT        NOT NULL,
	category     TEXT        NOT NULL,
	event_type   TEXT        NOT NULL,
	payload      JSONB       NOT NULL,
	topic        TEXT        NOT NULL,
	message_key  TEXT        NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	processed_at TIMESTAMPTZ,
	retry_count  INTEGER     NOT NULL DEFAULT 0,
	last_error   TEXT
);

CREATE INDEX IF NOT EXISTS record_outbox_pending
	ON record_outbox (created_at) WHERE processed_at IS NULL;
`

const insertOutbox = `
	INSERT INTO record_outbox (patient_id, category, event_type, payload, topic, message_key)
	VALUES ($1, $2, $3, $4, $5, $6)
	RETURNING id, created_at
`

const selectPending = `
	SELECT id, patient_id, category, event_type, payload, topic, message_key, created_at, retry_count, last_error
	FROM record_outbox
	WHERE processed_at IS NULL AND retry_count < $1
	ORDER BY id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
`

const selectExhausted = `
	SELECT id, patient_id, category, event_type, payload, topic, message_key, created_at, retry_count, last_error
	FROM record_outbox
	WHERE processed_at IS NULL AND retry_count >= $1
	ORDER BY id
	LIMIT $2
	FOR UPDATE SKIP LOCKED
`

const markFailed = `
	UPDATE record_outbox
	SET retry_count = retry_count + 1, last_error = $1, updated_at = now()
	WHERE id = $2
`

const markProcessed = `
	UPDATE record_outbox
	SET processed_at = now(), updated_at = now()
	WHERE id = $1
`

// OutboxEntry is one queued event
type OutboxEntry struct {
	ID          int64
	PatientID   string
	Category    string
	EventType   string
	Payload     json.RawMessage
	Topic       string
	Key         string
	CreatedAt   time.Time
	ProcessedAt *time.Time
	RetryCount  int
	LastError   *string
}

// OutboxConfig holds relay settings
type OutboxConfig struct {
	BatchSize    int
	PollInterval time.Duration
	// MaxRetries is how many failed publishes move an entry to the dead letter topic
	MaxRetries      int
	DeadLetterTopic string
	// Retention is how long processed entries are kept
	Retention           time.Duration
	MaintenanceInterval time.Duration
}

// DefaultOutboxConfig returns relay defaults
func DefaultOutboxConfig() OutboxConfig {
	return OutboxConfig{
		BatchSize:           100,
		PollInterval:        time.Second,
		MaxRetries:          5,
		DeadLetterTopic:     "timeline.dead.letter",
		Retention:           72 * time.Hour,
		MaintenanceInterval: time.Minute,
	}
}

// OutboxPublisher sends outbox payloads to the broker
type OutboxPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// OutboxDB is the subset of pgxpool.Pool the relay uses
type OutboxDB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// WriteEntry queues entry. Call it inside the transaction that changes the records.
func WriteEntry(ctx context.Context, tx rowQuerier, entry *OutboxEntry) error {
	err := tx.QueryRow(ctx, insertOutbox,
		entry.PatientID, entry.Category, entry.EventType,
		entry.Payload, entry.Topic, entry.Key,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("write outbox entry: %w", err)
	}
	return nil
}

// Outbox relays queued record changes to the broker
type Outbox struct {
	db        OutboxDB
	config    OutboxConfig
	publisher OutboxPublisher
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewOutbox creates a relay
func NewOutbox(db OutboxDB, publisher OutboxPublisher, cfg OutboxConfig, logger *zap.Logger) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOutboxConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = def.DeadLetterTopic
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = def.MaintenanceInterval
	}
	return &Outbox{
		db:        db,
		config:    cfg,
		publisher: publisher,
		logger:    logger,
		tracer:    otel.Tracer("portal-timeline/outbox"),
	}
}

// Run polls until ctx is cancelled
func (o *Outbox) Run(ctx context.Context) {
	o.logger.Info("outbox relay started",
		zap.Int("batch_size", o.config.BatchSize),
		zap.Duration("poll_interval", o.config.PollInterval))

	poll := time.NewTicker(o.config.PollInterval)
	defer poll.Stop()
	maintenance := time.NewTicker(o.config.MaintenanceInterval)
	defer maintenance.Stop()

	for {
		select {
		case <-ctx.Done():
			o.logger.Info("outbox relay stopped")
			return
		case <-poll.C:
			if _, err := o.ProcessBatch(ctx); err != nil && ctx.Err() == nil {
				o.logger.Error("outbox batch failed", zap.Error(err))
			}
		case <-maintenance.C:
			o.maintain(ctx)
		}
	}
}

func (o *Outbox) maintain(ctx context.Context) {
	moved, err := o.MoveToDeadLetter(ctx)
	if err != nil {
		o.logger.Error("dead letter pass failed", zap.Error(err))
	} else if moved > 0 {
		o.logger.Warn("outbox entries moved to dead letter", zap.Int64("count", moved))
	}
	if o.config.Retention > 0 {
		removed, err := o.CleanupProcessed(ctx, o.config.Retention)
		if err != nil {
			o.logger.Error("outbox cleanup failed", zap.Error(err))
		} else if removed > 0 {
			o.logger.Debug("processed outbox entries removed", zap.Int64("count", removed))
		}
	}
}

// ProcessBatch publishes up to BatchSize pending entries and returns how many went out.
// Rows stay locked for the transaction so concurrent relays skip them.
func (o *Outbox) ProcessBatch(ctx context.Context) (int, error) {
	ctx, span := o.tracer.Start(ctx, "outbox.process_batch")
	defer span.End()

	tx, err := o.db.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("begin outbox batch: %w", err)
	}
	defer tx.Rollback(ctx)

	entries, err := fetchEntries(ctx, tx, selectPending, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if len(entries) == 0 {
		return 0, nil
	}
	span.SetAttributes(attribute.Int("batch_size", len(entries)))

	sent := 0
	for _, entry := range entries {
		if err := o.processEntry(ctx, tx, entry); err != nil {
			o.logger.Warn("outbox entry not published",
				zap.Int64("id", entry.ID),
				zap.String("event_type", entry.EventType),
				zap.Int("retry_count", entry.RetryCount+1),
				zap.Error(err))
			continue
		}
		sent++
	}

	if err := tx.Commit(ctx); err != nil {
		span.RecordError(err)
		return 0, fmt.Errorf("commit outbox batch: %w", err)
	}
	return sent, nil
}

func fetchEntries(ctx context.Context, tx pgx.Tx, query string, maxRetries, limit int) ([]*OutboxEntry, error) {
	rows, err := tx.Query(ctx, query, maxRetries, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var entries []*OutboxEntry
	for rows.Next() {
		e := &OutboxEntry{}
		if err := rows.Scan(
			&e.ID, &e.PatientID, &e.Category, &e.EventType, &e.Payload,
			&e.Topic, &e.Key, &e.CreatedAt, &e.RetryCount, &e.LastError,
		); err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// processEntry publishes one entry and records the outcome through q
func (o *Outbox) processEntry(ctx context.Context, q execer, entry *OutboxEntry) error {
	ctx, span := o.tracer.Start(ctx, "outbox.process_entry",
		trace.WithAttributes(
			attribute.Int64("outbox.entry_id", entry.ID),
			attribute.String("outbox.event_type", entry.EventType),
			attribute.String("record.category", entry.Category),
		))
	defer span.End()

	if err := o.publisher.Publish(ctx, entry.Topic, entry.Key, entry.Payload); err != nil {
		span.RecordError(err)
		if _, updateErr := q.Exec(ctx, markFailed, err.Error(), entry.ID); updateErr != nil {
			o.logger.Error("failed to record outbox retry", zap.Int64("id", entry.ID), zap.Error(updateErr))
		}
		return fmt.Errorf("publish: %w", err)
	}

	if _, err := q.Exec(ctx, markProcessed, entry.ID); err != nil {
		span.RecordError(err)
		return fmt.Errorf("mark processed: %w", err)
	}

	o.logger.Debug("outbox entry published",
		zap.Int64("id", entry.ID),
		zap.String("topic", entry.Topic))
	return nil
}

type deadLetter struct {
	OriginalTopic string          `json:"original_topic"`
	EventType     string          `json:"event_type"`
	PatientID     string          `json:"patient_id"`
	Category      string          `json:"category"`
	Payload       json.RawMessage `json:"payload"`
	RetryCount    int             `json:"retry_count"`
	LastError     *string         `json:"last_error"`
	CreatedAt     time.Time       `json:"created_at"`
}

// MoveToDeadLetter publishes entries that ran out of retries to the dead
// letter topic and marks them processed
func (o *Outbox) MoveToDeadLetter(ctx context.Context) (int64, error) {
	tx, err := o.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin dead letter pass: %w", err)
	}
	defer tx.Rollback(ctx)

	entries, err := fetchEntries(ctx, tx, selectExhausted, o.config.MaxRetries, o.config.BatchSize)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, e := range entries {
		payload, err := json.Marshal(deadLetter{
			OriginalTopic: e.Topic,
			EventType:     e.EventType,
			PatientID:     e.PatientID,
			Category:      e.Category,
			Payload:       e.Payload,
			RetryCount:    e.RetryCount,
			LastError:     e.LastError,
			CreatedAt:     e.CreatedAt,
		})
		if err != nil {
			return count, fmt.Errorf("encode dead letter: %w", err)
		}
		if err := o.publisher.Publish(ctx, o.config.DeadLetterTopic, e.Key, payload); err != nil {
			o.logger.Error("failed to publish dead letter", zap.Int64("id", e.ID), zap.Error(err))
			continue
		}
		if _, err := tx.Exec(ctx, markProcessed, e.ID); err != nil {
			return count, fmt.Errorf("mark dead letter: %w", err)
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit dead letter pass: %w", err)
	}
	return count, nil
}

// CleanupProcessed deletes processed entries older than olderThan
func (o *Outbox) CleanupProcessed(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := o.db.Exec(ctx,
		`DELETE FROM record_outbox WHERE processed_at IS NOT NULL AND processed_at < now() - make_interval(secs => $1)`,
		olderThan.Seconds())
	if err != nil {
		return 0, fmt.Errorf("cleanup outbox: %w", err)
	}
	return tag.RowsAffected(), nil
}

// OutboxStats summarizes the outbox
type OutboxStats struct {
	Pending       int64      `json:"pending"`
	Processed     int64      `json:"processed_24h"`
	Failed        int64      `json:"failed"`
	OldestPending *time.Time `json:"oldest_pending,omitempty"`
}

// Stats returns current outbox counts
func (o *Outbox) Stats(ctx context.Context) (OutboxStats, error) {
	var st OutboxStats
	err := o.db.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE processed_at IS NULL AND retry_count < $1),
			count(*) FILTER (WHERE processed_at > now() - INTERVAL '24 hours'),
			count(*) FILTER (WHERE processed_at IS NULL AND retry_count >= $1),
			min(created_at) FILTER (WHERE processed_at IS NULL)
		FROM record_outbox`, o.config.MaxRetries,
	).Scan(&st.Pending, &st.Processed, &st.Failed, &st.OldestPending)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return st, fmt.Errorf("outbox stats: %w", err)
	}
	return st, nil
}
