package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scanInto(vals []any, dest []any) error {
	if len(vals) != len(dest) {
		return fmt.Errorf("scan: %d values into %d targets", len(vals), len(dest))
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if vals[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(vals[i]))
	}
	return nil
}

type fakeRow struct {
	vals []any
	err  error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return scanInto(r.vals, dest)
}

type fakeRows struct {
	pgx.Rows
	data [][]any
	pos  int
}

func (r *fakeRows) Next() bool {
	r.pos++
	return r.pos <= len(r.data)
}

func (r *fakeRows) Scan(dest ...any) error { return scanInto(r.data[r.pos-1], dest) }
func (r *fakeRows) Err() error             { return nil }
func (r *fakeRows) Close()                 {}

// fakeTx records statements; unimplemented pgx.Tx methods panic
type fakeTx struct {
	pgx.Tx
	execs      []execCall
	execErr    error
	row        fakeRow
	rows       [][]any
	queryErr   error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	return pgconn.NewCommandTag("UPDATE 1"), t.execErr
}

func (t *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	return t.row
}

func (t *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if t.queryErr != nil {
		return nil, t.queryErr
	}
	return &fakeRows{data: t.rows}, nil
}

func (t *fakeTx) Commit(ctx context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(ctx context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type published struct {
	topic, key string
	value      []byte
}

type fakePublisher struct {
	sent []published
	fail map[string]error
}

func (p *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := p.fail[key]; err != nil {
		return err
	}
	p.sent = append(p.sent, published{topic: topic, key: key, value: value})
	return nil
}

func outboxRow(id int64, patientID string, retries int) []any {
	return []any{
		id, patientID, "medication", "records_changed",
		json.RawMessage(`{"patient_id":"` + patientID + `"}`),
		"patient.records.changed", patientID,
		time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), retries, nil,
	}
}

func TestProcessBatchPublishesAndMarks(t *testing.T) {
	tx := &fakeTx{rows: [][]any{outboxRow(1, "p1", 0), outboxRow(2, "p2", 0)}}
	pub := &fakePublisher{}
	o := NewOutbox(&fakeDB{tx: tx}, pub, DefaultOutboxConfig(), nil)

	sent, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	require.Len(t, pub.sent, 2)
	assert.Equal(t, "patient.records.changed", pub.sent[0].topic)
	assert.Equal(t, "p1", pub.sent[0].key)
	assert.JSONEq(t, `{"patient_id":"p1"}`, string(pub.sent[0].value))

	require.Len(t, tx.execs, 2)
	assert.Contains(t, tx.execs[0].sql, "processed_at = now()")
	assert.Equal(t, []any{int64(1)}, tx.execs[0].args)
	assert.True(t, tx.committed)
}

func TestProcessBatchRecordsFailures(t *testing.T) {
	tx := &fakeTx{rows: [][]any{outboxRow(1, "p1", 0), outboxRow(2, "p2", 3)}}
	pub := &fakePublisher{fail: map[string]error{"p2": errors.New("broker unavailable")}}
	o := NewOutbox(&fakeDB{tx: tx}, pub, DefaultOutboxConfig(), nil)

	sent, err := o.ProcessBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	require.Len(t, tx.execs, 2)
	assert.Contains(t, tx.execs[1].sql, "retry_count = retry_count + 1")
	assert.Equal(t, []any{"broker unavailable", int64(2)}, tx.execs[1].args)
	assert.True(t, tx.committed)
}

func TestProcessBatchEmptyAndErrors(t *testing.T) {
	ctx := context.Background()

	tx := &fakeTx{}
	sent, err := NewOutbox(&fakeDB{tx: tx}, &fakePublisher{}, OutboxConfig{}, nil).ProcessBatch(ctx)
	require.NoError(t, err)
	assert.Zero(t, sent)
	assert.False(t, tx.committed)

	boom := errors.New("too many connections")
	_, err = NewOutbox(&fakeDB{beginErr: boom}, &fakePublisher{}, OutboxConfig{}, nil).ProcessBatch(ctx)
	assert.ErrorIs(t, err, boom)

	tx = &fakeTx{queryErr: boom}
	_, err = NewOutbox(&fakeDB{tx: tx}, &fakePublisher{}, OutboxConfig{}, nil).ProcessBatch(ctx)
	assert.ErrorIs(t, err, boom)
	assert.True(t, tx.rolledBack)
}

func TestMoveToDeadLetter(t *testing.T) {
	tx := &fakeTx{rows: [][]any{outboxRow(7, "p1", 5)}}
	pub := &fakePublisher{}
	cfg := DefaultOutboxConfig()
	cfg.DeadLetterTopic = "dlq"
	o := NewOutbox(&fakeDB{tx: tx}, pub, cfg, nil)

	moved, err := o.MoveToDeadLetter(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	require.Len(t, pub.sent, 1)
	assert.Equal(t, "dlq", pub.sent[0].topic)
	var dl deadLetter
	require.NoError(t, json.Unmarshal(pub.sent[0].value, &dl))
	assert.Equal(t, "patient.records.changed", dl.OriginalTopic)
	assert.Equal(t, 5, dl.RetryCount)
	assert.JSONEq(t, `{"patient_id":"p1"}`, string(dl.Payload))
	assert.Equal(t, []any{int64(7)}, tx.execs[0].args)
	assert.True(t, tx.committed)
}

func TestWriteEntryWrapsScanError(t *testing.T) {
	boom := errors.New("relation does not exist")
	err := WriteEntry(context.Background(), &fakeTx{row: fakeRow{err: boom}}, &OutboxEntry{})
	assert.ErrorIs(t, err, boom)
}

func TestCleanupAndStats(t *testing.T) {
	oldest := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	db := &fakeDB{row: fakeRow{vals: []any{int64(4), int64(10), int64(1), &oldest}}}
	o := NewOutbox(db, &fakePublisher{}, DefaultOutboxConfig(), nil)
	ctx := context.Background()

	removed, err := o.CleanupProcessed(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	require.Len(t, db.execs, 1)
	assert.Equal(t, []any{float64(72 * 3600)}, db.execs[0].args)

	st, err := o.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(4), st.Pending)
	assert.Equal(t, int64(10), st.Processed)
	assert.Equal(t, int64(1), st.Failed)
	require.NotNil(t, st.OldestPending)
	assert.True(t, st.OldestPending.Equal(oldest))
}
