package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
	"github.com/carebridge/portal-timeline/internal/infrastructure/redpanda"
)

type countingGauge struct {
	mu      sync.Mutex
	created int
	closed  int
	expired int
}

func (g *countingGauge) SessionCreated() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.created++
}

func (g *countingGauge) SessionClosed(expired bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.closed++
	if expired {
		g.expired++
	}
}

func testSet(t *testing.T) record.Set {
	t.Helper()
	set, _ := record.NormalizeAll(portalRecords())
	return set
}

func TestSessionStoreLifecycle(t *testing.T) {
	gauge := &countingGauge{}
	store := NewSessionStore(timeline.DefaultConfig(), time.Hour, gauge, nil)

	e := store.Create(patientID, testSet(t))
	got, err := store.Get(e.ID)
	require.NoError(t, err)
	assert.Same(t, e, got)

	_, err = e.Session.Toggle(record.CategoryMedication, "m1")
	require.NoError(t, err)

	require.NoError(t, store.Delete(e.ID))
	assert.Equal(t, 0, e.Session.Snapshot().Len())
	assert.ErrorIs(t, store.Delete(e.ID), ErrSessionNotFound)
	_, err = store.Get(e.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	assert.Equal(t, 1, gauge.created)
	assert.Equal(t, 1, gauge.closed)
	assert.Equal(t, 0, gauge.expired)
}

func TestSessionStoreSweep(t *testing.T) {
	gauge := &countingGauge{}
	store := NewSessionStore(timeline.DefaultConfig(), 10*time.Minute, gauge, nil)
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	idle := store.Create(patientID, testSet(t))
	active := store.Create(patientID, testSet(t))

	now = now.Add(8 * time.Minute)
	_, err := store.Get(active.ID)
	require.NoError(t, err)

	now = now.Add(5 * time.Minute)
	assert.Equal(t, 1, store.Sweep())
	assert.Equal(t, 1, store.Len())

	_, err = store.Get(idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = store.Get(active.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, gauge.expired)
}

func TestSessionStoreRunSweeperStops(t *testing.T) {
	store := NewSessionStore(timeline.DefaultConfig(), time.Nanosecond, nil, nil)
	store.Create(patientID, testSet(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		store.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSessionStoreApplyChange(t *testing.T) {
	store := NewSessionStore(timeline.DefaultConfig(), time.Hour, nil, nil)
	a := store.Create(patientID, testSet(t))
	b := store.Create(patientID, testSet(t))
	other := store.Create("someone-else", testSet(t))

	imaging, _ := record.Normalize(record.CategoryImaging, []record.Raw{{ID: "x1", StartDate: "2022-05-01"}})
	updated, err := store.ApplyChange(patientID, record.CategoryImaging, imaging)
	require.NoError(t, err)
	require.Len(t, updated, 2)
	assert.ElementsMatch(t, []string{a.ID, b.ID}, []string{updated[0].ID, updated[1].ID})

	assert.Len(t, a.Session.Records().Records(record.CategoryImaging), 1)
	assert.Empty(t, other.Session.Records().Records(record.CategoryImaging))
	assert.Equal(t, 2, a.Session.Version())
	assert.Equal(t, 1, other.Session.Version())

	_, err = store.ApplyChange(patientID, record.Category("vitals"), nil)
	assert.ErrorIs(t, err, record.ErrUnknownCategory)
}

func TestApplyRecordChangePublishes(t *testing.T) {
	s := newTestServer(t, nil)
	id := createSession(t, s).SessionID
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/records/medication/m1/toggle", nil).Code)

	ev := redpanda.NewRecordChange(patientID, record.CategoryMedication, []record.Raw{
		{ID: "m1", Title: "Lisinopril", StartDate: "2022-01-15", EndDate: "2022-08-01"},
	})
	require.NoError(t, s.handler.ApplyRecordChange(context.Background(), ev))

	events := s.publisher.all()
	require.Len(t, events, 2)
	last := events[1]
	assert.Equal(t, CauseRecordsChanged, last.Cause)
	assert.Equal(t, id, last.SessionID)
	assert.Equal(t, 3, last.Version)
	assert.Equal(t, 1, last.Placements)

	e, err := s.store.Get(id)
	require.NoError(t, err)
	p, ok := e.Session.View().Placement(record.KeyOf(record.CategoryMedication, "m1"))
	require.True(t, ok)
	assert.Equal(t, 2, p.StartColumn)
	assert.Equal(t, 10, p.EndColumn)
}

func TestApplyRecordChangeWithoutSessions(t *testing.T) {
	s := newTestServer(t, nil)
	ev := redpanda.NewRecordChange("nobody", record.CategoryImaging, nil)
	require.NoError(t, s.handler.ApplyRecordChange(context.Background(), ev))
	assert.Empty(t, s.publisher.all())
}

func TestHealthHandler(t *testing.T) {
	h := NewHealthHandler("timeline-api", "test", map[string]Check{
		"redis": func(context.Context) error { return nil },
	})
	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"healthy","service":"timeline-api","version":"test"}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	h.checks["kafka"] = func(context.Context) error { return errors.New("no brokers") }
	rec = httptest.NewRecorder()
	h.Ready(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"ready":false,"checks":{"kafka":"no brokers","redis":"ok"}}`, rec.Body.String())
}
