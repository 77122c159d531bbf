package portalapi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/pkg/circuitbreaker"
	"github.com/carebridge/portal-timeline/pkg/workerpool"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.Token = "secret"
	cfg.Timeout = time.Second
	cfg.Breaker.ConsecutiveFailures = 2
	cfg.Breaker.Timeout = time.Minute
	return New(cfg, nil)
}

func TestFetch_BareArray(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/p1/medications", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id": 1, "title": "Lisinopril", "startDate": "2022-01-15", "diagnosis": [{"id": "D1"}]}]`))
	})

	raws, err := c.Fetch(context.Background(), "p1", record.CategoryMedication)

	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, record.ID("1"), raws[0].ID)
	assert.Equal(t, record.ID("D1"), raws[0].Diagnosis[0].ID)
}

func TestFetch_Envelope(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/patients/p1/timeline", r.URL.Path)
		_, _ = w.Write([]byte(`{"data": [{"id": "s1", "name": "Headache", "date": "2023-03-03"}]}`))
	})

	raws, err := c.Fetch(context.Background(), "p1", record.CategoryLifestyle)

	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "Headache", raws[0].Name)
}

func TestFetch_ClientErrorIsPermanent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such patient", http.StatusNotFound)
	})

	_, err := c.Fetch(context.Background(), "nobody", record.CategoryImaging)

	var serr *StatusError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, http.StatusNotFound, serr.Status)
	assert.True(t, workerpool.IsPermanent(err))
}

func TestFetch_ServerErrorsTripBreaker(t *testing.T) {
	var hits int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusBadGateway)
	})
	ctx := context.Background()

	_, err := c.Fetch(ctx, "p1", record.CategoryAppointment)
	assert.False(t, workerpool.IsPermanent(err))
	_, err = c.Fetch(ctx, "p1", record.CategoryAppointment)
	require.Error(t, err)

	_, err = c.Fetch(ctx, "p1", record.CategoryAppointment)
	assert.True(t, workerpool.IsPermanent(err))
	assert.Equal(t, int32(2), atomic.LoadInt32(&hits))
	assert.Equal(t, circuitbreaker.StateOpen, c.BreakerStates()["appointments"])

	_, err = c.Fetch(ctx, "p1", record.CategoryDiagnosis)
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestDecodeCollection(t *testing.T) {
	raws, err := decodeCollection([]byte("  null "))
	require.NoError(t, err)
	assert.Nil(t, raws)

	_, err = decodeCollection([]byte("<html>"))
	assert.Error(t, err)
}
