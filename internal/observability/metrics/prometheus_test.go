package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/pkg/circuitbreaker"
)

func TestObserveNormalize(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveNormalize(record.CategoryImaging, record.NormalizeStats{MissingID: 2, MissingStart: 1})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("imaging", "missing_id")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("imaging", "missing_start")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.RecordsDropped.WithLabelValues("imaging", "duplicate")))
}

func TestObserveFetchAndBreakers(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ObserveFetch(record.CategoryMedication, 20*time.Millisecond, nil)
	m.ObserveFetch(record.CategoryMedication, time.Second, errors.New("boom"))
	m.SetBreakerStates(map[string]circuitbreaker.State{"medications": circuitbreaker.StateOpen})

	assert.Equal(t, 2, testutil.CollectAndCount(m.FetchDuration))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.BreakerState.WithLabelValues("medications")))
}

func TestHandlerServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.SessionsCreated.Inc()
	m.ObserveHTTP(http.MethodGet, "/api/v1/sessions/{id}", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "timeline_sessions_created_total 1")
	assert.Contains(t, rec.Body.String(), `route="/api/v1/sessions/{id}"`)
}

func TestNewPanicsOnDoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) })
}

func TestSessionAndControlCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.SessionCreated()
	m.SessionCreated()
	m.SessionClosed(true)
	m.ObserveControl("toggle", time.Millisecond, 3)
	m.ObserveEvent(true, nil)
	m.ObserveEvent(false, errors.New("bad payload"))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.SessionsCreated))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsExpired))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Controls.WithLabelValues("toggle")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsPublished.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsConsumed.WithLabelValues("error")))
}
