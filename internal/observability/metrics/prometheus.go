// Package metrics provides Prometheus metrics for the timeline service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/pkg/circuitbreaker"
)

// Metrics holds all application metrics
type Metrics struct {
	SessionsActive    prometheus.Gauge
	SessionsCreated   prometheus.Counter
	SessionsExpired   prometheus.Counter
	Controls          *prometheus.CounterVec
	RecomputeDuration prometheus.Histogram
	Placements        prometheus.Histogram
	RecordsDropped    *prometheus.CounterVec
	FetchDuration     *prometheus.HistogramVec
	EventsConsumed    *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
	BreakerState      *prometheus.GaugeVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New creates all metrics and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "timeline_sessions_active",
			Help: "Live timeline sessions",
		}),
		SessionsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_sessions_created_total",
			Help: "Timeline sessions created",
		}),
		SessionsExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "timeline_sessions_expired_total",
			Help: "Timeline sessions removed by the idle sweeper",
		}),
		Controls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_controls_total",
			Help: "User controls applied to sessions",
		}, []string{"control"}),
		RecomputeDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeline_recompute_duration_seconds",
			Help:    "Time spent recomputing a view",
			Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		}),
		Placements: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "timeline_view_placements",
			Help:    "Placements per computed view",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),
		RecordsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_records_dropped_total",
			Help: "Records dropped or left unplaceable during normalization",
		}, []string{"category", "reason"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timeline_fetch_duration_seconds",
			Help:    "Record collection fetch duration",
			Buckets: prometheus.DefBuckets,
		}, []string{"category", "outcome"}),
		EventsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_events_consumed_total",
			Help: "Record-change events consumed",
		}, []string{"outcome"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_events_published_total",
			Help: "View-updated events published",
		}, []string{"outcome"}),
		BreakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "timeline_breaker_state",
			Help: "Portal breaker state (0=closed, 1=open, 2=half-open)",
		}, []string{"name"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "timeline_http_requests_total",
			Help: "HTTP requests by route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "timeline_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.SessionsCreated,
		m.SessionsExpired,
		m.Controls,
		m.RecomputeDuration,
		m.Placements,
		m.RecordsDropped,
		m.FetchDuration,
		m.EventsConsumed,
		m.EventsPublished,
		m.BreakerState,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// ObserveFetch records one collection fetch
func (m *Metrics) ObserveFetch(cat record.Category, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.FetchDuration.WithLabelValues(string(cat), outcome).Observe(d.Seconds())
}

// ObserveNormalize records normalization drops
func (m *Metrics) ObserveNormalize(cat record.Category, s record.NormalizeStats) {
	if s.MissingID > 0 {
		m.RecordsDropped.WithLabelValues(string(cat), "missing_id").Add(float64(s.MissingID))
	}
	if s.Duplicate > 0 {
		m.RecordsDropped.WithLabelValues(string(cat), "duplicate").Add(float64(s.Duplicate))
	}
	if s.MissingStart > 0 {
		m.RecordsDropped.WithLabelValues(string(cat), "missing_start").Add(float64(s.MissingStart))
	}
}

// ObserveControl records one user control and the recompute it caused
func (m *Metrics) ObserveControl(control string, d time.Duration, placements int) {
	m.Controls.WithLabelValues(control).Inc()
	m.RecomputeDuration.Observe(d.Seconds())
	m.Placements.Observe(float64(placements))
}

// SessionCreated counts a new session
func (m *Metrics) SessionCreated() {
	m.SessionsCreated.Inc()
	m.SessionsActive.Inc()
}

// SessionClosed counts a session removed by the user or by expiry
func (m *Metrics) SessionClosed(expired bool) {
	m.SessionsActive.Dec()
	if expired {
		m.SessionsExpired.Inc()
	}
}

// ObserveEvent counts a consumed or published event
func (m *Metrics) ObserveEvent(published bool, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	if published {
		m.EventsPublished.WithLabelValues(outcome).Inc()
		return
	}
	m.EventsConsumed.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records one served request
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(d.Seconds())
}

// SetBreakerStates publishes breaker states as gauges
func (m *Metrics) SetBreakerStates(states map[string]circuitbreaker.State) {
	for name, st := range states {
		v := 0.0
		switch st {
		case circuitbreaker.StateOpen:
			v = 1
		case circuitbreaker.StateHalfOpen:
			v = 2
		}
		m.BreakerState.WithLabelValues(name).Set(v)
	}
}

// Handler returns the Prometheus HTTP handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
