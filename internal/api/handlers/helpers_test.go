package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
	"github.com/carebridge/portal-timeline/internal/infrastructure/redpanda"
	"github.com/carebridge/portal-timeline/internal/loader"
	"github.com/carebridge/portal-timeline/internal/render"
	"github.com/carebridge/portal-timeline/pkg/workerpool"
)

const patientID = "p-100"

func portalRecords() record.Collections {
	return record.Collections{
		Diagnoses: []record.Raw{
			{ID: "d1", Title: "Hypertension", StartDate: "2022-01-10"},
			{ID: "d2", Title: "Type 2 diabetes", StartDate: "2021-06-01"},
		},
		Medications: []record.Raw{
			{ID: "m1", Title: "Lisinopril", StartDate: "2022-01-15", EndDate: "2022-03-10",
				Diagnosis: []record.DiagnosisRef{{ID: "d1"}}},
			{ID: "m2", Title: "Metformin", StartDate: "2021-07-01", DiagnosisIDs: []record.ID{"d2"}},
		},
		Interventions: []record.Raw{
			{ID: "i1", Title: "Low-salt diet", StartDate: "2022-02-01", DiagnosisID: "d1"},
		},
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []redpanda.ViewUpdated
}

func (p *fakePublisher) PublishViewUpdated(_ context.Context, ev redpanda.ViewUpdated) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *fakePublisher) all() []redpanda.ViewUpdated {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]redpanda.ViewUpdated(nil), p.events...)
}

type fakeObserver struct {
	mu       sync.Mutex
	controls []string
}

func (o *fakeObserver) ObserveControl(control string, _ time.Duration, _ int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.controls = append(o.controls, control)
}

type loaderFunc func(ctx context.Context, patientID string) (loader.Result, error)

func (f loaderFunc) Load(ctx context.Context, patientID string) (loader.Result, error) {
	return f(ctx, patientID)
}

type testServer struct {
	router    chi.Router
	handler   *TimelineHandler
	store     *SessionStore
	publisher *fakePublisher
	observer  *fakeObserver
}

func newTestServer(t *testing.T, ld RecordLoader) *testServer {
	t.Helper()
	if ld == nil {
		src := loader.NewMemorySource()
		src.Put(patientID, portalRecords())
		ld = loader.New(src, workerpool.New(workerpool.Config{Workers: 2}, nil), nil, nil)
	}
	store := NewSessionStore(timeline.DefaultConfig(), time.Hour, nil, nil)
	pub := &fakePublisher{}
	obs := &fakeObserver{}
	h := NewTimelineHandler(store, ld, render.DefaultConfig(), pub, obs, nil)

	r := chi.NewRouter()
	r.Mount("/api/v1/sessions", h.Routes())
	return &testServer{router: r, handler: h, store: store, publisher: pub, observer: obs}
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

type placementBody struct {
	Record struct {
		ID       string `json:"id"`
		Category string `json:"category"`
	} `json:"record"`
	StartColumn int    `json:"startColumn"`
	EndColumn   int    `json:"endColumn"`
	ColorClass  string `json:"colorClass"`
}

type panelBody struct {
	Category string `json:"category"`
	Open     bool   `json:"open"`
	Items    []struct {
		Record struct {
			ID string `json:"id"`
		} `json:"record"`
		Selected bool `json:"selected"`
	} `json:"items"`
	AllSelected bool `json:"allSelected"`
	Hidden      int  `json:"hidden"`
}

type viewBody struct {
	SessionID string `json:"sessionId"`
	PatientID string `json:"patientId"`
	Version   int    `json:"version"`
	View      struct {
		Empty   bool `json:"empty"`
		Buckets []struct {
			Label string `json:"label"`
		} `json:"buckets"`
		Placements         []placementBody `json:"placements"`
		Panels             []panelBody     `json:"panels"`
		DiagnosisSelection []string        `json:"diagnosisSelection"`
	} `json:"view"`
	FailedCategories []string       `json:"failedCategories"`
	Import           map[string]any `json:"import"`
}

func decodeView(t *testing.T, rec *httptest.ResponseRecorder) viewBody {
	t.Helper()
	var v viewBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func (v viewBody) panel(cat record.Category) panelBody {
	for _, p := range v.View.Panels {
		if p.Category == string(cat) {
			return p
		}
	}
	return panelBody{}
}

func (v viewBody) placementIDs() []string {
	ids := make([]string, 0, len(v.View.Placements))
	for _, p := range v.View.Placements {
		ids = append(ids, p.Record.Category+":"+p.Record.ID)
	}
	return ids
}
