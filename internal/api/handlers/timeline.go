// Package handlers provides HTTP handlers for the timeline API.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/api/middleware"
	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
	fhir "github.com/carebridge/portal-timeline/internal/fhir/r5"
	"github.com/carebridge/portal-timeline/internal/infrastructure/redpanda"
	"github.com/carebridge/portal-timeline/internal/loader"
	"github.com/carebridge/portal-timeline/internal/render"
)

const maxBodyBytes = 8 << 20

var errBadRequest = errors.New("bad request")

// RecordLoader loads the six record collections of a patient
type RecordLoader interface {
	Load(ctx context.Context, patientID string) (loader.Result, error)
}

// ViewPublisher announces recomputed views
type ViewPublisher interface {
	PublishViewUpdated(ctx context.Context, ev redpanda.ViewUpdated) error
}

// ControlObserver receives one call per applied control
type ControlObserver interface {
	ObserveControl(control string, d time.Duration, placements int)
}

// TimelineHandler maps each user control to one session operation
type TimelineHandler struct {
	store     *SessionStore
	loader    RecordLoader
	render    render.Config
	publisher ViewPublisher
	observer  ControlObserver
	logger    *zap.Logger
	tracer    trace.Tracer
}

// NewTimelineHandler creates a new handler. publisher and observer may be nil.
func NewTimelineHandler(store *SessionStore, ld RecordLoader, renderCfg render.Config,
	publisher ViewPublisher, observer ControlObserver, logger *zap.Logger) *TimelineHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimelineHandler{
		store:     store,
		loader:    ld,
		render:    renderCfg,
		publisher: publisher,
		observer:  observer,
		logger:    logger,
		tracer:    otel.Tracer("portal-timeline/handlers"),
	}
}

// Routes returns the session routes
func (h *TimelineHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Create)
	r.Post("/fhir", h.CreateFromBundle)
	r.Route("/{sessionID}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Delete("/", h.Delete)
		r.Post("/reset", h.control("reset", h.reset))
		r.Post("/records/{category}/{recordID}/toggle", h.control("toggle", h.toggle))
		r.Post("/diagnoses/{recordID}/toggle", h.control("toggle_diagnosis", h.toggleDiagnosis))
		r.Post("/categories/{category}/select-all", h.control("select_all", h.selectAll))
		r.Post("/categories/{category}/toggle-open", h.control("toggle_open", h.toggleOpen))
		r.Put("/collections/{category}", h.control("set_collection", h.setCollection))
		r.Get("/render.svg", h.SVG)
		r.Get("/export.xlsx", h.XLSX)
	})
	return r
}

// ViewResponse is the body returned by every session endpoint
type ViewResponse struct {
	SessionID string        `json:"sessionId"`
	PatientID string        `json:"patientId"`
	Version   int           `json:"version"`
	View      timeline.View `json:"view"`
}

// CreateRequest is the request body for opening a session
type CreateRequest struct {
	PatientID string `json:"patientId"`
}

// CreateResponse is the response for a new session
type CreateResponse struct {
	ViewResponse
	FailedCategories []record.Category                         `json:"failedCategories,omitempty"`
	Normalization    map[record.Category]record.NormalizeStats `json:"normalization,omitempty"`
	Import           *fhir.ImportReport                        `json:"import,omitempty"`
}

// SelectAllRequest is the body of the select-all control
type SelectAllRequest struct {
	Selected *bool `json:"selected"`
}

// Create handles POST /sessions
func (h *TimelineHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "create_session")
	defer span.End()

	var req CreateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PatientID == "" {
		h.jsonError(w, "patientId is required", http.StatusBadRequest)
		return
	}
	span.SetAttributes(attribute.String("patient_id", req.PatientID))

	res, err := h.loader.Load(ctx, req.PatientID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		h.logger.Error("load patient records failed",
			zap.String("patient_id", req.PatientID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
		h.jsonError(w, "patient records unavailable", http.StatusBadGateway)
		return
	}

	e := h.store.Create(req.PatientID, res.Set)
	resp := CreateResponse{
		ViewResponse:  viewResponse(e, e.Session.View()),
		Normalization: res.Stats,
	}
	for _, cat := range record.Categories {
		if _, failed := res.Failed[cat]; failed {
			resp.FailedCategories = append(resp.FailedCategories, cat)
		}
	}
	span.SetAttributes(attribute.String("session_id", e.ID))
	h.writeJSON(w, http.StatusCreated, resp)
}

// CreateFromBundle handles POST /sessions/fhir with a FHIR R5 Bundle body
func (h *TimelineHandler) CreateFromBundle(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "create_session_from_bundle")
	defer span.End()

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fhirError(w, "invalid", "could not read request body", http.StatusBadRequest)
		return
	}
	bundle, err := fhir.DecodeBundle(body)
	if err != nil {
		h.fhirError(w, "invalid", err.Error(), http.StatusBadRequest)
		return
	}
	collections, report, err := fhir.ToCollections(bundle)
	if err != nil {
		h.fhirError(w, "processing", err.Error(), http.StatusUnprocessableEntity)
		return
	}

	patientID := r.URL.Query().Get("patientId")
	if patientID == "" {
		patientID = bundle.PatientID()
	}
	if patientID == "" {
		h.fhirError(w, "required", "patientId query parameter or a Patient entry is required", http.StatusBadRequest)
		return
	}

	set, stats := record.NormalizeAll(collections)
	e := h.store.Create(patientID, set)
	span.SetAttributes(attribute.String("session_id", e.ID), attribute.String("patient_id", patientID))

	h.writeJSON(w, http.StatusCreated, CreateResponse{
		ViewResponse:  viewResponse(e, e.Session.View()),
		Normalization: stats,
		Import:        &report,
	})
}

// Get handles GET /sessions/{sessionID}
func (h *TimelineHandler) Get(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, viewResponse(e, e.Session.View()))
}

// Delete handles DELETE /sessions/{sessionID}; leaving the page discards the working set
func (h *TimelineHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Delete(chi.URLParam(r, "sessionID")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SVG handles GET /sessions/{sessionID}/render.svg
func (h *TimelineHandler) SVG(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "image/svg+xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, render.SVG(e.Session.View(), h.render))
}

// XLSX handles GET /sessions/{sessionID}/export.xlsx
func (h *TimelineHandler) XLSX(w http.ResponseWriter, r *http.Request) {
	e, err := h.store.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	var buf bytes.Buffer
	if err := render.XLSX(e.Session.View(), h.render, &buf); err != nil {
		h.logger.Error("xlsx export failed", zap.String("session_id", e.ID), zap.Error(err))
		h.jsonError(w, "export failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="timeline-%s.xlsx"`, e.PatientID))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

type controlFunc func(r *http.Request, s *timeline.Session) (timeline.View, error)

// control applies one operation to the session, then reports and returns the new view
func (h *TimelineHandler) control(name string, fn controlFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, span := h.tracer.Start(r.Context(), "control."+name)
		defer span.End()

		e, err := h.store.Get(chi.URLParam(r, "sessionID"))
		if err != nil {
			h.writeError(w, err)
			return
		}
		span.SetAttributes(attribute.String("session_id", e.ID))

		start := time.Now()
		v, err := fn(r.WithContext(ctx), e.Session)
		if err != nil {
			span.RecordError(err)
			h.writeError(w, err)
			return
		}
		if h.observer != nil {
			h.observer.ObserveControl(name, time.Since(start), len(v.Placements))
		}
		span.SetAttributes(attribute.Int("placements", len(v.Placements)), attribute.Bool("empty", v.Empty))

		resp := viewResponse(e, v)
		h.publish(ctx, e, resp.Version, name, v)
		h.writeJSON(w, http.StatusOK, resp)
	}
}

func (h *TimelineHandler) reset(_ *http.Request, s *timeline.Session) (timeline.View, error) {
	return s.Reset(), nil
}

func (h *TimelineHandler) toggle(r *http.Request, s *timeline.Session) (timeline.View, error) {
	cat, err := record.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		return timeline.View{}, err
	}
	return s.Toggle(cat, record.ID(chi.URLParam(r, "recordID")))
}

func (h *TimelineHandler) toggleDiagnosis(r *http.Request, s *timeline.Session) (timeline.View, error) {
	return s.ToggleDiagnosis(record.ID(chi.URLParam(r, "recordID")))
}

func (h *TimelineHandler) selectAll(r *http.Request, s *timeline.Session) (timeline.View, error) {
	cat, err := record.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		return timeline.View{}, err
	}
	var req SelectAllRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req); err != nil || req.Selected == nil {
		return timeline.View{}, fmt.Errorf("%w: body must be {\"selected\": true|false}", errBadRequest)
	}
	return s.ToggleAll(cat, *req.Selected)
}

func (h *TimelineHandler) toggleOpen(r *http.Request, s *timeline.Session) (timeline.View, error) {
	cat, err := record.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		return timeline.View{}, err
	}
	return s.ToggleOpen(cat)
}

func (h *TimelineHandler) setCollection(r *http.Request, s *timeline.Session) (timeline.View, error) {
	cat, err := record.ParseCategory(chi.URLParam(r, "category"))
	if err != nil {
		return timeline.View{}, err
	}
	var raws []record.Raw
	if err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&raws); err != nil {
		return timeline.View{}, fmt.Errorf("%w: body must be a JSON array of records", errBadRequest)
	}
	recs, stats := record.Normalize(cat, raws)
	if stats.MissingID > 0 || stats.Duplicate > 0 {
		h.logger.Info("records dropped during normalization",
			zap.String("category", string(cat)),
			zap.Int("missing_id", stats.MissingID),
			zap.Int("duplicate", stats.Duplicate))
	}
	return s.SetCollection(cat, recs)
}

func (h *TimelineHandler) publish(ctx context.Context, e *Entry, version int, cause string, v timeline.View) {
	if h.publisher == nil {
		return
	}
	ev := redpanda.ViewUpdated{
		SessionID:  e.ID,
		PatientID:  e.PatientID,
		Version:    version,
		Cause:      cause,
		Buckets:    len(v.Buckets),
		Placements: len(v.Placements),
		Empty:      v.Empty,
	}
	if err := h.publisher.PublishViewUpdated(ctx, ev); err != nil {
		h.logger.Warn("publish view update failed",
			zap.String("session_id", e.ID),
			zap.String("cause", cause),
			zap.Error(err))
	}
}

func viewResponse(e *Entry, v timeline.View) ViewResponse {
	return ViewResponse{
		SessionID: e.ID,
		PatientID: e.PatientID,
		Version:   v.Version,
		View:      v,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, timeline.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, record.ErrUnknownCategory), errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *TimelineHandler) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		h.logger.Error("request failed", zap.Error(err))
		msg = "internal server error"
	}
	h.jsonError(w, msg, code)
}

func (h *TimelineHandler) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("encode response failed", zap.Error(err))
	}
}

func (h *TimelineHandler) jsonError(w http.ResponseWriter, message string, code int) {
	h.writeJSON(w, code, map[string]string{"error": message})
}

func (h *TimelineHandler) fhirError(w http.ResponseWriter, code, diagnostics string, status int) {
	w.Header().Set("Content-Type", "application/fhir+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(fhir.NewErrorOutcome(code, diagnostics))
}
