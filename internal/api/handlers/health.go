package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"
)

// Check reports whether one dependency is usable
type Check func(ctx context.Context) error

// HealthHandler serves liveness and readiness probes
type HealthHandler struct {
	service string
	version string
	checks  map[string]Check
	timeout time.Duration
}

// NewHealthHandler creates a health handler; checks gate readiness
func NewHealthHandler(service, version string, checks map[string]Check) *HealthHandler {
	return &HealthHandler{service: service, version: version, checks: checks, timeout: 2 * time.Second}
}

// Health handles GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": h.service,
		"version": h.version,
	})
}

// Ready handles GET /ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := http.StatusOK
	results := make(map[string]string, len(names))
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			results[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		results[name] = "ok"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"ready":  status == http.StatusOK,
		"checks": results,
	})
}
