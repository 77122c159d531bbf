// Package portalapi fetches record collections from the portal REST API.
package portalapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/pkg/circuitbreaker"
	"github.com/carebridge/portal-timeline/pkg/workerpool"
)

// Config holds portal API settings
type Config struct {
	BaseURL string
	// Token is forwarded as a bearer token; the portal authenticates it
	Token   string
	Timeout time.Duration
	Breaker circuitbreaker.Config
}

// DefaultConfig returns portal client defaults
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8000/api",
		Timeout: 10 * time.Second,
		Breaker: circuitbreaker.DefaultConfig("portal"),
	}
}

// StatusError is a non-2xx answer from the portal
type StatusError struct {
	Category record.Category
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("portal returned %d for %s: %s", e.Status, e.Category.Plural(), e.Body)
}

// Client fetches one category per call, each category behind its own breaker
type Client struct {
	http     *resty.Client
	breakers *circuitbreaker.Set
	logger   *zap.Logger
	tracer   trace.Tracer
}

// New creates a portal client
func New(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	hc := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Accept", "application/json")
	if cfg.Token != "" {
		hc.SetAuthToken(cfg.Token)
	}

	return &Client{
		http:     hc,
		breakers: circuitbreaker.NewSet(cfg.Breaker, logger),
		logger:   logger,
		tracer:   otel.Tracer("portal-timeline/portalapi"),
	}
}

// Fetch implements loader.Source against GET /patients/{patientId}/{collection}
func (c *Client) Fetch(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error) {
	ctx, span := c.tracer.Start(ctx, "portal.fetch "+cat.Plural(),
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("record.category", string(cat))))
	defer span.End()

	cb, err := c.breakers.For(cat.Plural())
	if err != nil {
		return nil, err
	}

	var raws []record.Raw
	err = cb.Execute(ctx, func(ctx context.Context) error {
		var ferr error
		raws, ferr = c.get(ctx, patientID, cat)
		return ferr
	})
	if err != nil {
		span.RecordError(err)
		if circuitbreaker.Rejected(err) {
			return nil, workerpool.Permanent(fmt.Errorf("%s endpoint unavailable: %w", cat.Plural(), err))
		}
		return nil, err
	}
	span.SetAttributes(attribute.Int("record.count", len(raws)))
	return raws, nil
}

func (c *Client) get(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error) {
	req := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{"patientId": patientID, "collection": cat.Plural()})
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := req.Get("/patients/{patientId}/{collection}")
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", cat.Plural(), err)
	}
	if resp.IsError() {
		serr := &StatusError{Category: cat, Status: resp.StatusCode(), Body: truncate(resp.String(), 200)}
		if retryable(resp.StatusCode()) {
			return nil, serr
		}
		return nil, workerpool.Permanent(serr)
	}

	raws, err := decodeCollection(resp.Body())
	if err != nil {
		return nil, workerpool.Permanent(fmt.Errorf("decode %s: %w", cat.Plural(), err))
	}
	c.logger.Debug("portal collection fetched",
		zap.String("patient_id", patientID),
		zap.String("collection", cat.Plural()),
		zap.Int("count", len(raws)))
	return raws, nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

// decodeCollection accepts a bare array or an object with a data array
func decodeCollection(body []byte) ([]record.Raw, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}
	if body[0] == '[' {
		var raws []record.Raw
		if err := json.Unmarshal(body, &raws); err != nil {
			return nil, err
		}
		return raws, nil
	}
	var envelope struct {
		Data []record.Raw `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// BreakerStates reports the breaker state per collection
func (c *Client) BreakerStates() map[string]circuitbreaker.State {
	return c.breakers.States()
}
