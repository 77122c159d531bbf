// Package circuitbreaker guards calls to the portal's record endpoints.
// It wraps sony/gobreaker and reports through OpenTelemetry.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half-open"
)

// Config holds circuit breaker configuration
type Config struct {
	Name string
	// MaxRequests is max requests allowed in half-open state
	MaxRequests uint32
	// Interval clears the closed-state counts
	Interval time.Duration
	// Timeout is how long the circuit stays open
	Timeout time.Duration
	// ConsecutiveFailures trips the breaker
	ConsecutiveFailures uint32
}

// DefaultConfig returns defaults for one portal endpoint
func DefaultConfig(name string) Config {
	return Config{
		Name:                name,
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             15 * time.Second,
		ConsecutiveFailures: 5,
	}
}

// Rejected reports whether err came from an open or saturated breaker
func Rejected(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}

// CircuitBreaker wraps gobreaker with tracing and counters
type CircuitBreaker struct {
	cb     *gobreaker.CircuitBreaker
	name   string
	logger *zap.Logger
	tracer trace.Tracer

	calls    metric.Int64Counter
	rejected metric.Int64Counter

	mu    sync.RWMutex
	state State
}

// New creates a new circuit breaker
func New(cfg Config, logger *zap.Logger) (*CircuitBreaker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ConsecutiveFailures == 0 {
		cfg.ConsecutiveFailures = DefaultConfig(cfg.Name).ConsecutiveFailures
	}

	c := &CircuitBreaker{
		name:   cfg.Name,
		logger: logger,
		tracer: otel.Tracer("portal-timeline/circuitbreaker"),
		state:  StateClosed,
	}

	meter := otel.Meter("portal-timeline/circuitbreaker")
	var err error
	if c.calls, err = meter.Int64Counter("timeline_breaker_calls_total",
		metric.WithDescription("Calls through the breaker by outcome")); err != nil {
		return nil, fmt.Errorf("create calls counter: %w", err)
	}
	if c.rejected, err = meter.Int64Counter("timeline_breaker_rejected_total",
		metric.WithDescription("Calls rejected while the circuit was open")); err != nil {
		return nil, fmt.Errorf("create rejected counter: %w", err)
	}

	threshold := cfg.ConsecutiveFailures
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(_ string, from, to gobreaker.State) {
			c.setState(mapState(from), mapState(to))
		},
		IsSuccessful: func(err error) bool {
			// cancellation is not an endpoint failure
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return c, nil
}

// Execute runs fn through the breaker
func (c *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, span := c.tracer.Start(ctx, "breaker "+c.name,
		trace.WithAttributes(attribute.String("breaker.state", string(c.State()))))
	defer span.End()

	attrs := metric.WithAttributes(attribute.String("breaker", c.name))
	_, err := c.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	switch {
	case err == nil:
		c.calls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", "success")))
	case Rejected(err):
		c.rejected.Add(ctx, 1, attrs)
		span.SetAttributes(attribute.Bool("breaker.open", true))
		span.RecordError(err)
	default:
		c.calls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("outcome", "failure")))
		span.RecordError(err)
	}
	return err
}

// State returns the current circuit breaker state
func (c *CircuitBreaker) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Name returns the breaker name
func (c *CircuitBreaker) Name() string { return c.name }

func (c *CircuitBreaker) setState(from, to State) {
	c.mu.Lock()
	c.state = to
	c.mu.Unlock()

	c.logger.Warn("circuit breaker state changed",
		zap.String("breaker", c.name),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
}

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Set holds one breaker per endpoint
type Set struct {
	mu       sync.Mutex
	base     Config
	breakers map[string]*CircuitBreaker
	logger   *zap.Logger
}

// NewSet creates breakers lazily from base
func NewSet(base Config, logger *zap.Logger) *Set {
	return &Set{base: base, breakers: make(map[string]*CircuitBreaker), logger: logger}
}

// For returns the breaker for name, creating it on first use
func (s *Set) For(name string) (*CircuitBreaker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb, nil
	}
	cfg := s.base
	cfg.Name = name
	cb, err := New(cfg, s.logger)
	if err != nil {
		return nil, err
	}
	s.breakers[name] = cb
	return cb, nil
}

// States returns the state of every breaker created so far
func (s *Set) States() map[string]State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]State, len(s.breakers))
	for name, cb := range s.breakers {
		out[name] = cb.State()
	}
	return out
}
