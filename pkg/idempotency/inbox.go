// Package idempotency guards event handlers against redelivered messages.
// Each message key is claimed in Redis before its handler runs and marked
// finished afterwards, so a message seen again within the TTL is skipped.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Status is the processing state stored for a key
type Status string

const (
	StatusStarted  Status = "STARTED"
	StatusFinished Status = "FINISHED"
)

// Config holds inbox settings
type Config struct {
	KeyPrefix string
	// TTL is how long a finished key is remembered
	TTL time.Duration
	// ClaimTTL bounds how long a crashed handler can hold a key
	ClaimTTL time.Duration
}

// DefaultConfig returns inbox defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix: "timeline:inbox:",
		TTL:       24 * time.Hour,
		ClaimTTL:  5 * time.Minute,
	}
}

// ErrDuplicateMessage indicates the message was already processed
var ErrDuplicateMessage = errors.New("duplicate message: already processed")

// ErrMessageInProgress indicates another handler holds the message
var ErrMessageInProgress = errors.New("message in progress by another handler")

// Inbox records which messages have been handled
type Inbox struct {
	client *redis.Client
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewInbox creates an inbox on client
func NewInbox(client *redis.Client, cfg Config, logger *zap.Logger) *Inbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = def.KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = def.TTL
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = def.ClaimTTL
	}
	return &Inbox{
		client: client,
		config: cfg,
		logger: logger,
		tracer: otel.Tracer("portal-timeline/idempotency"),
	}
}

// Process runs fn once per key. A failed fn releases the key so a
// redelivery can retry it. When Redis is unreachable fn runs unguarded.
func (i *Inbox) Process(ctx context.Context, key, handlerName string, fn func(ctx context.Context) error) error {
	ctx, span := i.tracer.Start(ctx, "inbox_process",
		trace.WithAttributes(
			attribute.String("idempotency_key", key),
			attribute.String("handler", handlerName),
		))
	defer span.End()

	redisKey := i.config.KeyPrefix + handlerName + ":" + key

	claimed, err := i.client.SetNX(ctx, redisKey, string(StatusStarted), i.config.ClaimTTL).Result()
	if err != nil {
		i.logger.Warn("inbox unavailable, processing without deduplication",
			zap.String("key", key), zap.Error(err))
		return i.run(ctx, span, fn)
	}

	if !claimed {
		status, err := i.client.Get(ctx, redisKey).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("read inbox entry: %w", err)
		}
		if Status(status) == StatusFinished {
			span.SetAttributes(attribute.Bool("duplicate", true))
			return ErrDuplicateMessage
		}
		return ErrMessageInProgress
	}

	if err := i.run(ctx, span, fn); err != nil {
		if delErr := i.client.Del(ctx, redisKey).Err(); delErr != nil {
			i.logger.Error("failed to release inbox entry", zap.String("key", key), zap.Error(delErr))
		}
		return err
	}

	if err := i.client.Set(ctx, redisKey, string(StatusFinished), i.config.TTL).Err(); err != nil {
		// the handler succeeded, only the marker is lost
		i.logger.Error("failed to mark inbox entry finished", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (i *Inbox) run(ctx context.Context, span trace.Span, fn func(ctx context.Context) error) error {
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// Status returns the stored state of key, or "" if it is unknown
func (i *Inbox) Status(ctx context.Context, key, handlerName string) (Status, error) {
	val, err := i.client.Get(ctx, i.config.KeyPrefix+handlerName+":"+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return Status(val), nil
}

// KeyFor returns eventID when set, otherwise a deterministic hash of parts
func KeyFor(eventID string, parts ...string) string {
	if eventID != "" {
		return eventID
	}
	hash := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(hash[:])
}
