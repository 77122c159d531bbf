// Package rediscache caches record collections in Redis in front of any loader.Source.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/loader"
)

// Config holds cache settings
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	TTL       time.Duration
}

// DefaultConfig returns cache defaults
func DefaultConfig() Config {
	return Config{
		Addr:      "localhost:6379",
		KeyPrefix: "timeline:records:",
		TTL:       5 * time.Minute,
	}
}

// NewClient creates a go-redis client from cfg
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Source is a read-through cache over another source
type Source struct {
	client *redis.Client
	next   loader.Source
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

var _ loader.Source = (*Source)(nil)

// New wraps next with a Redis cache
func New(client *redis.Client, next loader.Source, cfg Config, logger *zap.Logger) *Source {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = DefaultConfig().KeyPrefix
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	return &Source{client: client, next: next, prefix: cfg.KeyPrefix, ttl: cfg.TTL, logger: logger}
}

func (s *Source) key(patientID string, cat record.Category) string {
	return s.prefix + patientID + ":" + string(cat)
}

// Fetch serves from Redis when possible. Redis failures fall through to
// the wrapped source.
func (s *Source) Fetch(ctx context.Context, patientID string, cat record.Category) ([]record.Raw, error) {
	key := s.key(patientID, cat)

	val, err := s.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var raws []record.Raw
		if uerr := json.Unmarshal(val, &raws); uerr == nil {
			return raws, nil
		}
		s.logger.Warn("discarding corrupt cache entry", zap.String("key", key))
	case !errors.Is(err, redis.Nil):
		s.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	raws, err := s.next.Fetch(ctx, patientID, cat)
	if err != nil {
		return nil, err
	}

	b, err := json.Marshal(raws)
	if err != nil {
		return nil, fmt.Errorf("encode %s for cache: %w", cat.Plural(), err)
	}
	if err := s.client.Set(ctx, key, b, s.ttl).Err(); err != nil {
		s.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
	}
	return raws, nil
}

// Store writes raws to the cache directly, e.g. after a change event
func (s *Source) Store(ctx context.Context, patientID string, cat record.Category, raws []record.Raw) error {
	b, err := json.Marshal(raws)
	if err != nil {
		return fmt.Errorf("encode %s for cache: %w", cat.Plural(), err)
	}
	if err := s.client.Set(ctx, s.key(patientID, cat), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("cache %s: %w", cat.Plural(), err)
	}
	return nil
}

// Invalidate drops cached collections of a patient; no categories means all of them
func (s *Source) Invalidate(ctx context.Context, patientID string, cats ...record.Category) error {
	if len(cats) == 0 {
		cats = record.Categories
	}
	keys := make([]string, 0, len(cats))
	for _, c := range cats {
		keys = append(keys, s.key(patientID, c))
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("invalidate patient %s: %w", patientID, err)
	}
	return nil
}

// Ping checks connectivity
func (s *Source) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
