package redpanda

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ProducerConfig holds configuration for the event producer
type ProducerConfig struct {
	Brokers     []string
	LingerMS    int64
	Compression string
	MaxRetries  int
}

// DefaultProducerConfig returns defaults for view-update events
func DefaultProducerConfig() ProducerConfig {
	return ProducerConfig{
		Brokers:     []string{"localhost:9092"},
		LingerMS:    10,
		Compression: "lz4",
		MaxRetries:  3,
	}
}

// Producer publishes timeline events
type Producer struct {
	client *kgo.Client
	logger *zap.Logger
	tracer trace.Tracer

	sent   int64
	failed int64
}

// NewProducer creates a producer
func NewProducer(cfg ProducerConfig, logger *zap.Logger) (*Producer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ProducerLinger(time.Duration(cfg.LingerMS) * time.Millisecond),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, kgo.RecordRetries(cfg.MaxRetries))
	}
	switch cfg.Compression {
	case "lz4":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.Lz4Compression()))
	case "snappy":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.SnappyCompression()))
	case "zstd":
		opts = append(opts, kgo.ProducerBatchCompression(kgo.ZstdCompression()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Producer{client: client, logger: logger, tracer: otel.Tracer("portal-timeline/redpanda")}, nil
}

// Publish sends one message and waits for the broker acknowledgement
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) error {
	ctx, span := p.tracer.Start(ctx, "publish "+topic,
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", topic),
			attribute.Int("messaging.message.body.size", len(value)),
		))
	defer span.End()

	rec := &kgo.Record{Topic: topic, Key: []byte(key), Value: value}
	injectTraceHeaders(ctx, rec)

	if err := p.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		atomic.AddInt64(&p.failed, 1)
		span.RecordError(err)
		p.logger.Error("publish failed", zap.String("topic", topic), zap.String("key", key), zap.Error(err))
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	atomic.AddInt64(&p.sent, 1)
	return nil
}

// PublishViewUpdated sends ev keyed by patient so one patient's updates stay ordered
func (p *Producer) PublishViewUpdated(ctx context.Context, ev ViewUpdated) error {
	b, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encode view updated: %w", err)
	}
	return p.Publish(ctx, TopicViewUpdates, ev.PatientID, b)
}

// PublishRecordChange sends ev to the record-change topic
func (p *Producer) PublishRecordChange(ctx context.Context, ev RecordChange) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode record change: %w", err)
	}
	return p.Publish(ctx, TopicRecordChanges, ev.PatientID, b)
}

// Close flushes and closes the producer
func (p *Producer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.client.Flush(ctx); err != nil {
		p.logger.Warn("flush on close", zap.Error(err))
	}
	p.client.Close()
	return nil
}

// ProducerStats holds producer counters
type ProducerStats struct {
	Sent   int64
	Failed int64
}

// Stats returns current producer statistics
func (p *Producer) Stats() ProducerStats {
	return ProducerStats{Sent: atomic.LoadInt64(&p.sent), Failed: atomic.LoadInt64(&p.failed)}
}
