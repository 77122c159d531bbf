// Package redpanda moves timeline events over Kafka-compatible brokers with franz-go.
package redpanda

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ConsumerConfig holds configuration for the record-change consumer
type ConsumerConfig struct {
	Brokers          []string
	GroupID          string
	Topics           []string
	SessionTimeoutMS int64
	// StartOffset is "earliest" or "latest"
	StartOffset string
	// DeadLetterTopic receives messages the handler rejected; empty disables it
	DeadLetterTopic string
}

// DefaultConsumerConfig returns defaults for the timeline service
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Brokers:          []string{"localhost:9092"},
		GroupID:          "portal-timeline",
		Topics:           []string{TopicRecordChanges},
		SessionTimeoutMS: 30000,
		StartOffset:      "latest",
		DeadLetterTopic:  TopicDeadLetter,
	}
}

// MessageHandler is called for each consumed message
type MessageHandler func(ctx context.Context, msg *ConsumedMessage) error

// ConsumedMessage is a message read from a topic
type ConsumedMessage struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Timestamp time.Time
}

// RecordChangeHandler decodes record-change events before calling fn
func RecordChangeHandler(fn func(ctx context.Context, ev RecordChange) error) MessageHandler {
	return func(ctx context.Context, msg *ConsumedMessage) error {
		ev, err := DecodeRecordChange(msg.Value)
		if err != nil {
			return err
		}
		return fn(ctx, ev)
	}
}

// Consumer reads messages in a consumer group and commits after handling
type Consumer struct {
	client  *kgo.Client
	config  ConsumerConfig
	logger  *zap.Logger
	tracer  trace.Tracer
	handler MessageHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.RWMutex
	handled      int64
	failed       int64
	deadLettered int64
}

// NewConsumer creates a consumer; call Start to begin polling
func NewConsumer(cfg ConsumerConfig, handler MessageHandler, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if handler == nil {
		return nil, errors.New("message handler is required")
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.OnPartitionsAssigned(func(_ context.Context, _ *kgo.Client, assigned map[string][]int32) {
			logger.Info("partitions assigned", zap.Any("partitions", assigned))
		}),
		kgo.OnPartitionsRevoked(func(_ context.Context, _ *kgo.Client, revoked map[string][]int32) {
			logger.Info("partitions revoked", zap.Any("partitions", revoked))
		}),
	}
	if cfg.SessionTimeoutMS > 0 {
		opts = append(opts, kgo.SessionTimeout(time.Duration(cfg.SessionTimeoutMS)*time.Millisecond))
	}
	if cfg.StartOffset == "earliest" {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()))
	} else {
		opts = append(opts, kgo.ConsumeResetOffset(kgo.NewOffset().AtEnd()))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Consumer{
		client:  client,
		config:  cfg,
		logger:  logger,
		tracer:  otel.Tracer("portal-timeline/redpanda"),
		handler: handler,
	}, nil
}

// Start begins consuming until ctx is cancelled or Stop is called
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.consumeLoop(ctx)
}

// Stop stops polling, commits what was handled and closes the client
func (c *Consumer) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.client.CommitUncommittedOffsets(ctx); err != nil {
		c.logger.Warn("commit offsets on stop", zap.Error(err))
	}
	c.client.Close()
	return nil
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.wg.Done()

	for ctx.Err() == nil {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) {
				return
			}
			c.logger.Error("fetch error",
				zap.String("topic", topic),
				zap.Int32("partition", partition),
				zap.Error(err))
		})
		fetches.EachRecord(func(rec *kgo.Record) {
			c.processRecord(ctx, rec)
		})
		if err := c.client.CommitUncommittedOffsets(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("commit offsets", zap.Error(err))
		}
	}
}

func (c *Consumer) processRecord(ctx context.Context, rec *kgo.Record) {
	ctx = extractTraceContext(ctx, rec)
	ctx, span := c.tracer.Start(ctx, "consume "+rec.Topic,
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination.name", rec.Topic),
			attribute.Int64("messaging.kafka.partition", int64(rec.Partition)),
			attribute.Int64("messaging.kafka.offset", rec.Offset),
		))
	defer span.End()

	msg := &ConsumedMessage{
		Topic:     rec.Topic,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Key:       rec.Key,
		Value:     rec.Value,
		Headers:   make(map[string]string, len(rec.Headers)),
		Timestamp: rec.Timestamp,
	}
	for _, h := range rec.Headers {
		msg.Headers[h.Key] = string(h.Value)
	}

	err := c.handler(ctx, msg)
	if err == nil {
		c.count(&c.handled)
		c.client.MarkCommitRecords(rec)
		return
	}

	span.RecordError(err)
	c.count(&c.failed)
	c.logger.Error("message handler failed",
		zap.String("topic", rec.Topic),
		zap.Int32("partition", rec.Partition),
		zap.Int64("offset", rec.Offset),
		zap.Error(err))

	if c.config.DeadLetterTopic == "" {
		return
	}
	dead := &kgo.Record{
		Topic:   c.config.DeadLetterTopic,
		Key:     rec.Key,
		Value:   rec.Value,
		Headers: append(append([]kgo.RecordHeader(nil), rec.Headers...), kgo.RecordHeader{Key: "error", Value: []byte(err.Error())}),
	}
	if perr := c.client.ProduceSync(ctx, dead).FirstErr(); perr != nil {
		c.logger.Error("dead letter produce failed", zap.Error(perr))
		return
	}
	c.count(&c.deadLettered)
	c.client.MarkCommitRecords(rec)
}

func (c *Consumer) count(n *int64) {
	c.mu.Lock()
	*n++
	c.mu.Unlock()
}

// ConsumerStats holds consumer counters
type ConsumerStats struct {
	Handled      int64
	Failed       int64
	DeadLettered int64
}

// Stats returns current consumer statistics
func (c *Consumer) Stats() ConsumerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ConsumerStats{Handled: c.handled, Failed: c.failed, DeadLettered: c.deadLettered}
}
