package redpanda

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.uber.org/zap"
)

// Topic names used by the timeline service
const (
	TopicRecordChanges = "patient.records.changed"
	TopicViewUpdates   = "timeline.views.updated"
	TopicDeadLetter    = "timeline.dead.letter"
)

// TopicConfig holds configuration for a topic
type TopicConfig struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]*string
}

// DefaultTopicConfigs returns the topics the service expects to exist
func DefaultTopicConfigs() []TopicConfig {
	ptr := func(s string) *string { return &s }

	return []TopicConfig{
		{
			Name:              TopicRecordChanges,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":     ptr("86400000"),
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
		{
			Name:              TopicViewUpdates,
			Partitions:        6,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":     ptr("3600000"),
				"cleanup.policy":   ptr("delete"),
				"compression.type": ptr("lz4"),
			},
		},
		{
			Name:              TopicDeadLetter,
			Partitions:        1,
			ReplicationFactor: 1,
			Configs: map[string]*string{
				"retention.ms":   ptr("604800000"),
				"cleanup.policy": ptr("delete"),
			},
		},
	}
}

// Admin wraps kadm for topic management
type Admin struct {
	client *kadm.Client
	logger *zap.Logger
}

// NewAdmin creates a new admin client
func NewAdmin(brokers []string, logger *zap.Logger) (*Admin, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cl, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return &Admin{client: kadm.NewClient(cl), logger: logger}, nil
}

// EnsureTopics creates missing topics; existing ones are left alone
func (a *Admin) EnsureTopics(ctx context.Context, configs []TopicConfig) error {
	for _, cfg := range configs {
		resp, err := a.client.CreateTopics(ctx, cfg.Partitions, cfg.ReplicationFactor, cfg.Configs, cfg.Name)
		if err != nil {
			return fmt.Errorf("create topic %s: %w", cfg.Name, err)
		}
		for _, r := range resp {
			switch {
			case r.Err == nil:
				a.logger.Info("topic created", zap.String("topic", r.Topic), zap.Int32("partitions", cfg.Partitions))
			case errors.Is(r.Err, kerr.TopicAlreadyExists):
				a.logger.Debug("topic already exists", zap.String("topic", r.Topic))
			default:
				return fmt.Errorf("create topic %s: %w", r.Topic, r.Err)
			}
		}
	}
	return nil
}

// GroupLag returns the total lag per topic for a consumer group
func (a *Admin) GroupLag(ctx context.Context, groupID string) (map[string]int64, error) {
	described, err := a.client.Lag(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("consumer group lag: %w", err)
	}
	out := make(map[string]int64)
	described.Each(func(l kadm.DescribedGroupLag) {
		for topic, partitions := range l.Lag {
			for _, p := range partitions {
				out[topic] += p.Lag
			}
		}
	})
	return out, nil
}

// Close closes the admin client
func (a *Admin) Close() {
	a.client.Close()
}

// HealthCheck verifies broker connectivity
func HealthCheck(ctx context.Context, brokers []string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client, err := kgo.NewClient(kgo.SeedBrokers(brokers...))
	if err != nil {
		return fmt.Errorf("create kafka client: %w", err)
	}
	defer client.Close()

	if err := client.Ping(ctx); err != nil {
		return fmt.Errorf("ping brokers: %w", err)
	}
	return nil
}
