// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/carebridge/portal-timeline/internal/domain/record"
	"github.com/carebridge/portal-timeline/internal/domain/timeline"
)

// Record sources
const (
	SourcePortal   = "portal"
	SourcePostgres = "postgres"
	SourceMemory   = "memory"
)

// Config is the timeline service configuration
type Config struct {
	HTTPAddr    string `mapstructure:"HTTP_ADDR"`
	Env         string `mapstructure:"ENV"`
	LogLevel    string `mapstructure:"LOG_LEVEL"`
	LogFormat   string `mapstructure:"LOG_FORMAT"`
	CORSOrigins string `mapstructure:"CORS_ORIGINS"`

	LeadMonths     int    `mapstructure:"TIMELINE_LEAD_MONTHS"`
	TrailMonths    int    `mapstructure:"TIMELINE_TRAIL_MONTHS"`
	ViewMode       string `mapstructure:"TIMELINE_VIEW_MODE"`
	OpenCategories string `mapstructure:"TIMELINE_OPEN_CATEGORIES"`
	// ColorClasses overrides bar classes as "category=class" pairs
	ColorClasses string `mapstructure:"TIMELINE_COLOR_CLASSES"`
	// RenderConfig is an optional YAML file for SVG and XLSX output
	RenderConfig string `mapstructure:"RENDER_CONFIG"`

	SessionIdleTTL time.Duration `mapstructure:"SESSION_IDLE_TTL"`
	LoaderWorkers  int           `mapstructure:"LOADER_WORKERS"`
	LoaderRetries  int           `mapstructure:"LOADER_RETRIES"`

	RecordSource  string        `mapstructure:"RECORD_SOURCE"`
	PortalBaseURL string        `mapstructure:"PORTAL_BASE_URL"`
	PortalToken   string        `mapstructure:"PORTAL_TOKEN"`
	PortalTimeout time.Duration `mapstructure:"PORTAL_TIMEOUT"`

	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMigrate   bool   `mapstructure:"DB_MIGRATE"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"`
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	CacheTTL      time.Duration `mapstructure:"CACHE_TTL"`

	KafkaBrokers      string `mapstructure:"KAFKA_BROKERS"`
	KafkaGroupID      string `mapstructure:"KAFKA_GROUP_ID"`
	KafkaEnsureTopics bool   `mapstructure:"KAFKA_ENSURE_TOPICS"`

	OutboxPollInterval time.Duration `mapstructure:"OUTBOX_POLL_INTERVAL"`
	OutboxBatchSize    int           `mapstructure:"OUTBOX_BATCH_SIZE"`
	OutboxMaxRetries   int           `mapstructure:"OUTBOX_MAX_RETRIES"`
	OutboxRetention    time.Duration `mapstructure:"OUTBOX_RETENTION"`

	OTLPEndpoint    string  `mapstructure:"OTLP_ENDPOINT"`
	TraceSampleRate float64 `mapstructure:"TRACE_SAMPLE_RATE"`
}

var defaults = map[string]any{
	"HTTP_ADDR":                ":8080",
	"ENV":                      "development",
	"LOG_LEVEL":                "info",
	"LOG_FORMAT":               "json",
	"CORS_ORIGINS":             "*",
	"TIMELINE_LEAD_MONTHS":     1,
	"TIMELINE_TRAIL_MONTHS":    3,
	"TIMELINE_VIEW_MODE":       string(timeline.ViewTimeline),
	"TIMELINE_OPEN_CATEGORIES": string(record.CategoryDiagnosis),
	"TIMELINE_COLOR_CLASSES":   "",
	"RENDER_CONFIG":            "",
	"SESSION_IDLE_TTL":         "30m",
	"LOADER_WORKERS":           6,
	"LOADER_RETRIES":           2,
	"RECORD_SOURCE":            SourcePortal,
	"PORTAL_BASE_URL":          "http://localhost:9000",
	"PORTAL_TOKEN":             "",
	"PORTAL_TIMEOUT":           "10s",
	"DATABASE_URL":             "",
	"DB_MAX_CONNS":             10,
	"DB_MIGRATE":               false,
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"CACHE_TTL":                "5m",
	"KAFKA_BROKERS":            "",
	"KAFKA_GROUP_ID":           "timeline-api",
	"KAFKA_ENSURE_TOPICS":      false,
	"OUTBOX_POLL_INTERVAL":     "1s",
	"OUTBOX_BATCH_SIZE":        100,
	"OUTBOX_MAX_RETRIES":       5,
	"OUTBOX_RETENTION":         "72h",
	"OTLP_ENDPOINT":            "",
	"TRACE_SAMPLE_RATE":        1.0,
}

// Load reads the environment, plus envFile when it exists
func Load(envFile string) (*Config, error) {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
	}
	v.AutomaticEnv()

	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}

	if envFile != "" {
		// a missing file is fine
		_ = v.ReadInConfig()
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field requirements
func (c *Config) Validate() error {
	switch c.RecordSource {
	case SourcePortal:
		if c.PortalBaseURL == "" {
			return fmt.Errorf("PORTAL_BASE_URL is required when RECORD_SOURCE is %q", SourcePortal)
		}
	case SourcePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when RECORD_SOURCE is %q", SourcePostgres)
		}
	case SourceMemory:
	default:
		return fmt.Errorf("RECORD_SOURCE must be %q, %q or %q, got %q",
			SourcePortal, SourcePostgres, SourceMemory, c.RecordSource)
	}
	if c.SessionIdleTTL <= 0 {
		return fmt.Errorf("SESSION_IDLE_TTL must be positive, got %s", c.SessionIdleTTL)
	}
	if _, err := c.Timeline(); err != nil {
		return err
	}
	return nil
}

// IsDev reports whether the service runs in development mode
func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Timeline builds the engine configuration
func (c *Config) Timeline() (timeline.Config, error) {
	tc := timeline.DefaultConfig()
	tc.LeadMonths = c.LeadMonths
	tc.TrailMonths = c.TrailMonths

	mode, err := timeline.ParseViewMode(c.ViewMode)
	if err != nil {
		return timeline.Config{}, fmt.Errorf("TIMELINE_VIEW_MODE: %w", err)
	}
	tc.ViewMode = mode

	tc.OpenCategories = nil
	for _, name := range splitList(c.OpenCategories) {
		cat, err := record.ParseCategory(name)
		if err != nil {
			return timeline.Config{}, fmt.Errorf("TIMELINE_OPEN_CATEGORIES: %w", err)
		}
		tc.OpenCategories = append(tc.OpenCategories, cat)
	}

	for _, pair := range splitList(c.ColorClasses) {
		name, class, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(class) == "" {
			return timeline.Config{}, fmt.Errorf("TIMELINE_COLOR_CLASSES: malformed pair %q", pair)
		}
		cat, err := record.ParseCategory(name)
		if err != nil {
			return timeline.Config{}, fmt.Errorf("TIMELINE_COLOR_CLASSES: %w", err)
		}
		tc.ColorClasses[cat] = strings.TrimSpace(class)
	}

	if err := tc.Validate(); err != nil {
		return timeline.Config{}, err
	}
	return tc, nil
}

// Brokers returns the Kafka seed brokers; empty disables eventing
func (c *Config) Brokers() []string {
	return splitList(c.KafkaBrokers)
}

// Origins returns the allowed CORS origins
func (c *Config) Origins() []string {
	return splitList(c.CORSOrigins)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
