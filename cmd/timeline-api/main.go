// Package main provides the timeline API service entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/api/handlers"
	"github.com/carebridge/portal-timeline/internal/api/middleware"
	"github.com/carebridge/portal-timeline/internal/config"
	"github.com/carebridge/portal-timeline/internal/infrastructure/portalapi"
	"github.com/carebridge/portal-timeline/internal/infrastructure/postgres"
	"github.com/carebridge/portal-timeline/internal/infrastructure/rediscache"
	"github.com/carebridge/portal-timeline/internal/infrastructure/redpanda"
	"github.com/carebridge/portal-timeline/internal/loader"
	"github.com/carebridge/portal-timeline/internal/observability/logging"
	"github.com/carebridge/portal-timeline/internal/observability/metrics"
	"github.com/carebridge/portal-timeline/internal/observability/tracing"
	"github.com/carebridge/portal-timeline/internal/render"
	"github.com/carebridge/portal-timeline/pkg/circuitbreaker"
	"github.com/carebridge/portal-timeline/pkg/idempotency"
	"github.com/carebridge/portal-timeline/pkg/workerpool"
)

const (
	serviceName = "timeline-api"
	version     = "0.1.0"
)

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("timeline api failed", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tp, err := tracing.Init(ctx, tracing.Config{
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Env,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     cfg.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	timelineCfg, err := cfg.Timeline()
	if err != nil {
		return err
	}

	checks := map[string]handlers.Check{}

	source, portal, err := buildSource(ctx, cfg, logger, checks)
	if err != nil {
		return err
	}

	var cache *rediscache.Source
	var inbox *idempotency.Inbox
	if cfg.RedisAddr != "" {
		cacheCfg := rediscache.Config{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: rediscache.DefaultConfig().KeyPrefix,
			TTL:       cfg.CacheTTL,
		}
		client := rediscache.NewClient(cacheCfg)
		defer client.Close()
		cache = rediscache.New(client, source, cacheCfg, logger)
		source = cache
		checks["redis"] = cache.Ping
		inbox = idempotency.NewInbox(client, idempotency.DefaultConfig(), logger)
		logger.Info("record cache enabled", zap.String("addr", cfg.RedisAddr), zap.Duration("ttl", cfg.CacheTTL))
	}

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.LoaderWorkers
	poolCfg.MaxRetries = cfg.LoaderRetries
	ld := loader.New(source, workerpool.New(poolCfg, logger), m, logger)

	renderCfg, err := render.LoadConfig(cfg.RenderConfig)
	if err != nil {
		return err
	}

	store := handlers.NewSessionStore(timelineCfg, cfg.SessionIdleTTL, m, logger)
	go store.RunSweeper(ctx, sweepInterval(cfg.SessionIdleTTL))

	var publisher handlers.ViewPublisher
	var producer *redpanda.Producer
	brokers := cfg.Brokers()
	if len(brokers) > 0 {
		if cfg.KafkaEnsureTopics {
			admin, err := redpanda.NewAdmin(brokers, logger)
			if err != nil {
				return err
			}
			err = admin.EnsureTopics(ctx, redpanda.DefaultTopicConfigs())
			admin.Close()
			if err != nil {
				return err
			}
		}

		prodCfg := redpanda.DefaultProducerConfig()
		prodCfg.Brokers = brokers
		producer, err = redpanda.NewProducer(prodCfg, logger)
		if err != nil {
			return err
		}
		defer producer.Close()
		publisher = meteredPublisher{producer: producer, metrics: m}
		checks["kafka"] = func(ctx context.Context) error { return redpanda.HealthCheck(ctx, brokers) }
	}

	timelineHandler := handlers.NewTimelineHandler(store, ld, renderCfg, publisher, m, logger)

	if len(brokers) > 0 {
		consCfg := redpanda.DefaultConsumerConfig()
		consCfg.Brokers = brokers
		consCfg.GroupID = cfg.KafkaGroupID
		consumer, err := redpanda.NewConsumer(consCfg, redpanda.RecordChangeHandler(
			func(ctx context.Context, ev redpanda.RecordChange) error {
				apply := func(ctx context.Context) error {
					if cache != nil {
						if err := cache.Store(ctx, ev.PatientID, ev.Category, ev.Records); err != nil {
							logger.Warn("refresh cached records failed", zap.String("patient_id", ev.PatientID), zap.Error(err))
						}
					}
					return timelineHandler.ApplyRecordChange(ctx, ev)
				}
				var err error
				if inbox != nil {
					key := idempotency.KeyFor(ev.EventID, ev.PatientID, string(ev.Category), ev.ChangedAt.Format(time.RFC3339Nano))
					err = inbox.Process(ctx, key, "record_change", apply)
					if errors.Is(err, idempotency.ErrDuplicateMessage) {
						logger.Debug("skipping redelivered record change", zap.String("event_id", ev.EventID))
						return nil
					}
				} else {
					err = apply(ctx)
				}
				m.ObserveEvent(false, err)
				return err
			}), logger)
		if err != nil {
			return err
		}
		consumer.Start(ctx)
		defer consumer.Stop()
		logger.Info("record change consumer started", zap.Strings("brokers", brokers))
	}

	if portal != nil {
		go reportBreakers(ctx, portal, m)
	}

	health := handlers.NewHealthHandler(serviceName, version, checks)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.CORS(cfg.Origins()))
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.Metrics(m))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	r.Handle("/metrics", metrics.Handler(reg))

	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/sessions", timelineHandler.Routes())
	})

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting timeline API",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("record_source", cfg.RecordSource))
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	return nil
}

// buildSource returns the configured record source and, for the portal source, its client
func buildSource(ctx context.Context, cfg *config.Config, logger *zap.Logger, checks map[string]handlers.Check) (loader.Source, *portalapi.Client, error) {
	switch cfg.RecordSource {
	case config.SourcePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
		if err != nil {
			return nil, nil, err
		}
		go func() {
			<-ctx.Done()
			pool.Close()
		}()
		checks["postgres"] = pool.Ping
		src := postgres.NewRecordSource(pool, logger)
		if cfg.DBMigrate {
			if err := src.Migrate(ctx); err != nil {
				return nil, nil, err
			}
		}
		logger.Info("connected to database")
		return src, nil, nil
	case config.SourceMemory:
		logger.Warn("using in-memory record source; every patient starts empty")
		return loader.NewMemorySource(), nil, nil
	default:
		client := portalapi.New(portalapi.Config{
			BaseURL: cfg.PortalBaseURL,
			Token:   cfg.PortalToken,
			Timeout: cfg.PortalTimeout,
			Breaker: circuitbreaker.DefaultConfig("portal"),
		}, logger)
		return client, client, nil
	}
}

func reportBreakers(ctx context.Context, client *portalapi.Client, m *metrics.Metrics) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		m.SetBreakerStates(client.BreakerStates())
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sweepInterval(idle time.Duration) time.Duration {
	if iv := idle / 4; iv > time.Second {
		return iv
	}
	return time.Second
}

// meteredPublisher counts published view updates
type meteredPublisher struct {
	producer *redpanda.Producer
	metrics  *metrics.Metrics
}

func (p meteredPublisher) PublishViewUpdated(ctx context.Context, ev redpanda.ViewUpdated) error {
	err := p.producer.PublishViewUpdated(ctx, ev)
	p.metrics.ObserveEvent(true, err)
	return err
}
