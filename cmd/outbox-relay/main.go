// Package main provides outbox-relay, which imports patient records into
// PostgreSQL and relays the queued record changes to Redpanda.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/carebridge/portal-timeline/internal/config"
	"github.com/carebridge/portal-timeline/internal/infrastructure/postgres"
	"github.com/carebridge/portal-timeline/internal/infrastructure/redpanda"
	"github.com/carebridge/portal-timeline/internal/observability/logging"
	"github.com/carebridge/portal-timeline/internal/recordfile"
)

const serviceName = "outbox-relay"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile string
	rootCmd := &cobra.Command{
		Use:          serviceName,
		Short:        "Import patient records and relay record changes to Redpanda",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file")

	rootCmd.AddCommand(runCmd(&envFile))
	rootCmd.AddCommand(importCmd(&envFile))
	rootCmd.AddCommand(statsCmd(&envFile))
	return rootCmd
}

func setup(envFile string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, nil, errors.New("DATABASE_URL is required")
	}
	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, serviceName)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func outboxConfig(cfg *config.Config) postgres.OutboxConfig {
	oc := postgres.DefaultOutboxConfig()
	oc.PollInterval = cfg.OutboxPollInterval
	oc.BatchSize = cfg.OutboxBatchSize
	oc.MaxRetries = cfg.OutboxMaxRetries
	oc.Retention = cfg.OutboxRetention
	oc.DeadLetterTopic = redpanda.TopicDeadLetter
	return oc
}

func runCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Relay pending outbox entries until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			brokers := cfg.Brokers()
			if len(brokers) == 0 {
				return errors.New("KAFKA_BROKERS is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			prodCfg := redpanda.DefaultProducerConfig()
			prodCfg.Brokers = brokers
			producer, err := redpanda.NewProducer(prodCfg, logger)
			if err != nil {
				return err
			}
			defer producer.Close()

			logger.Info("relaying record changes",
				zap.Strings("brokers", brokers),
				zap.String("topic", redpanda.TopicRecordChanges))
			postgres.NewOutbox(pool, producer, outboxConfig(cfg), logger).Run(ctx)
			return nil
		},
	}
}

func importCmd(envFile *string) *cobra.Command {
	var (
		input, format, patientID string
		migrate, replaceEmpty    bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace a patient's records from a file and queue change events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			file, err := recordfile.Read(input, format)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			src := postgres.NewRecordSource(pool, logger)
			if migrate || cfg.DBMigrate {
				if err := src.Migrate(ctx); err != nil {
					return err
				}
			}

			n, err := importRecords(ctx, src, file, patientID, replaceEmpty)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replaced %d collections\n", n)
			return nil
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "", "Record file: JSON or YAML collections, or a FHIR R5 Bundle")
	cmd.Flags().StringVar(&format, "format", recordfile.FormatAuto, "Input format: auto, json, yaml or fhir")
	cmd.Flags().StringVar(&patientID, "patient", "", "Patient id (defaults to the bundle's Patient)")
	cmd.Flags().BoolVar(&migrate, "migrate", false, "Apply the schema first")
	cmd.Flags().BoolVar(&replaceEmpty, "replace-empty", false, "Also clear categories the file has no records for")
	_ = cmd.MarkFlagRequired("input")
	return cmd
}

func statsCmd(envFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print outbox counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(*envFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx := cmd.Context()
			pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
			if err != nil {
				return err
			}
			defer pool.Close()

			st, err := postgres.NewOutbox(pool, nil, outboxConfig(cfg), logger).Stats(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pending=%d processed_24h=%d failed=%d\n", st.Pending, st.Processed, st.Failed)
			return nil
		},
	}
}
