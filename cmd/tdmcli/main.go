// Package main provides the command line entry point: runs dosing
// adjustment queries from files and administers the service backends.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/app"
	"github.com/drfirst/go-tdm/internal/config"
	"github.com/drfirst/go-tdm/internal/infrastructure/postgres"
	"github.com/drfirst/go-tdm/internal/infrastructure/redpanda"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
	"github.com/drfirst/go-tdm/internal/pipeline"
)

// flagKeys binds persistent flags to configuration keys.
var flagKeys = map[string]string{
	"drugs":        "DRUG_PATH",
	"translations": "TRANSLATION_PATH",
	"output":       "OUTPUT_PATH",
	"engine-url":   "ENGINE_URL",
	"database-url": "DATABASE_URL",
	"metrics-file": "METRICS_FILE",
	"workers":      "WORKERS",
	"debug":        "DEBUG",
}

func main() {
	status := pipeline.AllSucceeded
	root := rootCmd(&status)
	if err := root.Execute(); err != nil {
		os.Exit(pipeline.ImportError.ExitCode())
	}
	os.Exit(status.ExitCode())
}

func rootCmd(status *pipeline.RunStatus) *cobra.Command {
	v := config.New()
	root := &cobra.Command{
		Use:          "tdmcli",
		Short:        "Validate and prepare dosing adjustment queries",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return config.BindFlags(v, cmd.Flags(), flagKeys)
		},
	}

	f := root.PersistentFlags()
	f.String("drugs", "", "drug model folder")
	f.String("translations", "", "translation folder")
	f.String("output", "", "result folder")
	f.String("engine-url", "", "computation engine base URL (dry run when empty)")
	f.String("database-url", "", "store results in this database")
	f.String("metrics-file", "", "write Prometheus metrics to this file on exit")
	f.Int("workers", 0, "parallel queries for batch runs")
	f.Bool("debug", false, "development logging")

	root.AddCommand(runCmd(v, status))
	root.AddCommand(batchCmd(v, status))
	root.AddCommand(migrateCmd(v))
	root.AddCommand(topicsCmd(v))
	return root
}

// env holds what every pipeline command needs.
type env struct {
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Metrics
	engine  app.Engine
	store   pipeline.ResultStore
	pool    *pgxpool.Pool
}

func newEnv(ctx context.Context, v *viper.Viper) (*env, error) {
	cfg, err := config.FromViper(v)
	if err != nil {
		return nil, err
	}
	logger, err := app.NewLogger(cfg.Debug)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	e := &env{cfg: cfg, logger: logger, metrics: metrics.New(nil)}
	e.engine, err = app.NewEngine(cfg, e.metrics, logger)
	if err != nil {
		return nil, err
	}

	if cfg.UsesDatabase() {
		e.pool, err = app.OpenDatabase(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		e.store = postgres.NewResultStore(e.pool, redpanda.TopicResults, logger)
	}
	return e, nil
}

func (e *env) serviceConfig() pipeline.ServiceConfig {
	return pipeline.ServiceConfig{
		Engine:   e.engine,
		Store:    e.store,
		Recorder: e.metrics,
		Logger:   e.logger,
	}
}

// close writes the metrics textfile and releases connections.
func (e *env) close() {
	if e.cfg.MetricsFile != "" {
		if err := e.metrics.WriteTextfile(e.cfg.MetricsFile); err != nil {
			e.logger.Error("metrics file not written", zap.String("path", e.cfg.MetricsFile), zap.Error(err))
		}
	}
	if e.pool != nil {
		e.pool.Close()
	}
	_ = e.logger.Sync()
}
