// Package main provides the outbox relay entry point. It publishes stored
// run results from the outbox table to Redpanda.
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
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/api/handlers"
	"github.com/drfirst/go-tdm/internal/app"
	"github.com/drfirst/go-tdm/internal/config"
	"github.com/drfirst/go-tdm/internal/infrastructure/postgres"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
)

const serviceName = "outbox-relay"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "invalid configuration:", err)
		os.Exit(1)
	}
	logger, err := app.NewLogger(cfg.Debug)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if !cfg.UsesDatabase() {
		logger.Fatal("TDM_DATABASE_URL is required")
	}

	ctx := context.Background()
	tp, err := app.InitTracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(ctx)

	m := metrics.New(nil)

	pool, err := app.OpenDatabase(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("database setup failed", zap.Error(err))
	}
	defer pool.Close()

	producer, err := app.NewProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("producer setup failed", zap.Error(err))
	}
	defer producer.Close()

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.OnStats = func(s *postgres.OutboxStats) {
		m.OutboxPending.Set(float64(s.Pending))
	}
	outbox := postgres.NewOutbox(pool, app.NewPublisher(producer, m), outboxCfg, logger)
	outbox.Start()

	r := chi.NewRouter()
	r.Get("/health", handlers.Health(serviceName))
	r.Get("/ready", handlers.Ready(map[string]handlers.Check{
		"database": pool.Ping,
		"redpanda": producer.Ping,
	}))
	r.Method(http.MethodGet, "/metrics", m.Handler())
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("probe server error", zap.Error(err))
		}
	}()
	logger.Info("outbox relay started", zap.Strings("brokers", cfg.KafkaBrokers))

	// Wait for shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("probe server shutdown error", zap.Error(err))
	}
	outbox.Stop()
	logger.Info("outbox relay stopped", zap.Any("producer", producer.Stats()))
}
