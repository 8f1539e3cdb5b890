// Package main provides the query worker entry point: it consumes query
// documents from Redpanda and runs them through the pipeline.
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
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/infrastructure/postgres"
	"github.com/drfirst/go-tdm/internal/infrastructure/redpanda"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
	"github.com/drfirst/go-tdm/internal/pipeline"
	"github.com/drfirst/go-tdm/internal/translation"
	"github.com/drfirst/go-tdm/internal/worker"
	"github.com/drfirst/go-tdm/pkg/idempotency"
	"github.com/drfirst/go-tdm/pkg/workerpool"
)

const serviceName = "query-worker"

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

	ctx := context.Background()
	tp, err := app.InitTracing(ctx, cfg, serviceName)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}
	defer tp.Shutdown(ctx)

	m := metrics.New(nil)

	repo := drugmodel.NewRepository(logger)
	if _, err := repo.AddFolderPath(ctx, cfg.DrugPath); err != nil {
		logger.Fatal("drug models not loaded", zap.String("path", cfg.DrugPath), zap.Error(err))
	}

	engine, err := app.NewEngine(cfg, m, logger)
	if err != nil {
		logger.Fatal("engine setup failed", zap.Error(err))
	}

	checks := map[string]handlers.Check{"engine": engine.Check}
	scfg := pipeline.ServiceConfig{
		Models:       repo,
		Translations: translation.NewLoader(cfg.TranslationPath, logger),
		Engine:       engine,
		Recorder:     m,
		Logger:       logger,
	}

	pcfg := workerpool.DefaultConfig()
	pcfg.Workers = cfg.Workers
	wcfg := worker.Config{
		OutputDir: cfg.OutputPath,
		Pool:      pcfg,
		Metrics:   m,
		Logger:    logger,
	}

	if cfg.UsesDatabase() {
		pool, err := app.OpenDatabase(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database setup failed", zap.Error(err))
		}
		defer pool.Close()

		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("migration failed", zap.Error(err))
		}

		store := postgres.NewResultStore(pool, redpanda.TopicResults, logger)
		scfg.Store = store
		checks["database"] = store.Ping

		inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)
		if n, err := inbox.RecoverStaleEntries(ctx); err != nil {
			logger.Warn("stale inbox entries not recovered", zap.Error(err))
		} else if n > 0 {
			logger.Info("recovered stale inbox entries", zap.Int64("count", n))
		}
		inbox.StartCleanup()
		defer inbox.Stop()
		wcfg.Inbox = inbox
	} else {
		logger.Warn("no database configured, redelivered queries run again")
	}

	producer, err := app.NewProducer(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("producer setup failed", zap.Error(err))
	}
	defer producer.Close()
	checks["redpanda"] = producer.Ping

	wcfg.Service = pipeline.NewService(scfg)
	wcfg.DeadLetter = producer
	w, err := worker.New(wcfg)
	if err != nil {
		logger.Fatal("worker setup failed", zap.Error(err))
	}
	w.Start()
	checks["worker"] = w.Check

	ccfg := redpanda.DefaultConsumerConfig()
	ccfg.Brokers = cfg.KafkaBrokers
	consumer, err := redpanda.NewConsumer(ccfg, w.HandleMessage, logger)
	if err != nil {
		logger.Fatal("consumer setup failed", zap.Error(err))
	}
	consumer.Start()

	admin, err := redpanda.NewAdmin(cfg.KafkaBrokers, logger)
	if err != nil {
		logger.Fatal("admin client setup failed", zap.Error(err))
	}
	defer admin.Close()
	lagCtx, stopLag := context.WithCancel(ctx)
	defer stopLag()
	go admin.WatchLag(lagCtx, ccfg.GroupID, 30*time.Second, m.SetConsumerLag)

	r := chi.NewRouter()
	r.Get("/health", handlers.Health(serviceName))
	r.Get("/ready", handlers.Ready(checks))
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

	logger.Info("query worker started",
		zap.Strings("topics", ccfg.Topics),
		zap.String("group", ccfg.GroupID),
		zap.Int("workers", pcfg.Workers))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	stopLag()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("probe server shutdown error", zap.Error(err))
	}
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := w.Stop(); err != nil {
		logger.Error("worker stop error", zap.Error(err))
	}
	logger.Info("query worker stopped",
		zap.Any("pool", w.Stats()),
		zap.Any("consumer", consumer.Stats()))
}
