// Package main provides the query API service entry point.
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

	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/api"
	"github.com/drfirst/go-tdm/internal/api/handlers"
	"github.com/drfirst/go-tdm/internal/app"
	"github.com/drfirst/go-tdm/internal/config"
	"github.com/drfirst/go-tdm/internal/drugmodel"
	"github.com/drfirst/go-tdm/internal/infrastructure/postgres"
	"github.com/drfirst/go-tdm/internal/infrastructure/redpanda"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
	"github.com/drfirst/go-tdm/internal/pipeline"
	"github.com/drfirst/go-tdm/internal/translation"
)

const serviceName = "query-api"

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
	qcfg := handlers.QueryConfig{
		Topic:     redpanda.TopicQueries,
		OutputDir: cfg.OutputPath,
		Logger:    logger,
	}

	if cfg.UsesDatabase() {
		pool, err := app.OpenDatabase(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("database setup failed", zap.Error(err))
		}
		defer pool.Close()

		store := postgres.NewResultStore(pool, redpanda.TopicResults, logger)
		scfg.Store = store
		qcfg.Runs = store
		checks["database"] = store.Ping
	}

	if len(cfg.KafkaBrokers) > 0 {
		producer, err := app.NewProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.Fatal("producer setup failed", zap.Error(err))
		}
		defer producer.Close()

		qcfg.Publisher = app.NewPublisher(producer, m)
		checks["redpanda"] = producer.Ping
	}

	qcfg.Service = pipeline.NewService(scfg)
	router := api.NewRouter(api.RouterConfig{
		ServiceName: serviceName,
		Queries:     handlers.NewQueryHandler(qcfg),
		Metrics:     m.Handler(),
		Checks:      checks,
		APIClients:  cfg.APIClients(),
		Logger:      logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting query API",
		zap.String("port", cfg.Port),
		zap.Int("drug_models", repo.Len()))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
