// Package app wires the components shared by the command line tool and the
// services.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/computing"
	"github.com/drfirst/go-tdm/internal/config"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
	"github.com/drfirst/go-tdm/internal/observability/tracing"
	"github.com/drfirst/go-tdm/pkg/circuitbreaker"
)

// EngineBreaker names the circuit breaker guarding the computation engine.
const EngineBreaker = "computation-engine"

// NewLogger returns the production JSON logger, or the development console
// logger when debug is set.
func NewLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Engine is the computation engine with its optional circuit breaker.
type Engine struct {
	computing.Engine
	// Breaker is nil for the dry run engine.
	Breaker *circuitbreaker.CircuitBreaker
}

// Health reports the breaker state; the dry run engine is always healthy.
func (e Engine) Health() circuitbreaker.HealthStatus {
	if e.Breaker == nil {
		return circuitbreaker.HealthStatus{Name: "dry-run", State: circuitbreaker.StateClosed, Healthy: true}
	}
	return e.Breaker.Health()
}

// Check fails while the breaker is open.
func (e Engine) Check(context.Context) error {
	if h := e.Health(); !h.Healthy {
		return fmt.Errorf("circuit breaker %s is %s", h.Name, h.State)
	}
	return nil
}

// NewEngine returns the HTTP engine behind a circuit breaker when an engine
// URL is configured, and the dry run engine otherwise. m may be nil.
func NewEngine(cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) (Engine, error) {
	if !cfg.UsesEngine() {
		logger.Info("no computation engine configured, using dry run")
		return Engine{Engine: computing.DryRunEngine{}}, nil
	}

	bcfg := circuitbreaker.DefaultConfig(EngineBreaker)
	var observer computing.DurationObserver
	if m != nil {
		bcfg.OnStateChange = func(name string, to circuitbreaker.State) {
			m.SetBreakerState(name, to.Level())
		}
		m.SetBreakerState(EngineBreaker, circuitbreaker.StateClosed.Level())
		observer = m
	}
	breaker, err := circuitbreaker.New(bcfg, logger)
	if err != nil {
		return Engine{}, fmt.Errorf("create circuit breaker: %w", err)
	}

	engine := computing.NewHTTPEngine(computing.HTTPConfig{
		BaseURL: cfg.EngineURL,
		Timeout: cfg.EngineTimeout,
	}, breaker, observer, logger)
	logger.Info("computation engine configured", zap.String("url", cfg.EngineURL))
	return Engine{Engine: engine, Breaker: breaker}, nil
}

// InitTracing starts span export for service when an OTLP endpoint is set.
func InitTracing(ctx context.Context, cfg *config.Config, service string) (*tracing.Provider, error) {
	tcfg := tracing.DefaultConfig(service)
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	return tracing.Init(ctx, tcfg)
}

// OpenDatabase connects to url and checks the connection.
func OpenDatabase(ctx context.Context, url string, logger *zap.Logger) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}
	logger.Info("connected to database")
	return pool, nil
}
