// Package api assembles the HTTP surface of the query service.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/api/handlers"
	"github.com/drfirst/go-tdm/internal/api/middleware"
)

// DefaultMaxBodyBytes bounds query documents accepted over HTTP.
const DefaultMaxBodyBytes = 10 << 20

// RouterConfig wires the router. Metrics and Checks are optional.
type RouterConfig struct {
	ServiceName  string
	Queries      *handlers.QueryHandler
	Metrics      http.Handler
	Checks       map[string]handlers.Check
	APIClients   map[string]string
	MaxBodyBytes int64
	Logger       *zap.Logger
}

// NewRouter returns the HTTP handler of the service
func NewRouter(cfg RouterConfig) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Tracing(cfg.ServiceName))

	// Probes and metrics (no auth)
	r.Get("/health", handlers.Health(cfg.ServiceName))
	r.Get("/ready", handlers.Ready(cfg.Checks))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(cfg.APIClients))
		r.Use(middleware.MaxBodySize(cfg.MaxBodyBytes))
		r.Mount("/", cfg.Queries.Routes())
	})

	return r
}
