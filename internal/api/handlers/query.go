// Package handlers provides HTTP handlers for the query API.
package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/api/middleware"
	"github.com/drfirst/go-tdm/internal/pipeline"
)

// Executor runs one query document.
type Executor interface {
	Execute(ctx context.Context, r io.Reader, outputDir string) (*pipeline.Report, error)
}

// Publisher queues query documents for asynchronous processing.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// RunReader looks up stored runs.
type RunReader interface {
	Run(ctx context.Context, runID string) (*pipeline.ResultEvent, error)
}

// QueryConfig wires a QueryHandler. Publisher and Runs are optional.
type QueryConfig struct {
	Service   Executor
	Publisher Publisher
	Topic     string
	Runs      RunReader
	OutputDir string
	Logger    *zap.Logger
}

// QueryHandler handles query endpoints
type QueryHandler struct {
	cfg    QueryConfig
	logger *zap.Logger
}

// NewQueryHandler creates a new handler
func NewQueryHandler(cfg QueryConfig) *QueryHandler {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &QueryHandler{cfg: cfg, logger: cfg.Logger}
}

// Routes returns the handler routes
func (h *QueryHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/queries", h.Run)
	r.Post("/queries/async", h.Submit)
	r.Get("/runs/{id}", h.GetRun)
	return r
}

// RunResponse is the response of a synchronous query run
type RunResponse struct {
	pipeline.ResultEvent
	ExitCode      int      `json:"exit_code"`
	Files         []string `json:"files,omitempty"`
	DeliveryError string   `json:"delivery_error,omitempty"`
}

// Run handles POST /queries. The XML query in the body is processed before
// the response is written.
func (h *QueryHandler) Run(w http.ResponseWriter, r *http.Request) {
	ctx, span := otel.Tracer("query-handler").Start(r.Context(), "run_query")
	defer span.End()

	report, err := h.cfg.Service.Execute(ctx, r.Body, h.cfg.OutputDir)
	span.SetAttributes(
		attribute.String("run_id", report.RunID),
		attribute.String("status", report.Status.String()),
	)
	if report.Status == pipeline.ImportError {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.jsonError(w, "query document too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.jsonError(w, "query import failed: "+errorText(err), http.StatusUnprocessableEntity)
		return
	}

	resp := RunResponse{
		ResultEvent: report.Event(),
		ExitCode:    report.Status.ExitCode(),
		Files:       report.Files,
	}
	if err != nil {
		resp.DeliveryError = err.Error()
		h.logger.Warn("query results partially delivered",
			zap.String("run_id", report.RunID),
			zap.String("request_id", middleware.GetRequestID(ctx)),
			zap.Error(err))
	}
	h.jsonResponse(w, resp, http.StatusOK)
}

// SubmitResponse is the response of an asynchronous submission
type SubmitResponse struct {
	SubmissionID string `json:"submission_id"`
	Topic        string `json:"topic"`
}

// Submit handles POST /queries/async. The document is queued unparsed; the
// worker imports it.
func (h *QueryHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Publisher == nil {
		h.jsonError(w, "asynchronous submission is not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			h.jsonError(w, "query document too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		h.jsonError(w, "empty query document", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	id := uuid.NewString()
	headers := map[string]string{
		"content-type": "application/xml",
		"request-id":   middleware.GetRequestID(ctx),
	}
	if client := middleware.GetClientID(ctx); client != "" {
		headers["client-id"] = client
	}

	if err := h.cfg.Publisher.PublishWithHeaders(ctx, h.cfg.Topic, id, body, headers); err != nil {
		h.logger.Error("query submission failed", zap.String("submission_id", id), zap.Error(err))
		h.jsonError(w, "failed to queue query", http.StatusServiceUnavailable)
		return
	}

	h.logger.Info("query queued", zap.String("submission_id", id), zap.Int("bytes", len(body)))
	h.jsonResponse(w, SubmitResponse{SubmissionID: id, Topic: h.cfg.Topic}, http.StatusAccepted)
}

// GetRun handles GET /runs/{id}
func (h *QueryHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.cfg.Runs == nil {
		h.jsonError(w, "run storage is not configured", http.StatusNotFound)
		return
	}

	id := chi.URLParam(r, "id")
	ev, err := h.cfg.Runs.Run(r.Context(), id)
	if errors.Is(err, pipeline.ErrRunNotFound) {
		h.jsonError(w, "run not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("run lookup failed", zap.String("run_id", id), zap.Error(err))
		h.jsonError(w, "failed to get run", http.StatusInternalServerError)
		return
	}
	h.jsonResponse(w, ev, http.StatusOK)
}

func errorText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

func (h *QueryHandler) jsonResponse(w http.ResponseWriter, data any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *QueryHandler) jsonError(w http.ResponseWriter, message string, code int) {
	h.jsonResponse(w, map[string]string{"error": message}, code)
}
