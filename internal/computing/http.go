package computing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/adjustment"
	"github.com/drfirst/go-tdm/internal/domain/treatment"
	"github.com/drfirst/go-tdm/pkg/circuitbreaker"
)

// HTTPConfig configures the HTTP engine client.
type HTTPConfig struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultHTTPConfig returns defaults for a local engine.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL: "http://localhost:8090",
		Timeout: 30 * time.Second,
	}
}

// DurationObserver receives engine call durations.
type DurationObserver interface {
	ObserveEngineCall(status string, d time.Duration)
}

// HTTPEngine posts adjustment requests to the engine's JSON API.
type HTTPEngine struct {
	cfg      HTTPConfig
	client   *http.Client
	breaker  *circuitbreaker.CircuitBreaker
	observer DurationObserver
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewHTTPEngine creates an engine client. breaker and observer are optional.
func NewHTTPEngine(cfg HTTPConfig, breaker *circuitbreaker.CircuitBreaker, observer DurationObserver, logger *zap.Logger) *HTTPEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultHTTPConfig().Timeout
	}
	return &HTTPEngine{
		cfg:      cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		breaker:  breaker,
		observer: observer,
		logger:   logger,
		tracer:   otel.Tracer("computing"),
	}
}

type intakePayload struct {
	Time                time.Time                     `json:"time"`
	DoseID              string                        `json:"dose_id"`
	Value               float64                       `json:"value"`
	Unit                string                        `json:"unit"`
	InfusionMinutes     float64                       `json:"infusion_minutes"`
	FormulationAndRoute treatment.FormulationAndRoute `json:"formulation_and_route"`
}

type requestPayload struct {
	RequestID   string                `json:"request_id"`
	DrugID      string                `json:"drug_id"`
	DrugModelID string                `json:"drug_model_id"`
	Trait       *adjustment.Trait     `json:"trait"`
	Intakes     []intakePayload       `json:"intakes"`
	Samples     []treatment.Sample    `json:"samples"`
	Targets     []treatment.Target    `json:"targets"`
	Covariates  []treatment.Covariate `json:"covariates"`
}

// ComputeAdjustment sends req to the engine.
func (e *HTTPEngine) ComputeAdjustment(ctx context.Context, req *Request) (*Response, error) {
	if req == nil || req.Trait == nil || req.Treatment == nil || req.DrugModel == nil {
		return nil, fmt.Errorf("incomplete computing request")
	}

	ctx, span := e.tracer.Start(ctx, "engine.compute_adjustment",
		trace.WithAttributes(
			attribute.String("request_id", req.Trait.RequestID),
			attribute.String("drug_model_id", req.DrugModel.ID),
		))
	defer span.End()

	body, err := e.encode(req)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	start := time.Now()
	call := func(ctx context.Context) (*Response, error) { return e.post(ctx, body) }
	var resp *Response
	if e.breaker != nil {
		resp, err = circuitbreaker.Do(ctx, e.breaker, call)
	} else {
		resp, err = call(ctx)
	}

	status := "error"
	if err == nil {
		status = string(resp.Status)
	}
	if e.observer != nil {
		e.observer.ObserveEngineCall(status, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		e.logger.Warn("engine call failed",
			zap.String("request_id", req.Trait.RequestID),
			zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("status", status))
	return resp, nil
}

func (e *HTTPEngine) encode(req *Request) ([]byte, error) {
	p := requestPayload{
		RequestID:   req.Trait.RequestID,
		DrugID:      req.Treatment.DrugID,
		DrugModelID: req.DrugModel.ID,
		Trait:       req.Trait,
		Samples:     req.Treatment.Samples,
		Targets:     req.Treatment.Targets,
		Covariates:  req.Treatment.Covariates,
	}
	for _, r := range req.Treatment.History {
		intakes, err := treatment.Intakes(r, req.Trait.End)
		if err != nil {
			return nil, fmt.Errorf("expand dosage history: %w", err)
		}
		for _, in := range intakes {
			p.Intakes = append(p.Intakes, intakePayload{
				Time:                in.Time,
				DoseID:              in.Dose.ID,
				Value:               in.Dose.Value,
				Unit:                in.Dose.Unit,
				InfusionMinutes:     in.Dose.Infusion.Minutes(),
				FormulationAndRoute: in.Dose.FormulationAndRoute,
			})
		}
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal computing request: %w", err)
	}
	return body, nil
}

func (e *HTTPEngine) post(ctx context.Context, body []byte) (*Response, error) {
	url := strings.TrimRight(e.cfg.BaseURL, "/") + "/api/v1/adjustments"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build engine request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("call engine: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read engine response: %w", err)
	}
	if httpResp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("engine returned %d: %s", httpResp.StatusCode, strings.TrimSpace(string(data)))
	}

	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode engine response (status %d): %w", httpResp.StatusCode, err)
	}
	if resp.Status == "" {
		resp.Status = StatusFailure
		if httpResp.StatusCode < http.StatusBadRequest {
			resp.Status = StatusSuccess
		}
	}
	return &resp, nil
}
