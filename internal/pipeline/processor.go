package pipeline

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/query"
)

// RunStatus summarizes a run. Its value is the process exit code.
type RunStatus int

const (
	AllSucceeded RunStatus = iota
	SomeSucceeded
	NoneSucceeded
	ImportError
)

func (s RunStatus) String() string {
	switch s {
	case AllSucceeded:
		return "ALL_SUCCEEDED"
	case SomeSucceeded:
		return "SOME_SUCCEEDED"
	case NoneSucceeded:
		return "NONE_SUCCEEDED"
	case ImportError:
		return "IMPORT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ExitCode returns the process exit code of s.
func (s RunStatus) ExitCode() int { return int(s) }

// StatusOf computes the run status from request counts.
func StatusOf(succeeded, total int) RunStatus {
	switch {
	case total == 0 || succeeded == 0:
		return NoneSucceeded
	case succeeded == total:
		return AllSucceeded
	default:
		return SomeSucceeded
	}
}

// Combine folds the statuses of several runs. Runs that all failed to import
// stay ImportError; otherwise an import failure counts as a run with no
// success.
func Combine(statuses ...RunStatus) RunStatus {
	if len(statuses) == 0 {
		return NoneSucceeded
	}
	all, none, imports := true, true, true
	for _, s := range statuses {
		if s != ImportError {
			imports = false
		}
		if s != AllSucceeded {
			all = false
		}
		if s == AllSucceeded || s == SomeSucceeded {
			none = false
		}
	}
	switch {
	case imports:
		return ImportError
	case all:
		return AllSucceeded
	case none:
		return NoneSucceeded
	default:
		return SomeSucceeded
	}
}

// Recorder receives processing metrics.
type Recorder interface {
	RequestProcessed(outcome string)
	StageFailed(stage string)
	RunCompleted(status string)
}

type nopRecorder struct{}

func (nopRecorder) RequestProcessed(string) {}
func (nopRecorder) StageFailed(string)      {}
func (nopRecorder) RunCompleted(string)     {}

// Processor runs the requests of a query through the stages, one request at a time.
type Processor struct {
	stages   []Stage
	recorder Recorder
	logger   *zap.Logger
	tracer   trace.Tracer
}

// NewProcessor creates a processor. recorder may be nil.
func NewProcessor(stages []Stage, recorder Recorder, logger *zap.Logger) *Processor {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		stages:   stages,
		recorder: recorder,
		logger:   logger,
		tracer:   otel.Tracer("pipeline"),
	}
}

// Process runs every request of run. A failed request never prevents the
// next one from running.
func (p *Processor) Process(ctx context.Context, run *query.RunAggregate) (RunStatus, []*RequestResult) {
	results := make([]*RequestResult, 0, len(run.Requests))
	succeeded := 0
	for _, req := range run.Requests {
		res := NewRequestResult(req, run.ComputationTime)
		p.processRequest(ctx, run.QueryID, res)
		if res.Succeeded() {
			succeeded++
			p.recorder.RequestProcessed("succeeded")
		} else {
			p.recorder.RequestProcessed("failed")
		}
		results = append(results, res)
	}

	status := StatusOf(succeeded, len(run.Requests))
	p.recorder.RunCompleted(status.String())
	p.logger.Info("query processed",
		zap.String("query_id", run.QueryID),
		zap.Int("requests", len(run.Requests)),
		zap.Int("succeeded", succeeded),
		zap.Stringer("status", status))
	return status, results
}

func (p *Processor) processRequest(ctx context.Context, queryID string, res *RequestResult) {
	ctx, span := p.tracer.Start(ctx, "pipeline.request",
		trace.WithAttributes(
			attribute.String("query_id", queryID),
			attribute.String("request_id", res.Request.ID),
			attribute.String("drug_id", res.Request.DrugID),
		))
	defer span.End()

	if res.Treatment == nil && res.Request.ExtractionError != "" {
		p.logger.Warn("request has no treatment",
			zap.String("request_id", res.Request.ID),
			zap.String("reason", res.Request.ExtractionError))
	}

	for _, stage := range p.stages {
		if err := p.runStage(ctx, stage, res); err != nil {
			res.Stop(err)
			res.FailedStage = stage.Name()
			p.recorder.StageFailed(stage.Name())
			span.SetStatus(codes.Error, res.ErrorMessage)
			p.logger.Warn("request failed",
				zap.String("query_id", queryID),
				zap.String("request_id", res.Request.ID),
				zap.String("stage", stage.Name()),
				zap.String("kind", string(res.ErrorKind)),
				zap.Error(err))
			return
		}
	}
	p.logger.Debug("request succeeded", zap.String("request_id", res.Request.ID))
}

func (p *Processor) runStage(ctx context.Context, stage Stage, res *RequestResult) error {
	ctx, span := p.tracer.Start(ctx, "pipeline.stage."+stage.Name())
	defer span.End()

	err := stage.Run(ctx, res)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}
