package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/pipeline"
)

// Outbox identifiers of run results.
const (
	AggregateRun      = "tdm_run"
	EventRunCompleted = "tdm.run.completed"
)

// ResultStore persists reports and queues their result event in the outbox,
// all in one transaction.
type ResultStore struct {
	db     DB
	topic  string
	logger *zap.Logger
	tracer trace.Tracer
}

var _ pipeline.ResultStore = (*ResultStore)(nil)

// NewResultStore creates a store publishing result events to topic.
func NewResultStore(db DB, topic string, logger *zap.Logger) *ResultStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ResultStore{
		db:     db,
		topic:  topic,
		logger: logger,
		tracer: otel.Tracer("result-store"),
	}
}

const insertRun = `
	INSERT INTO tdm_runs (run_id, query_id, status, total, succeeded, files, event, started_at, finished_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

const insertRequestResult = `
	INSERT INTO tdm_request_results (run_id, request_id, drug_id, drug_model_id, succeeded,
		failed_stage, error_kind, error_message, adjustment_time, candidates, warnings)
	VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), $9, $10, $11)
`

// SaveReport stores the run, its request results and an outbox entry.
func (s *ResultStore) SaveReport(ctx context.Context, report *pipeline.Report) (err error) {
	ctx, span := s.tracer.Start(ctx, "save_report",
		trace.WithAttributes(
			attribute.String("run_id", report.RunID),
			attribute.String("query_id", report.QueryID),
			attribute.Int("requests", len(report.Results)),
		))
	defer span.End()

	ev := report.Event()
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode result event: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			span.RecordError(err)
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, insertRun,
		ev.RunID, ev.QueryID, ev.Status, ev.Total, ev.Succeeded,
		report.Files, json.RawMessage(payload), ev.StartedAt, ev.FinishedAt,
	); err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	if len(ev.Requests) > 0 {
		batch := &pgx.Batch{}
		for _, r := range ev.Requests {
			batch.Queue(insertRequestResult,
				ev.RunID, r.RequestID, r.DrugID, r.DrugModelID, r.Succeeded,
				r.FailedStage, string(r.ErrorKind), r.Error, r.AdjustmentTime,
				r.Candidates, r.Warnings)
		}
		br := tx.SendBatch(ctx, batch)
		for range ev.Requests {
			if _, err = br.Exec(); err != nil {
				_ = br.Close()
				return fmt.Errorf("insert request result: %w", err)
			}
		}
		if err = br.Close(); err != nil {
			return fmt.Errorf("insert request results: %w", err)
		}
	}

	if err = WriteEntry(ctx, tx, &OutboxEntry{
		AggregateID:   ev.RunID,
		AggregateType: AggregateRun,
		EventType:     EventRunCompleted,
		Payload:       payload,
		KafkaTopic:    s.topic,
		KafkaKey:      ev.RunID,
	}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}

	s.logger.Debug("report stored",
		zap.String("run_id", ev.RunID),
		zap.Int("requests", ev.Total))
	return nil
}

// Run returns the result event stored for runID.
func (s *ResultStore) Run(ctx context.Context, runID string) (*pipeline.ResultEvent, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, "SELECT event FROM tdm_runs WHERE run_id = $1", runID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, pipeline.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}

	var ev pipeline.ResultEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return &ev, nil
}

// Ping checks database connectivity.
func (s *ResultStore) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}
