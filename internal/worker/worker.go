// Package worker processes query documents consumed from the queries topic.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"github.com/drfirst/go-tdm/internal/infrastructure/redpanda"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
	"github.com/drfirst/go-tdm/internal/pipeline"
	"github.com/drfirst/go-tdm/pkg/idempotency"
	"github.com/drfirst/go-tdm/pkg/workerpool"
)

// HandlerName identifies the worker in the inbox.
const HandlerName = "query-worker"

// Executor runs one query document.
type Executor interface {
	Execute(ctx context.Context, r io.Reader, outputDir string) (*pipeline.Report, error)
}

// Inbox deduplicates redelivered messages.
type Inbox interface {
	Process(ctx context.Context, key, handlerName string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error)
}

// Publisher sends messages that cannot be processed to the dead letter topic.
type Publisher interface {
	PublishWithHeaders(ctx context.Context, topic, key string, value []byte, headers map[string]string) error
}

// Config wires a Worker. Inbox, DeadLetter and Metrics are optional.
type Config struct {
	Service         Executor
	Inbox           Inbox
	DeadLetter      Publisher
	DeadLetterTopic string
	OutputDir       string
	Pool            workerpool.Config
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// Worker runs consumed query documents on a bounded pool.
type Worker struct {
	cfg    Config
	pool   *workerpool.Pool
	logger *zap.Logger
}

// task is the payload of a pool task
type task struct {
	key      string
	document []byte
}

// New creates a worker. Call Start before handling messages.
func New(cfg Config) (*Worker, error) {
	if cfg.Service == nil {
		return nil, errors.New("query service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.DeadLetterTopic == "" {
		cfg.DeadLetterTopic = redpanda.TopicDeadLetter
	}

	w := &Worker{cfg: cfg, logger: cfg.Logger}
	pool, err := workerpool.New(cfg.Pool, w.run, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("create worker pool: %w", err)
	}
	w.pool = pool
	return w, nil
}

// Start launches the pool workers.
func (w *Worker) Start() { w.pool.Start() }

// Stop drains the pool.
func (w *Worker) Stop() error { return w.pool.Stop() }

// Check fails while the pool is stopped or its queue is nearly full.
func (w *Worker) Check(context.Context) error {
	if !w.pool.IsHealthy() {
		st := w.pool.Stats()
		return fmt.Errorf("worker pool saturated: %d of %d queued", st.QueueDepth, st.QueueCapacity)
	}
	return nil
}

// Stats returns pool statistics.
func (w *Worker) Stats() workerpool.Stats { return w.pool.Stats() }

// HandleMessage processes one consumed message and blocks until it is done.
// Messages that can never succeed are sent to the dead letter topic and
// acknowledged; other failures are returned so the offset is not committed.
func (w *Worker) HandleMessage(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.KafkaMessagesConsumed.Inc()
	}

	key := string(msg.Key)
	if key == "" {
		key = fmt.Sprintf("%s-%d-%d", msg.Topic, msg.Partition, msg.Offset)
	}

	res, err := w.pool.SubmitWait(ctx, &workerpool.Task{
		ID:      key,
		Payload: task{key: key, document: msg.Value},
		Context: ctx,
	})
	if err != nil {
		return fmt.Errorf("submit %s: %w", key, err)
	}
	if res.Success {
		return nil
	}

	if idempotency.IsTerminal(res.Error) || errors.Is(res.Error, idempotency.ErrPreviouslyFailed) {
		return w.deadLetter(ctx, msg, res.Error)
	}
	return res.Error
}

// run is the pool function: one query document through the inbox.
func (w *Worker) run(ctx context.Context, t *workerpool.Task) *workerpool.Result {
	p, ok := t.Payload.(task)
	if !ok {
		return &workerpool.Result{Error: idempotency.Terminal(fmt.Errorf("unexpected payload %T", t.Payload))}
	}

	process := func(ctx context.Context, _ json.RawMessage) (json.RawMessage, error) {
		return w.execute(ctx, p.key, p.document)
	}

	var (
		result json.RawMessage
		err    error
	)
	if w.cfg.Inbox != nil {
		var pr *idempotency.ProcessResult
		pr, err = w.cfg.Inbox.Process(ctx, idempotency.GenerateKey(p.key, p.document), HandlerName, nil, process)
		if err == nil {
			result = pr.Result
			if !pr.IsNew && !pr.WasRecovered {
				w.logger.Info("duplicate query skipped", zap.String("submission_id", p.key))
			}
		}
	} else {
		result, err = process(ctx, nil)
	}

	if err != nil {
		return &workerpool.Result{
			Error:     err,
			Retryable: !idempotency.IsTerminal(err) && !errors.Is(err, idempotency.ErrPreviouslyFailed),
		}
	}
	return &workerpool.Result{Success: true, Data: result}
}

// execute runs the document and returns the result event. Import errors are
// terminal; delivery errors are retried.
func (w *Worker) execute(ctx context.Context, key string, document []byte) (json.RawMessage, error) {
	report, err := w.cfg.Service.Execute(ctx, bytes.NewReader(document), w.cfg.OutputDir)
	if report.Status == pipeline.ImportError {
		return nil, idempotency.Terminal(fmt.Errorf("import query %s: %w", key, err))
	}
	if err != nil {
		return nil, err
	}

	w.logger.Info("query processed",
		zap.String("submission_id", key),
		zap.String("run_id", report.RunID),
		zap.Stringer("status", report.Status))
	return report.MarshalEvent()
}

func (w *Worker) deadLetter(ctx context.Context, msg *redpanda.ConsumedMessage, cause error) error {
	w.logger.Warn("query rejected", zap.String("submission_id", string(msg.Key)), zap.Error(cause))
	if w.cfg.DeadLetter == nil {
		return nil
	}

	headers := map[string]string{
		"original-topic": msg.Topic,
		"error":          cause.Error(),
	}
	if err := w.cfg.DeadLetter.PublishWithHeaders(ctx, w.cfg.DeadLetterTopic, string(msg.Key), msg.Value, headers); err != nil {
		return fmt.Errorf("dead letter %s: %w", msg.Key, err)
	}
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.KafkaMessagesProduced.Inc()
	}
	return nil
}
