package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-tdm/internal/infrastructure/redpanda"
	"github.com/drfirst/go-tdm/internal/observability/metrics"
	"github.com/drfirst/go-tdm/internal/pipeline"
	"github.com/drfirst/go-tdm/pkg/idempotency"
	"github.com/drfirst/go-tdm/pkg/workerpool"
)

type countingExecutor struct {
	mu     sync.Mutex
	calls  int
	status pipeline.RunStatus
	err    error
}

func (e *countingExecutor) Execute(_ context.Context, r io.Reader, _ string) (*pipeline.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	_, _ = io.ReadAll(r)
	return &pipeline.Report{RunID: "run-1", QueryID: "q1", Status: e.status}, e.err
}

func (e *countingExecutor) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// memoryInbox keeps finished results and terminal failures.
type memoryInbox struct {
	mu       sync.Mutex
	finished map[string]json.RawMessage
	failed   map[string]bool
}

func newMemoryInbox() *memoryInbox {
	return &memoryInbox{finished: map[string]json.RawMessage{}, failed: map[string]bool{}}
}

func (m *memoryInbox) Process(ctx context.Context, key, _ string, payload json.RawMessage, fn idempotency.ProcessFunc) (*idempotency.ProcessResult, error) {
	m.mu.Lock()
	if res, ok := m.finished[key]; ok {
		m.mu.Unlock()
		return &idempotency.ProcessResult{Result: res}, nil
	}
	if m.failed[key] {
		m.mu.Unlock()
		return nil, idempotency.ErrPreviouslyFailed
	}
	m.mu.Unlock()

	res, err := fn(ctx, payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		if idempotency.IsTerminal(err) {
			m.failed[key] = true
		}
		return nil, err
	}
	m.finished[key] = res
	return &idempotency.ProcessResult{IsNew: true, Result: res}, nil
}

type deadLetters struct {
	topics  []string
	headers []map[string]string
}

func (d *deadLetters) PublishWithHeaders(_ context.Context, topic, _ string, _ []byte, headers map[string]string) error {
	d.topics = append(d.topics, topic)
	d.headers = append(d.headers, headers)
	return nil
}

func newWorker(t *testing.T, cfg Config) *Worker {
	t.Helper()
	cfg.Pool = workerpool.Config{Workers: 2, QueueSize: 4, MaxRetries: 1, RetryDelay: time.Millisecond, GracefulShutdownTimeout: time.Second}
	w, err := New(cfg)
	require.NoError(t, err)
	w.Start()
	t.Cleanup(func() { _ = w.Stop() })
	return w
}

func message(key, body string) *redpanda.ConsumedMessage {
	return &redpanda.ConsumedMessage{Topic: redpanda.TopicQueries, Key: []byte(key), Value: []byte(body)}
}

func TestWorker_DuplicateSkipped(t *testing.T) {
	exec := &countingExecutor{status: pipeline.AllSucceeded}
	m := metrics.New(nil)
	w := newWorker(t, Config{Service: exec, Inbox: newMemoryInbox(), Metrics: m})

	require.NoError(t, w.HandleMessage(context.Background(), message("s1", "<query/>")))
	require.NoError(t, w.HandleMessage(context.Background(), message("s1", "<query/>")))
	assert.Equal(t, 1, exec.Calls())

	require.NoError(t, w.HandleMessage(context.Background(), message("s1", "<query id='2'/>")))
	assert.Equal(t, 2, exec.Calls())
}

func TestWorker_ImportErrorIsDeadLettered(t *testing.T) {
	exec := &countingExecutor{status: pipeline.ImportError, err: errors.New("malformed query")}
	dl := &deadLetters{}
	w := newWorker(t, Config{Service: exec, Inbox: newMemoryInbox(), DeadLetter: dl})

	require.NoError(t, w.HandleMessage(context.Background(), message("s1", "not xml")))
	assert.Equal(t, 1, exec.Calls())
	require.Equal(t, []string{redpanda.TopicDeadLetter}, dl.topics)
	assert.Equal(t, redpanda.TopicQueries, dl.headers[0]["original-topic"])
	assert.Contains(t, dl.headers[0]["error"], "malformed query")

	// A redelivery is rejected without running the query again.
	require.NoError(t, w.HandleMessage(context.Background(), message("s1", "not xml")))
	assert.Equal(t, 1, exec.Calls())
	assert.Len(t, dl.topics, 2)
}

func TestWorker_DeliveryErrorIsRetried(t *testing.T) {
	exec := &countingExecutor{status: pipeline.AllSucceeded, err: errors.New("store report: connection reset")}
	w := newWorker(t, Config{Service: exec})

	err := w.HandleMessage(context.Background(), message("s1", "<query/>"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Equal(t, 2, exec.Calls())
}

func TestWorker_Check(t *testing.T) {
	w := newWorker(t, Config{Service: &countingExecutor{}})
	assert.NoError(t, w.Check(context.Background()))

	require.NoError(t, w.Stop())
	assert.Error(t, w.Check(context.Background()))
}

func TestNew_RequiresService(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}
