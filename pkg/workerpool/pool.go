// Package workerpool provides a bounded worker pool for controlled concurrency.
// Used to process several queries at once against one computation engine.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ErrShuttingDown is returned when submitting to a stopped pool
var ErrShuttingDown = errors.New("pool is shutting down")

// Task represents a unit of work to be processed
type Task struct {
	ID      string
	Payload any
	Context context.Context

	reply chan *Result
}

// Result represents the outcome of task processing
type Result struct {
	TaskID  string
	Success bool
	Error   error
	Data    any
	// Retryable asks the pool to run a failed task again.
	Retryable bool
	Attempts  int
}

// WorkerFunc is the function signature for task processing
type WorkerFunc func(ctx context.Context, task *Task) *Result

// Config holds worker pool configuration
type Config struct {
	// Workers is the number of concurrent workers
	Workers int
	// QueueSize is the size of the task queue
	QueueSize int
	// MaxRetries is the maximum number of retries for retryable failures
	MaxRetries int
	// RetryDelay is the base delay between retries
	RetryDelay time.Duration
	// GracefulShutdownTimeout is the timeout for graceful shutdown
	GracefulShutdownTimeout time.Duration
}

// DefaultConfig returns defaults sized for engine-bound query processing
func DefaultConfig() Config {
	return Config{
		Workers:                 4,
		QueueSize:               256,
		MaxRetries:              2,
		RetryDelay:              500 * time.Millisecond,
		GracefulShutdownTimeout: 30 * time.Second,
	}
}

// Pool manages a pool of workers for concurrent task processing
type Pool struct {
	config     Config
	workerFunc WorkerFunc
	logger     *zap.Logger

	taskChan chan *Task
	wg       sync.WaitGroup

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	// mu guards taskChan against sends after close.
	mu sync.RWMutex

	// Metrics
	tasksSubmitted int64
	tasksCompleted int64
	tasksFailed    int64
	tasksRetried   int64
	activeWorkers  int64
	queueDepth     int64
}

// New creates a new worker pool
func New(cfg Config, fn WorkerFunc, logger *zap.Logger) (*Pool, error) {
	if fn == nil {
		return nil, fmt.Errorf("worker function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultConfig().QueueSize
	}
	if cfg.GracefulShutdownTimeout <= 0 {
		cfg.GracefulShutdownTimeout = DefaultConfig().GracefulShutdownTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		config:     cfg,
		workerFunc: fn,
		logger:     logger,
		taskChan:   make(chan *Task, cfg.QueueSize),
		ctx:        ctx,
		cancel:     cancel,
	}, nil
}

// Start launches all workers
func (p *Pool) Start() {
	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.logger.Info("worker pool started",
		zap.Int("workers", p.config.Workers),
		zap.Int("queue_size", p.config.QueueSize))
}

// enqueue adds a task to the queue, waiting for a free slot until ctx is done.
func (p *Pool) enqueue(ctx context.Context, task *Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.ctx.Err() != nil {
		return ErrShuttingDown
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.ctx.Done():
		return ErrShuttingDown
	case p.taskChan <- task:
		p.enqueued()
		return nil
	}
}

// SubmitWait queues a task and waits for its result. It blocks while the
// queue is full. When ctx ends first the task may still run; its result is
// discarded.
func (p *Pool) SubmitWait(ctx context.Context, task *Task) (*Result, error) {
	task.reply = make(chan *Result, 1)
	if err := p.enqueue(ctx, task); err != nil {
		return nil, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-task.reply:
		return result, nil
	}
}

// Stop stops accepting tasks, drains the queue and waits for the workers
func (p *Pool) Stop() error {
	var err error
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")
		p.cancel()
		p.mu.Lock()
		close(p.taskChan)
		p.mu.Unlock()

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			p.logger.Info("worker pool stopped gracefully")
		case <-time.After(p.config.GracefulShutdownTimeout):
			p.logger.Warn("worker pool shutdown timed out")
			err = fmt.Errorf("worker pool shutdown timed out after %s", p.config.GracefulShutdownTimeout)
		}
	})
	return err
}

func (p *Pool) enqueued() {
	atomic.AddInt64(&p.tasksSubmitted, 1)
	atomic.AddInt64(&p.queueDepth, 1)
}

// worker is the main worker goroutine
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for task := range p.taskChan {
		atomic.AddInt64(&p.queueDepth, -1)
		task.reply <- p.processTask(id, task)
	}

	p.logger.Debug("worker stopped", zap.Int("worker_id", id))
}

// processTask runs a task, retrying retryable failures with a linear backoff.
// Tasks already queued at shutdown still run unless their own context is done.
func (p *Pool) processTask(workerID int, task *Task) *Result {
	ctx := task.Context
	if ctx == nil {
		ctx = context.Background()
	}

	var result *Result
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			result = &Result{TaskID: task.ID, Error: err}
			break
		}

		result = p.workerFunc(ctx, task)
		if result == nil {
			result = &Result{Error: errors.New("worker returned no result")}
		}
		result.TaskID = task.ID
		result.Attempts = attempt + 1

		if result.Success || !result.Retryable || attempt >= p.config.MaxRetries {
			break
		}

		atomic.AddInt64(&p.tasksRetried, 1)
		p.logger.Debug("retrying task",
			zap.String("task_id", task.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(result.Error))

		select {
		case <-ctx.Done():
		case <-time.After(p.config.RetryDelay * time.Duration(attempt+1)):
		}
	}

	if result.Success {
		atomic.AddInt64(&p.tasksCompleted, 1)
	} else {
		atomic.AddInt64(&p.tasksFailed, 1)
		p.logger.Warn("task failed",
			zap.String("task_id", task.ID),
			zap.Int("worker_id", workerID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Error))
	}
	return result
}

// Stats holds pool statistics
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	TasksRetried   int64
	ActiveWorkers  int64
	QueueDepth     int64
	QueueCapacity  int
	Workers        int
}

// Stats returns current pool statistics
func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: atomic.LoadInt64(&p.tasksSubmitted),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksRetried:   atomic.LoadInt64(&p.tasksRetried),
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		QueueDepth:     atomic.LoadInt64(&p.queueDepth),
		QueueCapacity:  p.config.QueueSize,
		Workers:        p.config.Workers,
	}
}

// IsHealthy reports whether the pool accepts work and its queue is below 90%
// of capacity.
func (p *Pool) IsHealthy() bool {
	stats := p.Stats()
	return p.ctx.Err() == nil && float64(stats.QueueDepth)/float64(stats.QueueCapacity) < 0.9
}
