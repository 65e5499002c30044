package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"
	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

// Pool manages a pool of worker goroutines executing process messages
type Pool struct {
	size        int
	eventBus    ports.EventBus
	executor    ports.StepExecutor
	reporter    ports.StepReporter
	metrics     ports.MetricsCollector
	logger      *zap.Logger
	health      *HealthMonitor
	stepTimeout time.Duration

	workers []*worker
	jobs    chan domain.ProcessMessage
	stats   stepStats
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// worker represents a single worker goroutine
type worker struct {
	id      string
	pool    *Pool
	status  WorkerStatus
	mu      sync.RWMutex
	lastJob time.Time
}

// WorkerStatus represents worker status
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusBusy    WorkerStatus = "busy"
	WorkerStatusStopped WorkerStatus = "stopped"
)

// NewPool creates a new worker pool.
// Results and failures of every executed step are handed to reporter.
func NewPool(
	size int,
	eventBus ports.EventBus,
	executor ports.StepExecutor,
	reporter ports.StepReporter,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
	healthCheckInterval time.Duration,
	stepTimeout time.Duration,
) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	pool := &Pool{
		size:        size,
		eventBus:    eventBus,
		executor:    executor,
		reporter:    reporter,
		metrics:     metrics,
		logger:      logger,
		stepTimeout: stepTimeout,
		workers:     make([]*worker, size),
		jobs:        make(chan domain.ProcessMessage),
		ctx:         ctx,
		cancel:      cancel,
	}

	pool.health = NewHealthMonitor(pool, healthCheckInterval, logger)

	return pool
}

// Start subscribes the pool to step requests and starts the workers
func (p *Pool) Start() error {
	p.logger.Info("starting worker pool", zap.Int("size", p.size))

	if err := p.eventBus.Subscribe(p.ctx, ports.TopicStepRequests, p.enqueue); err != nil {
		return fmt.Errorf("failed to subscribe to step requests: %w", err)
	}

	for i := 0; i < p.size; i++ {
		w := &worker{
			id:      fmt.Sprintf("worker-%d", i),
			pool:    p,
			status:  WorkerStatusIdle,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(p.ctx)
	}

	p.health.Start()

	p.logger.Info("worker pool started", zap.Int("workers", p.size))
	return nil
}

// Shutdown gracefully shuts down the worker pool
func (p *Pool) Shutdown(ctx context.Context) error {
	p.logger.Info("shutting down worker pool")

	p.health.Stop()
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool shut down complete")
		return nil
	case <-ctx.Done():
		return errors.New("shutdown timeout")
	}
}

// Health returns the pool health monitor
func (p *Pool) Health() *HealthMonitor {
	return p.health
}

// enqueue hands a step request to the next free worker
func (p *Pool) enqueue(ctx context.Context, event ports.Event) error {
	msg, err := decodeMessage(event.Data["message"])
	if err != nil {
		p.logger.Error("invalid step request",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return nil
	}

	p.stats.pending.Add(1)
	defer p.stats.pending.Add(-1)

	select {
	case p.jobs <- msg:
		return nil
	case <-p.ctx.Done():
		return p.ctx.Err()
	}
}

// decodeMessage accepts a message as published in process or decoded from JSON
func decodeMessage(data any) (domain.ProcessMessage, error) {
	switch m := data.(type) {
	case domain.ProcessMessage:
		return m, nil
	case *domain.ProcessMessage:
		if m == nil {
			return domain.ProcessMessage{}, errors.New("nil process message")
		}
		return *m, nil
	case map[string]interface{}:
		var msg domain.ProcessMessage
		if err := mapstructure.Decode(m, &msg); err != nil {
			return domain.ProcessMessage{}, fmt.Errorf("failed to decode process message: %w", err)
		}
		if msg.ID == "" || msg.RunID == "" {
			return domain.ProcessMessage{}, errors.New("process message without id or run id")
		}
		return msg, nil
	default:
		return domain.ProcessMessage{}, fmt.Errorf("unexpected process message type %T", data)
	}
}

// run is the main worker loop
func (w *worker) run(ctx context.Context) {
	defer w.pool.wg.Done()

	w.pool.logger.Debug("worker started", zap.String("worker_id", w.id))

	for {
		select {
		case <-ctx.Done():
			w.setStatus(WorkerStatusStopped)
			w.pool.logger.Debug("worker stopped", zap.String("worker_id", w.id))
			return
		case msg := <-w.pool.jobs:
			w.execute(ctx, msg)
		}
	}
}

func (w *worker) setStatus(status WorkerStatus) {
	w.mu.Lock()
	w.status = status
	if status == WorkerStatusBusy {
		w.lastJob = time.Now()
	}
	w.mu.Unlock()
}

// execute runs one process message and reports its outcome
func (w *worker) execute(ctx context.Context, msg domain.ProcessMessage) {
	w.setStatus(WorkerStatusBusy)
	defer w.setStatus(WorkerStatusIdle)

	logger := w.pool.logger.With(
		zap.String("worker_id", w.id),
		zap.String("run_id", msg.RunID),
		zap.String("node_id", msg.TargetNodeID),
		zap.String("function", msg.TargetFunctionName))
	logger.Info("executing step")

	stepCtx := ctx
	if w.pool.stepTimeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, w.pool.stepTimeout)
		defer cancel()
	}

	startTime := time.Now()
	result, execErr := w.pool.executor.Execute(stepCtx, msg)
	duration := time.Since(startTime)

	var reportErr error
	switch {
	case execErr != nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded):
		w.pool.stats.timedOut.Add(1)
		w.pool.metrics.RecordStepExecuted("timed_out", duration)
		logger.Warn("step timed out", zap.Duration("timeout", w.pool.stepTimeout), zap.Error(execErr))
		reportErr = w.pool.reporter.FailStep(ctx, msg, execErr)
	case execErr != nil:
		w.pool.stats.failed.Add(1)
		w.pool.metrics.RecordStepExecuted("failed", duration)
		logger.Warn("step failed", zap.Duration("duration", duration), zap.Error(execErr))
		reportErr = w.pool.reporter.FailStep(ctx, msg, execErr)
	default:
		w.pool.stats.completed.Add(1)
		w.pool.metrics.RecordStepExecuted("completed", duration)
		logger.Info("step completed", zap.Duration("duration", duration))
		reportErr = w.pool.reporter.CompleteStep(ctx, msg, result)
	}

	if reportErr != nil {
		w.pool.stats.unreported.Add(1)
		logger.Warn("step outcome not applied", zap.Error(reportErr))
	}
}

// stepStats counts step requests across the lifetime of a pool
type stepStats struct {
	pending    atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	timedOut   atomic.Int64
	unreported atomic.Int64
}
