package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/procflow/internal/application/state"
	"github.com/aescanero/procflow/pkg/builder"
	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

// DefaultMaxCascade bounds the events processed by a single call
const DefaultMaxCascade = 1000

// Orchestrator routes events through sealed process graphs
type Orchestrator struct {
	evaluator  ports.ConditionEvaluator
	dispatcher ports.StepDispatcher
	publisher  ports.EventPublisher
	storage    ports.SnapshotStorage
	metrics    ports.MetricsCollector
	validator  *builder.Validator
	logger     *zap.Logger

	// Track active runs
	runs   sync.Map // map[string]*run
	active atomic.Int64

	// Configuration
	runTimeout  time.Duration
	joinTimeout time.Duration
	maxCascade  int
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithDispatcher sets where process messages are delivered
func WithDispatcher(d ports.StepDispatcher) Option {
	return func(o *Orchestrator) { o.dispatcher = d }
}

// WithPublisher sets the transport for emitted and lifecycle events
func WithPublisher(p ports.EventPublisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithStorage persists run snapshots after every change
func WithStorage(s ports.SnapshotStorage) Option {
	return func(o *Orchestrator) { o.storage = s }
}

// WithMetrics sets the metrics collector
func WithMetrics(m ports.MetricsCollector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithRunTimeout faults runs that do not finish in time. Zero disables it.
func WithRunTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.runTimeout = d }
}

// WithJoinTimeout force-expires join windows left accumulating longer than d. Zero disables it.
func WithJoinTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.joinTimeout = d }
}

// WithMaxCascade bounds the events processed by one call
func WithMaxCascade(n int) Option {
	return func(o *Orchestrator) { o.maxCascade = n }
}

// New creates a new orchestrator
func New(evaluator ports.ConditionEvaluator, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		evaluator:  evaluator,
		metrics:    noopMetrics{},
		validator:  builder.NewValidator(),
		logger:     logger,
		maxCascade: DefaultMaxCascade,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// StartRun validates the graph and creates a run seeded with variable defaults and inputs
func (o *Orchestrator) StartRun(ctx context.Context, graph *domain.Graph, inputs map[string]any) (string, error) {
	if err := o.validator.Validate(graph); err != nil {
		o.logger.Error("graph validation failed", zap.Error(err))
		return "", fmt.Errorf("validation failed: %w", err)
	}

	store, err := state.NewStore(graph.Variables, inputs)
	if err != nil {
		return "", fmt.Errorf("failed to initialise state: %w", err)
	}

	runID := uuid.New().String()
	now := time.Now()

	var runCtx context.Context
	var cancel context.CancelFunc
	if o.runTimeout > 0 {
		runCtx, cancel = context.WithTimeout(context.Background(), o.runTimeout)
	} else {
		runCtx, cancel = context.WithCancel(context.Background())
	}

	r := &run{
		id:        runID,
		graph:     graph,
		store:     store,
		windows:   make(map[string]*joinWindow),
		status:    domain.RunStatusRunning,
		startedAt: now,
		updatedAt: now,
		cancel:    cancel,
	}
	o.runs.Store(runID, r)
	o.metrics.SetActiveRuns(int(o.active.Add(1)))
	o.metrics.RecordRunStarted(graph.ID)

	o.publish(ctx, ports.TopicRunEvents, o.lifecycleEvent(r, ports.EventTypeRunStarted, map[string]interface{}{
		"graph_id": graph.ID,
		"inputs":   inputs,
	}))
	o.persist(ctx, r.snapshot())

	o.logger.Info("run started",
		zap.String("run_id", runID),
		zap.String("graph_id", graph.ID))

	go o.monitorRun(runCtx, runID)

	return runID, nil
}

// GetRun returns the current snapshot of a run
func (o *Orchestrator) GetRun(ctx context.Context, runID string) (*domain.RunSnapshot, error) {
	if val, ok := o.runs.Load(runID); ok {
		r := val.(*run)
		r.mu.Lock()
		defer r.mu.Unlock()
		return r.snapshot(), nil
	}
	if o.storage != nil {
		snap, err := o.storage.Load(ctx, runID)
		if err != nil {
			return nil, fmt.Errorf("failed to load run %s: %w", runID, err)
		}
		return snap, nil
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
}

// ListRuns returns the ids of known runs, active and persisted
func (o *Orchestrator) ListRuns(ctx context.Context) ([]string, error) {
	seen := make(map[string]bool)
	o.runs.Range(func(key, _ interface{}) bool {
		seen[key.(string)] = true
		return true
	})
	if o.storage != nil {
		ids, err := o.storage.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list runs: %w", err)
		}
		for _, id := range ids {
			seen[id] = true
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// CancelRun stops a run and discards every join window that has not dispatched
func (o *Orchestrator) CancelRun(ctx context.Context, runID string) error {
	r, err := o.getRun(runID)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.status.IsTerminal() {
		status := r.status
		r.mu.Unlock()
		return fmt.Errorf("%w: run %s already %s", domain.ErrRunNotActive, runID, status)
	}
	for _, w := range r.windows {
		w.discard()
	}
	r.terminate(domain.RunStatusCancelled, nil)
	r.finished = true
	snap := r.snapshot()
	r.mu.Unlock()

	o.publish(ctx, ports.TopicRunEvents, o.lifecycleEvent(r, ports.EventTypeRunCancelled, nil))
	o.persist(ctx, snap)
	o.finish(r)

	o.logger.Info("run cancelled", zap.String("run_id", runID))
	return nil
}

// monitorRun waits for the run context and faults the run on timeout
func (o *Orchestrator) monitorRun(ctx context.Context, runID string) {
	<-ctx.Done()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		o.handleTimeout(runID)
	}
}

// handleTimeout faults a run that exceeded the run timeout
func (o *Orchestrator) handleTimeout(runID string) {
	r, err := o.getRun(runID)
	if err != nil {
		return
	}

	r.mu.Lock()
	if r.status.IsTerminal() {
		r.mu.Unlock()
		return
	}
	o.logger.Warn("run timed out", zap.String("run_id", runID))
	for _, w := range r.windows {
		w.discard()
	}
	r.terminate(domain.RunStatusFaulted, errors.New("run timeout"))
	r.finished = true
	snap := r.snapshot()
	r.mu.Unlock()

	ctx := context.Background()
	o.publish(ctx, ports.TopicRunEvents, o.lifecycleEvent(r, ports.EventTypeRunFaulted, map[string]interface{}{
		"error": "run timeout",
	}))
	o.persist(ctx, snap)
	o.metrics.RecordScopeFault("run_timeout")
	o.finish(r)
}

// Shutdown cancels every active run monitor
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.logger.Info("shutting down orchestrator")

	o.runs.Range(func(_, value interface{}) bool {
		r := value.(*run)
		r.mu.Lock()
		for _, w := range r.windows {
			w.stopTimer()
		}
		r.mu.Unlock()
		r.cancel()
		return true
	})

	o.logger.Info("orchestrator shut down complete")
	return nil
}

func (o *Orchestrator) getRun(runID string) (*run, error) {
	val, ok := o.runs.Load(runID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrRunNotFound, runID)
	}
	return val.(*run), nil
}

// finish releases a run that reached a terminal status
func (o *Orchestrator) finish(r *run) {
	r.cancel()
	o.metrics.SetActiveRuns(int(o.active.Add(-1)))
	o.metrics.RecordRunFinished(r.graph.ID, r.status, time.Since(r.startedAt))
	if o.storage != nil {
		o.runs.Delete(r.id)
	}
}

func (o *Orchestrator) persist(ctx context.Context, snap *domain.RunSnapshot) {
	if o.storage == nil {
		return
	}
	if err := o.storage.Save(ctx, snap); err != nil {
		o.logger.Error("failed to save run snapshot",
			zap.String("run_id", snap.RunID),
			zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, topic string, event ports.Event) {
	if o.publisher == nil {
		return
	}
	if err := o.publisher.Publish(ctx, topic, event); err != nil {
		o.logger.Error("failed to publish event",
			zap.String("run_id", event.ExecutionID),
			zap.String("type", string(event.Type)),
			zap.Error(err))
	}
}

func (o *Orchestrator) lifecycleEvent(r *run, eventType ports.EventType, data map[string]interface{}) ports.Event {
	return ports.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now(),
		ExecutionID: r.id,
		Data:        data,
	}
}
