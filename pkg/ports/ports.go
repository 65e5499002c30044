package ports

import (
	"context"
	"time"

	"github.com/aescanero/procflow/pkg/domain"
)

// ConditionEvaluator answers eval conditions. Implementations must be free of side effects.
type ConditionEvaluator interface {
	Evaluate(ctx context.Context, expression string, state map[string]any, payload any) (bool, error)
}

// ConditionEvaluatorFunc adapts a function to ConditionEvaluator
type ConditionEvaluatorFunc func(ctx context.Context, expression string, state map[string]any, payload any) (bool, error)

// Evaluate calls f
func (f ConditionEvaluatorFunc) Evaluate(ctx context.Context, expression string, state map[string]any, payload any) (bool, error) {
	return f(ctx, expression, state, payload)
}

// StepDispatcher hands process messages to the step execution collaborator
type StepDispatcher interface {
	Dispatch(ctx context.Context, msg domain.ProcessMessage) error
}

// StepExecutor runs the business logic behind a process message
type StepExecutor interface {
	Execute(ctx context.Context, msg domain.ProcessMessage) (any, error)
}

// StepExecutorFunc adapts a function to StepExecutor
type StepExecutorFunc func(ctx context.Context, msg domain.ProcessMessage) (any, error)

// Execute calls f
func (f StepExecutorFunc) Execute(ctx context.Context, msg domain.ProcessMessage) (any, error) {
	return f(ctx, msg)
}

// StepReporter receives step outcomes so they re-enter the graph
type StepReporter interface {
	CompleteStep(ctx context.Context, msg domain.ProcessMessage, result any) error
	FailStep(ctx context.Context, msg domain.ProcessMessage, cause error) error
}

// SnapshotStorage persists run snapshots
type SnapshotStorage interface {
	Save(ctx context.Context, snapshot *domain.RunSnapshot) error
	Load(ctx context.Context, runID string) (*domain.RunSnapshot, error)
	Delete(ctx context.Context, runID string) error
	Exists(ctx context.Context, runID string) (bool, error)
	List(ctx context.Context) ([]string, error)
	SetTTL(ctx context.Context, runID string, ttl time.Duration) error
}

// MetricsCollector records process metrics
type MetricsCollector interface {
	RecordRunStarted(graphID string)
	RecordRunFinished(graphID string, status domain.RunStatus, duration time.Duration)
	RecordEventRouted(outcome string)
	RecordTargetDispatched(kind domain.TargetKind)
	RecordJoinFired(groupID string)
	RecordScopeFault(kind string)
	RecordStepExecuted(status string, duration time.Duration)
	RecordWorkerPoolStatus(idle, busy, stopped int)
	SetActiveRuns(count int)
}
