package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

// BusDispatcher publishes process messages on the step request topic
type BusDispatcher struct {
	bus ports.EventPublisher
}

// NewBusDispatcher creates a dispatcher over bus
func NewBusDispatcher(bus ports.EventPublisher) *BusDispatcher {
	return &BusDispatcher{bus: bus}
}

// Dispatch implements ports.StepDispatcher
func (d *BusDispatcher) Dispatch(ctx context.Context, msg domain.ProcessMessage) error {
	event := ports.Event{
		ID:          msg.ID,
		Type:        ports.EventTypeStepRequested,
		Name:        msg.TargetFunctionName,
		Timestamp:   time.Now(),
		ExecutionID: msg.RunID,
		NodeID:      msg.TargetNodeID,
		Data: map[string]interface{}{
			"message": msg,
		},
	}
	if err := d.bus.Publish(ctx, ports.TopicStepRequests, event); err != nil {
		return fmt.Errorf("failed to publish step request: %w", err)
	}
	return nil
}

type noopMetrics struct{}

func (noopMetrics) RecordRunStarted(string) {}
func (noopMetrics) RecordRunFinished(string, domain.RunStatus, time.Duration) {}
func (noopMetrics) RecordEventRouted(string) {}
func (noopMetrics) RecordTargetDispatched(domain.TargetKind) {}
func (noopMetrics) RecordJoinFired(string) {}
func (noopMetrics) RecordScopeFault(string) {}
func (noopMetrics) RecordStepExecuted(string, time.Duration) {}
func (noopMetrics) RecordWorkerPoolStatus(int, int, int) {}
func (noopMetrics) SetActiveRuns(int) {}
