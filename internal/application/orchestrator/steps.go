package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

var _ ports.StepReporter = (*Orchestrator)(nil)

// HandleStepResult re-enters a completed step: the node's on_complete hooks run, then the node
// raises the event chosen by a StepOutput result or "<function>.OnResult".
func (o *Orchestrator) HandleStepResult(ctx context.Context, msg domain.ProcessMessage, result any) (*Outcome, error) {
	r, err := o.getRun(msg.RunID)
	if err != nil {
		return nil, err
	}
	return o.process(ctx, r, func(p *pass) error {
		node, ok := r.graph.Node(msg.TargetNodeID)
		if !ok {
			return fmt.Errorf("%w: unknown node %s", domain.ErrInvalidGraph, msg.TargetNodeID)
		}

		name := domain.ResultEventName(msg.TargetFunctionName)
		payload := result
		switch out := result.(type) {
		case domain.StepOutput:
			name, payload = out.EventName, out.Payload
		case *domain.StepOutput:
			name, payload = out.EventName, out.Payload
		}

		if len(node.OnComplete) > 0 {
			conditions := make([]*domain.Condition, 0, len(node.OnComplete))
			for _, action := range node.OnComplete {
				conditions = append(conditions, action.Condition)
			}
			if c := p.selectCondition(ctx, conditions, payload); c != nil {
				if err := p.applyCondition(node.ID, c, payload, msg.ThreadID); err != nil {
					if rerr := p.recover(ctx, node.ID, "", err, payload); rerr != nil {
						return rerr
					}
				}
			}
		}

		p.enqueue(domain.Event{SourceNodeID: node.ID, Name: name, Payload: payload, ThreadID: msg.ThreadID})
		return nil
	})
}

// HandleStepFailure routes a failed step through the node's error handling
func (o *Orchestrator) HandleStepFailure(ctx context.Context, msg domain.ProcessMessage, cause error) (*Outcome, error) {
	r, err := o.getRun(msg.RunID)
	if err != nil {
		return nil, err
	}
	return o.process(ctx, r, func(p *pass) error {
		failure := &domain.StepFailedError{NodeID: msg.TargetNodeID, FunctionName: msg.TargetFunctionName, Cause: cause}
		return p.recover(ctx, msg.TargetNodeID, domain.ErrorEventName(msg.TargetFunctionName), failure, msg.TargetEventData)
	})
}

// CompleteStep implements ports.StepReporter
func (o *Orchestrator) CompleteStep(ctx context.Context, msg domain.ProcessMessage, result any) error {
	_, err := o.HandleStepResult(ctx, msg, result)
	return err
}

// FailStep implements ports.StepReporter
func (o *Orchestrator) FailStep(ctx context.Context, msg domain.ProcessMessage, cause error) error {
	_, err := o.HandleStepFailure(ctx, msg, cause)
	return err
}

// ExpireWindow force-expires the accumulating window of a group. Observations are dropped without
// touching state and an AccumulationTimeoutError goes through graph-level error handling. When no
// handler takes it the window stays faulted and the returned ScopeFaultError names the group; the
// rest of the run continues.
func (o *Orchestrator) ExpireWindow(ctx context.Context, runID, groupID string) (*Outcome, error) {
	return o.expireRound(ctx, runID, groupID, -1)
}

// expireRound expires the window only if it is still in round; -1 matches any round
func (o *Orchestrator) expireRound(ctx context.Context, runID, groupID string, round int) (*Outcome, error) {
	r, err := o.getRun(runID)
	if err != nil {
		return nil, err
	}
	return o.process(ctx, r, func(p *pass) error {
		if _, ok := r.graph.Groups[groupID]; !ok {
			return fmt.Errorf("%w: %s", domain.ErrGroupNotFound, groupID)
		}
		w, ok := r.windows[groupID]
		if !ok || w.state != domain.WindowAccumulating || (round >= 0 && w.round != round) {
			return nil
		}

		timeout := &domain.AccumulationTimeoutError{RunID: r.id, GroupID: groupID, Missing: w.missing()}
		w.fault()
		p.out.Expired = true
		p.publishLifecycle(ports.EventTypeWindowExpired, map[string]interface{}{
			"group_id": groupID,
			"round":    w.round,
		})

		err := p.recover(ctx, "", "", timeout, nil)
		var fault *domain.ScopeFaultError
		if errors.As(err, &fault) {
			fault.GroupID = groupID
			o.metrics.RecordScopeFault(domain.ErrorKind(timeout))
			o.logger.Warn("join window faulted",
				zap.String("run_id", r.id),
				zap.String("group_id", groupID))
			return fault
		}
		w.reset()
		return err
	})
}
