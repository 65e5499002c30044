package orchestrator

import (
	"context"

	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/domain"
)

// recover routes a runtime error raised on behalf of nodeID. Handlers are tried in order:
// the node's on_error hooks, edges listening for errorEvent, graph-level handlers for the
// error kind or event, and the graph default. It returns nil once a handler took the error
// and a ScopeFaultError otherwise.
func (p *pass) recover(ctx context.Context, nodeID, errorEvent string, cause error, payload any) error {
	kind := domain.ErrorKind(cause)
	p.o.logger.Warn("dispatch failed",
		zap.String("run_id", p.r.id),
		zap.String("node_id", nodeID),
		zap.String("kind", kind),
		zap.Error(cause))

	info := map[string]any{
		"error":   cause.Error(),
		"kind":    kind,
		"node":    nodeID,
		"payload": payload,
	}

	if node, ok := p.r.graph.Node(nodeID); ok && len(node.OnError) > 0 {
		conditions := make([]*domain.Condition, 0, len(node.OnError))
		for _, action := range node.OnError {
			conditions = append(conditions, action.Condition)
		}
		if c := p.selectCondition(ctx, conditions, info); c != nil {
			err := p.applyCondition(nodeID, c, info, "")
			if err == nil {
				return nil
			}
			p.o.logger.Warn("on_error hook failed",
				zap.String("run_id", p.r.id),
				zap.String("node_id", nodeID),
				zap.Error(err))
		}
	}

	if errorEvent != "" {
		key := domain.EventKey{NodeID: nodeID, EventName: errorEvent}
		if len(p.r.graph.EdgesFor(key)) > 0 {
			p.enqueue(domain.Event{SourceNodeID: nodeID, Name: errorEvent, Payload: info})
			return nil
		}
	}

	if eh := p.r.graph.ErrorHandling; eh != nil {
		for _, step := range eh.OnError {
			if step.Event == kind || (errorEvent != "" && step.Event == errorEvent) {
				return p.runHandlers(ctx, nodeID, step.Then, info, cause)
			}
		}
		if len(eh.Default) > 0 {
			return p.runHandlers(ctx, nodeID, eh.Default, info, cause)
		}
	}

	return &domain.ScopeFaultError{RunID: p.r.id, NodeID: nodeID, Cause: cause}
}

// runHandlers applies graph-level handler targets as the process itself
func (p *pass) runHandlers(ctx context.Context, nodeID string, targets []domain.EdgeTarget, info map[string]any, cause error) error {
	for _, t := range targets {
		if err := p.apply(ctx, "", t, nil, "", info, "", ""); err != nil {
			p.o.logger.Error("error handler failed",
				zap.String("run_id", p.r.id),
				zap.String("target", t.String()),
				zap.Error(err))
			return &domain.ScopeFaultError{RunID: p.r.id, NodeID: nodeID, Cause: cause}
		}
		if p.r.status.IsTerminal() {
			break
		}
	}
	return nil
}
