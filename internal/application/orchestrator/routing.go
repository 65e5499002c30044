package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/procflow/internal/application/messages"
	"github.com/aescanero/procflow/pkg/domain"
	"github.com/aescanero/procflow/pkg/ports"
)

// Outcome reports what one call did to a run
type Outcome struct {
	RunID     string                  `json:"run_id"`
	Status    domain.RunStatus        `json:"status"`
	Messages  []domain.ProcessMessage `json:"messages"`
	Emitted   []domain.Event          `json:"emitted"`
	Processed int                     `json:"processed"`
	Dropped   int                     `json:"dropped"`
	Expired   bool                    `json:"expired"`
}

// pass is one serialized processing cycle over a run, executed under the run lock
type pass struct {
	o         *Orchestrator
	r         *run
	queue     []domain.Event
	out       *Outcome
	published []publication
}

type publication struct {
	topic string
	event ports.Event
}

// HandleEvent routes an event, and every event it cascades into, through the run's graph
func (o *Orchestrator) HandleEvent(ctx context.Context, runID string, event domain.Event) (*Outcome, error) {
	r, err := o.getRun(runID)
	if err != nil {
		return nil, err
	}
	return o.process(ctx, r, func(p *pass) error {
		p.enqueue(event)
		return nil
	})
}

// process runs seed and drains the resulting queue. Messages and publications are delivered
// after the run lock is released.
func (o *Orchestrator) process(ctx context.Context, r *run, seed func(p *pass) error) (*Outcome, error) {
	r.mu.Lock()
	if r.status.IsTerminal() {
		status := r.status
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: run %s is %s", domain.ErrRunNotActive, r.id, status)
	}

	p := &pass{o: o, r: r, out: &Outcome{RunID: r.id}}
	err := seed(p)
	if err == nil {
		err = p.drain(ctx)
	}

	var fault *domain.ScopeFaultError
	if errors.As(err, &fault) && fault.GroupID == "" && !r.status.IsTerminal() {
		for _, w := range r.windows {
			w.discard()
		}
		r.terminate(domain.RunStatusFaulted, fault.Cause)
		p.publishLifecycle(ports.EventTypeRunFaulted, map[string]interface{}{
			"error":   fault.Cause.Error(),
			"kind":    domain.ErrorKind(fault.Cause),
			"node_id": fault.NodeID,
		})
		o.metrics.RecordScopeFault(domain.ErrorKind(fault.Cause))
		o.logger.Error("run faulted",
			zap.String("run_id", r.id),
			zap.String("node_id", fault.NodeID),
			zap.Error(fault.Cause))
	}

	r.updatedAt = time.Now()
	p.out.Status = r.status
	finished := r.status.IsTerminal() && !r.finished
	if finished {
		r.finished = true
	}
	snap := r.snapshot()
	r.mu.Unlock()

	o.flush(ctx, p)
	o.persist(ctx, snap)
	if finished {
		o.finish(r)
	}
	return p.out, err
}

func (o *Orchestrator) flush(ctx context.Context, p *pass) {
	for _, msg := range p.out.Messages {
		if o.dispatcher == nil {
			break
		}
		if err := o.dispatcher.Dispatch(ctx, msg); err != nil {
			o.logger.Error("failed to dispatch process message",
				zap.String("run_id", msg.RunID),
				zap.String("node_id", msg.TargetNodeID),
				zap.String("function", msg.TargetFunctionName),
				zap.Error(err))
		}
	}
	for _, pub := range p.published {
		o.publish(ctx, pub.topic, pub.event)
	}
}

func (p *pass) enqueue(event domain.Event) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	p.queue = append(p.queue, event)
}

func (p *pass) drain(ctx context.Context) error {
	for len(p.queue) > 0 {
		if p.r.status.IsTerminal() {
			p.queue = nil
			return nil
		}
		if p.out.Processed >= p.o.maxCascade {
			return &domain.ScopeFaultError{RunID: p.r.id, Cause: domain.ErrCascadeLimitExceeded}
		}
		event := p.queue[0]
		p.queue = p.queue[1:]
		p.out.Processed++
		if err := p.route(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// route matches an event against ungrouped edges and the join windows it belongs to
func (p *pass) route(ctx context.Context, event domain.Event) error {
	key := event.Key()
	if !p.r.graph.Listens(key) {
		p.out.Dropped++
		p.o.metrics.RecordEventRouted("unmatched")
		p.o.logger.Debug("no edges for event",
			zap.String("run_id", p.r.id),
			zap.String("event", key.String()))
		return nil
	}

	var single []*domain.Edge
	for _, e := range p.r.graph.EdgesFor(key) {
		if e.GroupID == "" {
			single = append(single, e)
		}
	}
	if len(single) > 0 {
		if err := p.fire(ctx, event.SourceNodeID, single, event.ID, event.Payload, event.ThreadID, ""); err != nil {
			return err
		}
	}

	for _, group := range p.r.graph.GroupsFor(key) {
		if p.r.status.IsTerminal() {
			return nil
		}
		w := p.r.window(group)
		ready := w.observe(event)
		if w.state == domain.WindowAccumulating && w.timer == nil {
			p.armTimer(w)
		}
		if !ready {
			p.o.logger.Debug("join accumulating",
				zap.String("run_id", p.r.id),
				zap.String("group_id", group.ID),
				zap.String("state", string(w.state)),
				zap.Int("observed", len(w.observed)))
			continue
		}

		payload := w.payload()
		w.state = domain.WindowDispatched
		p.o.metrics.RecordJoinFired(group.ID)
		if err := p.fire(ctx, event.SourceNodeID, p.r.graph.GroupEdges(group), event.ID, payload, event.ThreadID, group.ID); err != nil {
			w.fault()
			return err
		}
		w.reset()
	}
	return nil
}

func (p *pass) armTimer(w *joinWindow) {
	if p.o.joinTimeout <= 0 {
		return
	}
	o := p.o
	runID, groupID, round := p.r.id, w.group.ID, w.round
	w.timer = time.AfterFunc(o.joinTimeout, func() {
		if _, err := o.expireRound(context.Background(), runID, groupID, round); err != nil {
			o.logger.Warn("join window expired",
				zap.String("run_id", runID),
				zap.String("group_id", groupID),
				zap.Error(err))
		}
	})
}

// fire resolves the condition list of edges and applies the selected targets on behalf of nodeID,
// the source of the event that made them ready. For a join that is the member completing the round.
// The selected targets apply as a unit: when one fails, state and queued effects of the others are
// rolled back before recovery runs. Only unrecovered faults are returned.
func (p *pass) fire(ctx context.Context, nodeID string, edges []*domain.Edge, eventID string, payload any, threadID, groupID string) error {
	if len(edges) == 0 {
		return nil
	}
	selected, cond := p.resolve(ctx, edges, payload)
	if len(selected) == 0 {
		p.out.Dropped++
		p.o.metrics.RecordEventRouted("dropped")
		p.o.logger.Debug("no condition matched",
			zap.String("run_id", p.r.id),
			zap.String("node_id", nodeID))
		return nil
	}
	p.o.metrics.RecordEventRouted("matched")

	cp := p.checkpoint()
	for _, e := range selected {
		if err := p.apply(ctx, nodeID, e.Target, e, eventID, payload, threadID, groupID); err != nil {
			p.rollback(cp)
			return p.recover(ctx, nodeID, "", err, payload)
		}
		if p.r.status.IsTerminal() {
			return nil
		}
	}
	if cond != nil {
		if err := p.applyCondition(nodeID, cond, payload, threadID); err != nil {
			p.rollback(cp)
			return p.recover(ctx, nodeID, "", err, payload)
		}
	}
	return nil
}

// checkpoint marks the state and queued effects of a pass before a dispatch
type checkpoint struct {
	state     map[string]any
	messages  int
	emitted   int
	published int
	queue     int
}

func (p *pass) checkpoint() checkpoint {
	return checkpoint{
		state:     p.r.store.Snapshot(),
		messages:  len(p.out.Messages),
		emitted:   len(p.out.Emitted),
		published: len(p.published),
		queue:     len(p.queue),
	}
}

func (p *pass) rollback(cp checkpoint) {
	p.r.store.Restore(cp.state)
	p.out.Messages = truncate(p.out.Messages, cp.messages)
	p.out.Emitted = truncate(p.out.Emitted, cp.emitted)
	p.published = truncate(p.published, cp.published)
	p.queue = truncate(p.queue, cp.queue)
}

func truncate[T any](s []T, n int) []T {
	if len(s) < n {
		return s
	}
	return s[:n]
}

// resolve returns the unconditioned edges plus the edges of the selected branch, in declaration order
func (p *pass) resolve(ctx context.Context, edges []*domain.Edge, payload any) ([]*domain.Edge, *domain.Condition) {
	var branches []*domain.Condition
	seen := make(map[*domain.Condition]bool)
	for _, e := range edges {
		if e.Condition != nil && !seen[e.Condition] {
			seen[e.Condition] = true
			branches = append(branches, e.Condition)
		}
	}
	chosen := p.selectCondition(ctx, branches, payload)

	var selected []*domain.Edge
	for _, e := range edges {
		if e.Condition == nil || (chosen != nil && e.Condition == chosen) {
			selected = append(selected, e)
		}
	}
	return selected, chosen
}

// selectCondition picks the first true eval or always in order, else the default
func (p *pass) selectCondition(ctx context.Context, conditions []*domain.Condition, payload any) *domain.Condition {
	var fallback *domain.Condition
	for _, c := range conditions {
		switch c.Type {
		case domain.ConditionAlways:
			return c
		case domain.ConditionDefault:
			if fallback == nil {
				fallback = c
			}
		case domain.ConditionEval:
			if p.evaluate(ctx, c.Expression, payload) {
				return c
			}
		}
	}
	return fallback
}

// evaluate treats evaluator errors as a non-match
func (p *pass) evaluate(ctx context.Context, expression string, payload any) bool {
	if p.o.evaluator == nil {
		p.o.logger.Warn("no condition evaluator configured", zap.String("expression", expression))
		return false
	}
	ok, err := p.o.evaluator.Evaluate(ctx, expression, p.r.store.Snapshot(), payload)
	if err != nil {
		p.o.logger.Warn("condition evaluation failed",
			zap.String("run_id", p.r.id),
			zap.String("expression", expression),
			zap.Error(err))
		return false
	}
	return ok
}

// apply performs one target on behalf of nodeID. edge is nil for error handler targets.
func (p *pass) apply(ctx context.Context, nodeID string, target domain.EdgeTarget, edge *domain.Edge, eventID string, payload any, threadID, groupID string) error {
	ref := target.String()
	if edge != nil {
		ref = edge.String()
	}
	if err := target.Validate(); err != nil {
		return &domain.UnsupportedTargetError{Kind: target.Kind, Edge: ref}
	}
	p.o.metrics.RecordTargetDispatched(target.Kind)

	// Graph-level handlers act as the process: the graph id is the source of what they raise.
	source := nodeID
	if source == "" {
		source = p.r.graph.ID
	}

	switch target.Kind {
	case domain.TargetInvocation:
		if target.Invocation.NodeID == domain.EndNodeID {
			p.complete()
			return nil
		}
		var msg domain.ProcessMessage
		if edge != nil {
			var err error
			if msg, err = messages.CreateFromEdge(edge, eventID, payload, threadID); err != nil {
				return err
			}
		} else {
			msg = messages.CreateFromInvocation(source, *target.Invocation, eventID, groupID, payload, threadID)
		}
		msg.ID = uuid.New().String()
		msg.RunID = p.r.id
		p.out.Messages = append(p.out.Messages, msg)
		p.o.logger.Debug("step requested",
			zap.String("run_id", p.r.id),
			zap.String("node_id", msg.TargetNodeID),
			zap.String("function", msg.TargetFunctionName))
		return nil

	case domain.TargetStateUpdate:
		if err := p.r.store.Apply(nodeID, *target.StateUpdate); err != nil {
			return fmt.Errorf("failed to apply %s: %w", ref, err)
		}
		return nil

	case domain.TargetEmit:
		p.emit(source, target.Emit.EventName, target.Emit.Payload, payload, threadID)
		return nil

	default:
		return &domain.UnsupportedTargetError{Kind: target.Kind, Edge: ref}
	}
}

// applyCondition applies the updates and emissions carried by a selected condition
func (p *pass) applyCondition(nodeID string, cond *domain.Condition, payload any, threadID string) error {
	for _, u := range cond.Updates {
		if err := p.r.store.Apply(nodeID, u); err != nil {
			return fmt.Errorf("failed to apply condition update %s: %w", u.Path, err)
		}
	}
	for _, e := range cond.Emits {
		p.emit(nodeID, e.EventType, e.Payload, payload, threadID)
	}
	return nil
}

// emit publishes an event and queues it for re-entry as an event of nodeID.
// A nil payload forwards the triggering payload.
func (p *pass) emit(nodeID, name string, payload map[string]string, trigger any, threadID string) {
	var reentry any = trigger
	if payload != nil {
		reentry = payload
	}
	event := domain.Event{
		ID:           uuid.New().String(),
		SourceNodeID: nodeID,
		Name:         name,
		Payload:      reentry,
		ThreadID:     threadID,
		Timestamp:    time.Now(),
	}
	p.out.Emitted = append(p.out.Emitted, event)

	data := map[string]interface{}{}
	if payload != nil {
		data["payload"] = payload
	}
	p.published = append(p.published, publication{
		topic: ports.TopicEmitted,
		event: ports.Event{
			ID:          event.ID,
			Type:        ports.EventTypeProcessEmitted,
			Name:        name,
			Timestamp:   event.Timestamp,
			ExecutionID: p.r.id,
			NodeID:      nodeID,
			Data:        data,
		},
	})
	p.queue = append(p.queue, event)
}

// complete finishes the run when the terminal node is invoked
func (p *pass) complete() {
	p.r.terminate(domain.RunStatusCompleted, nil)
	p.queue = nil
	for _, w := range p.r.windows {
		w.stopTimer()
	}
	p.publishLifecycle(ports.EventTypeRunCompleted, nil)
	p.o.logger.Info("run completed", zap.String("run_id", p.r.id))
}

func (p *pass) publishLifecycle(eventType ports.EventType, data map[string]interface{}) {
	p.published = append(p.published, publication{
		topic: ports.TopicRunEvents,
		event: p.o.lifecycleEvent(p.r, eventType, data),
	})
}
