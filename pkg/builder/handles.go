package builder

import (
	"github.com/aescanero/procflow/pkg/domain"
)

type edgeConfig struct {
	condition *domain.Condition
	metadata  map[string]string
}

// EdgeOption configures an edge registered by a handle
type EdgeOption func(*edgeConfig)

// WithCondition gates the edge. Edges registered with the same condition value fire together as one branch.
func WithCondition(c *domain.Condition) EdgeOption {
	return func(cfg *edgeConfig) { cfg.condition = c }
}

// WithMetadata attaches a diagnostic label to the edge
func WithMetadata(key, value string) EdgeOption {
	return func(cfg *edgeConfig) {
		if cfg.metadata == nil {
			cfg.metadata = make(map[string]string)
		}
		cfg.metadata[key] = value
	}
}

func newEdge(source domain.EventKey, target domain.EdgeTarget, groupID string, opts []EdgeOption) *domain.Edge {
	var cfg edgeConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return &domain.Edge{
		SourceNodeID:    source.NodeID,
		SourceEventName: source.EventName,
		Target:          target,
		Condition:       cfg.condition,
		GroupID:         groupID,
		Metadata:        cfg.metadata,
	}
}

func stopTarget() (domain.EdgeTarget, error) {
	return domain.NewInvocationTarget(domain.Invocation{NodeID: domain.EndNodeID, FunctionName: domain.EndFunctionName})
}

// EdgeBuilder wires targets to one source event. Every call returns a fresh handle.
type EdgeBuilder struct {
	d      *draft
	source domain.EventKey
}

// Source returns the source event of the handle
func (e EdgeBuilder) Source() domain.EventKey {
	return e.source
}

// SendTo routes the source event to a node function
func (e EdgeBuilder) SendTo(inv domain.Invocation, opts ...EdgeOption) EdgeBuilder {
	target, err := domain.NewInvocationTarget(inv)
	return e.register(target, err, opts)
}

// Update applies a state update when the source event fires
func (e EdgeBuilder) Update(update domain.VariableUpdate, opts ...EdgeOption) EdgeBuilder {
	target, err := domain.NewStateUpdateTarget(update)
	return e.register(target, err, opts)
}

// Emit publishes eventName when the source event fires
func (e EdgeBuilder) Emit(eventName string, payload map[string]string, opts ...EdgeOption) EdgeBuilder {
	target, err := domain.NewEmitTarget(eventName, payload)
	return e.register(target, err, opts)
}

// Stop routes the source event to the terminal node
func (e EdgeBuilder) Stop(opts ...EdgeOption) EdgeBuilder {
	target, err := stopTarget()
	return e.register(target, err, opts)
}

// register adds one edge from the source. A zero EdgeBuilder is not bound to a builder and records nothing.
func (e EdgeBuilder) register(target domain.EdgeTarget, err error, opts []EdgeOption) EdgeBuilder {
	next := EdgeBuilder{d: e.d, source: e.source}
	if e.d == nil {
		return next
	}
	if err != nil {
		e.d.fail(&domain.InvalidGraphError{NodeID: e.source.NodeID, Edge: e.source.String(), Reason: err.Error()})
		return next
	}
	e.d.addEdge(newEdge(e.source, target, "", opts))
	return next
}

// JoinBuilder wires targets that fire once all joined sources have been observed
type JoinBuilder struct {
	d       *draft
	groupID string
	sources []domain.EventKey
}

// GroupID returns the edge group id
func (j JoinBuilder) GroupID() string {
	return j.groupID
}

// Sources returns the joined source events
func (j JoinBuilder) Sources() []domain.EventKey {
	return append([]domain.EventKey(nil), j.sources...)
}

// SendTo routes the joined events to a node function
func (j JoinBuilder) SendTo(inv domain.Invocation, opts ...EdgeOption) JoinBuilder {
	target, err := domain.NewInvocationTarget(inv)
	return j.register(target, err, opts)
}

// Update applies a state update when the join fires
func (j JoinBuilder) Update(update domain.VariableUpdate, opts ...EdgeOption) JoinBuilder {
	target, err := domain.NewStateUpdateTarget(update)
	return j.register(target, err, opts)
}

// Emit publishes eventName when the join fires
func (j JoinBuilder) Emit(eventName string, payload map[string]string, opts ...EdgeOption) JoinBuilder {
	target, err := domain.NewEmitTarget(eventName, payload)
	return j.register(target, err, opts)
}

// Stop routes the join to the terminal node
func (j JoinBuilder) Stop(opts ...EdgeOption) JoinBuilder {
	target, err := stopTarget()
	return j.register(target, err, opts)
}

// register adds one edge per joined source, all carrying the group id
func (j JoinBuilder) register(target domain.EdgeTarget, err error, opts []EdgeOption) JoinBuilder {
	next := JoinBuilder{d: j.d, groupID: j.groupID, sources: j.sources}
	if j.d == nil {
		return next
	}
	if err != nil {
		j.d.fail(&domain.InvalidGraphError{Edge: "group " + j.groupID, Reason: err.Error()})
		return next
	}
	for _, source := range j.sources {
		j.d.addEdge(newEdge(source, target, j.groupID, opts))
	}
	return next
}
