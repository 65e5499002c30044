package builder

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/aescanero/procflow/pkg/domain"
)

// draft is the graph under construction shared by a Builder and all handles it returns
type draft struct {
	id            string
	name          string
	version       string
	nodes         map[string]*domain.Node
	variables     map[string]*domain.Variable
	edges         map[domain.EventKey][]*domain.Edge
	groups        map[string]*domain.EdgeGroup
	errorHandling *domain.ErrorHandling
	errs          []error
}

func (d *draft) fail(err error) {
	d.errs = append(d.errs, err)
}

func (d *draft) addEdge(edge *domain.Edge) {
	key := edge.Key()
	d.edges[key] = append(d.edges[key], edge)
}

// Option configures a Builder
type Option func(*draft)

// WithName sets the graph display name
func WithName(name string) Option {
	return func(d *draft) { d.name = name }
}

// WithVersion sets the graph version
func WithVersion(version string) Option {
	return func(d *draft) { d.version = version }
}

// Builder assembles a process graph
type Builder struct {
	d *draft
}

// New creates a builder for the graph id
func New(id string, opts ...Option) *Builder {
	d := &draft{
		id:        id,
		nodes:     make(map[string]*domain.Node),
		variables: make(map[string]*domain.Variable),
		edges:     make(map[domain.EventKey][]*domain.Edge),
		groups:    make(map[string]*domain.EdgeGroup),
	}
	for _, opt := range opts {
		opt(d)
	}
	return &Builder{d: d}
}

// Node declares nodes
func (b *Builder) Node(nodes ...domain.Node) *Builder {
	for _, n := range nodes {
		if _, exists := b.d.nodes[n.ID]; exists {
			b.d.fail(&domain.InvalidGraphError{NodeID: n.ID, Reason: "duplicate node id"})
			continue
		}
		node := n
		b.d.nodes[n.ID] = &node
	}
	return b
}

// Variable declares process variables
func (b *Builder) Variable(vars ...domain.Variable) *Builder {
	for _, v := range vars {
		if _, exists := b.d.variables[v.Name]; exists {
			b.d.fail(&domain.InvalidGraphError{Reason: fmt.Sprintf("duplicate variable %q", v.Name)})
			continue
		}
		variable := v
		b.d.variables[v.Name] = &variable
	}
	return b
}

// OnError routes runtime errors whose kind or event name equals event to targets
func (b *Builder) OnError(event string, targets ...domain.EdgeTarget) *Builder {
	if b.d.errorHandling == nil {
		b.d.errorHandling = &domain.ErrorHandling{}
	}
	b.d.errorHandling.OnError = append(b.d.errorHandling.OnError, domain.ErrorHandlingStep{Event: event, Then: targets})
	return b
}

// DefaultErrorHandler sets the targets used when no other handler recovers an error
func (b *Builder) DefaultErrorHandler(targets ...domain.EdgeTarget) *Builder {
	if b.d.errorHandling == nil {
		b.d.errorHandling = &domain.ErrorHandling{}
	}
	b.d.errorHandling.Default = append(b.d.errorHandling.Default, targets...)
	return b
}

// AddSource starts wiring for the event eventName raised by nodeID
func (b *Builder) AddSource(nodeID, eventName string) EdgeBuilder {
	source := domain.EventKey{NodeID: nodeID, EventName: eventName}
	if strings.TrimSpace(nodeID) == "" || strings.TrimSpace(eventName) == "" {
		b.d.fail(&domain.InvalidGraphError{NodeID: nodeID, Edge: source.String(), Reason: "source requires node id and event name"})
	}
	return EdgeBuilder{d: b.d, source: source}
}

// Join creates an edge group over the sources of handles with a generated id
func (b *Builder) Join(handles ...EdgeBuilder) (JoinBuilder, error) {
	return b.JoinNamed(uuid.New().String(), handles...)
}

// JoinNamed creates an edge group with an explicit id. Repeated sources count once.
func (b *Builder) JoinNamed(groupID string, handles ...EdgeBuilder) (JoinBuilder, error) {
	if len(handles) == 0 {
		return JoinBuilder{}, &domain.InvalidGraphError{Reason: fmt.Sprintf("join %q requires at least one source", groupID)}
	}
	if strings.TrimSpace(groupID) == "" {
		return JoinBuilder{}, &domain.InvalidGraphError{Reason: "join requires a group id"}
	}
	if _, exists := b.d.groups[groupID]; exists {
		return JoinBuilder{}, &domain.InvalidGraphError{Reason: fmt.Sprintf("duplicate group id %q", groupID)}
	}

	seen := make(map[domain.EventKey]bool, len(handles))
	sources := make([]domain.EventKey, 0, len(handles))
	for _, h := range handles {
		if h.d != b.d {
			return JoinBuilder{}, &domain.InvalidGraphError{NodeID: h.source.NodeID, Reason: "join handle belongs to another builder"}
		}
		if seen[h.source] {
			continue
		}
		seen[h.source] = true
		sources = append(sources, h.source)
	}

	b.d.groups[groupID] = &domain.EdgeGroup{ID: groupID, RequiredSources: sources}
	return JoinBuilder{d: b.d, groupID: groupID, sources: sources}, nil
}

// Seal validates the graph and returns it. A graph with wiring errors never seals.
func (b *Builder) Seal() (*domain.Graph, error) {
	g := &domain.Graph{
		ID:        b.d.id,
		Name:      b.d.name,
		Version:   b.d.version,
		Nodes:     make(map[string]*domain.Node, len(b.d.nodes)),
		Variables: make(map[string]*domain.Variable, len(b.d.variables)),
		Edges:     make(map[domain.EventKey][]*domain.Edge, len(b.d.edges)),
		Groups:    make(map[string]*domain.EdgeGroup, len(b.d.groups)),
	}
	for id, n := range b.d.nodes {
		node := *n
		g.Nodes[id] = &node
	}
	for name, v := range b.d.variables {
		variable := *v
		g.Variables[name] = &variable
	}
	for key, edges := range b.d.edges {
		g.Edges[key] = append([]*domain.Edge(nil), edges...)
	}
	for id, grp := range b.d.groups {
		g.Groups[id] = &domain.EdgeGroup{ID: grp.ID, RequiredSources: append([]domain.EventKey(nil), grp.RequiredSources...)}
	}
	if b.d.errorHandling != nil {
		eh := *b.d.errorHandling
		g.ErrorHandling = &eh
	}

	errs := append([]error(nil), b.d.errs...)
	if err := NewValidator().Validate(g); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}
