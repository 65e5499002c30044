package yaml

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aescanero/procflow/pkg/builder"
	"github.com/aescanero/procflow/pkg/domain"
)

// ExpressionValidator checks eval expressions at load time
type ExpressionValidator interface {
	Validate(expression string) error
}

// Loader turns YAML documents into sealed graphs
type Loader struct {
	expressions ExpressionValidator
}

// Option configures a Loader
type Option func(*Loader)

// WithExpressionValidator rejects documents whose eval expressions do not parse
func WithExpressionValidator(v ExpressionValidator) Option {
	return func(l *Loader) { l.expressions = v }
}

// NewLoader creates a loader
func NewLoader(opts ...Option) *Loader {
	l := &Loader{}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Decode parses a document without building it. Unknown fields are rejected.
func Decode(data []byte) (*Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &doc, nil
}

// Parse decodes data and seals the graph it describes
func (l *Loader) Parse(data []byte) (*domain.Graph, error) {
	doc, err := Decode(data)
	if err != nil {
		return nil, err
	}
	return l.Build(doc)
}

// LoadFile reads and seals one document
func (l *Loader) LoadFile(path string) (*domain.Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	g, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return g, nil
}

// LoadDir seals every *.yaml and *.yml document in dir, sorted by file name
func (l *Loader) LoadDir(dir string) ([]*domain.Graph, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read graphs directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".yaml", ".yml":
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(paths)

	graphs := make([]*domain.Graph, 0, len(paths))
	ids := make(map[string]string)
	for _, path := range paths {
		g, err := l.LoadFile(path)
		if err != nil {
			return nil, err
		}
		if prev, ok := ids[g.ID]; ok {
			return nil, fmt.Errorf("graph %q defined in both %s and %s", g.ID, prev, path)
		}
		ids[g.ID] = path
		graphs = append(graphs, g)
	}
	return graphs, nil
}

// Build wires a decoded document through the graph builder and seals it
func (l *Loader) Build(doc *Document) (*domain.Graph, error) {
	c := &compiler{loader: l, doc: doc, agents: make(map[string]*AgentDoc)}
	return c.compile()
}

type compiler struct {
	loader *Loader
	doc    *Document
	agents map[string]*AgentDoc
	errs   []error
}

func (c *compiler) fail(err error) {
	c.errs = append(c.errs, err)
}

func (c *compiler) compile() (*domain.Graph, error) {
	b := builder.New(c.doc.ID, builder.WithName(c.doc.Name), builder.WithVersion(c.doc.Version))

	names := make([]string, 0, len(c.doc.Variables))
	for name := range c.doc.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.Variable(c.variable(name, c.doc.Variables[name]))
	}

	for _, n := range c.doc.Nodes {
		if n.Agent != nil {
			c.agents[n.ID] = n.Agent
		}
		b.Node(domain.Node{
			ID:           n.ID,
			StepType:     n.Type,
			Description:  n.Description,
			InputsSchema: n.Inputs,
			OnError:      c.actions(n.OnError),
			OnComplete:   c.actions(n.OnComplete),
		})
	}

	for i, rule := range c.doc.Orchestration {
		c.rule(b, i, rule)
	}

	if eh := c.doc.ErrorHandling; eh != nil {
		for _, step := range eh.OnError {
			b.OnError(step.Event, c.targets(step.Then)...)
		}
		if len(eh.Default) > 0 {
			b.DefaultErrorHandler(c.targets(eh.Default)...)
		}
	}

	if len(c.errs) > 0 {
		return nil, errors.Join(c.errs...)
	}
	return b.Seal()
}

func (c *compiler) variable(name string, v VariableDoc) domain.Variable {
	acl := make([]domain.AccessControl, 0, len(v.ACLs))
	for _, a := range v.ACLs {
		acl = append(acl, domain.AccessControl{NodeID: a.Node, Access: domain.Access(a.Access)})
	}
	return domain.Variable{
		Name:      name,
		Type:      v.Type,
		Default:   v.Default,
		Scope:     v.Scope,
		Immutable: v.IsMutable != nil && !*v.IsMutable,
		ACL:       acl,
	}
}

// wiring abstracts over single sources and joins
type wiring struct {
	sendTo func(domain.Invocation, ...builder.EdgeOption)
	update func(domain.VariableUpdate, ...builder.EdgeOption)
	emit   func(string, map[string]string, ...builder.EdgeOption)
	stop   func(...builder.EdgeOption)
}

func (c *compiler) rule(b *builder.Builder, index int, rule RuleDoc) {
	listen := rule.ListenFor
	var w wiring

	if len(listen.AllOf) > 0 {
		handles := make([]builder.EdgeBuilder, 0, len(listen.AllOf))
		for _, s := range listen.AllOf {
			handles = append(handles, b.AddSource(c.origin(s.From), s.Event))
		}
		groupID := listen.Group
		if groupID == "" {
			groupID = fmt.Sprintf("%s.join%d", c.doc.ID, index)
		}
		join, err := b.JoinNamed(groupID, handles...)
		if err != nil {
			c.fail(fmt.Errorf("orchestration[%d]: %w", index, err))
			return
		}
		w = wiring{
			sendTo: func(inv domain.Invocation, opts ...builder.EdgeOption) { join.SendTo(inv, opts...) },
			update: func(u domain.VariableUpdate, opts ...builder.EdgeOption) { join.Update(u, opts...) },
			emit:   func(n string, p map[string]string, opts ...builder.EdgeOption) { join.Emit(n, p, opts...) },
			stop:   func(opts ...builder.EdgeOption) { join.Stop(opts...) },
		}
	} else {
		source := b.AddSource(c.origin(listen.From), listen.Event)
		w = wiring{
			sendTo: func(inv domain.Invocation, opts ...builder.EdgeOption) { source.SendTo(inv, opts...) },
			update: func(u domain.VariableUpdate, opts ...builder.EdgeOption) { source.Update(u, opts...) },
			emit:   func(n string, p map[string]string, opts ...builder.EdgeOption) { source.Emit(n, p, opts...) },
			stop:   func(opts ...builder.EdgeOption) { source.Stop(opts...) },
		}
	}

	if len(rule.Then) == 0 {
		c.fail(&domain.InvalidGraphError{Reason: fmt.Sprintf("orchestration[%d] has no actions", index)})
		return
	}

	var cond *domain.Condition
	if listen.Condition != nil {
		cond = c.condition(*listen.Condition)
	}

	for _, action := range rule.Then {
		var opts []builder.EdgeOption
		if cond != nil {
			opts = append(opts, builder.WithCondition(cond))
		}
		keys := make([]string, 0, len(action.Metadata))
		for k := range action.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			opts = append(opts, builder.WithMetadata(k, action.Metadata[k]))
		}

		switch action.Type {
		case ActionInvocation:
			w.sendTo(c.invocation(action), opts...)
		case ActionUpdate:
			w.update(update(action.Path, action.Operation, action.Value), opts...)
		case ActionEmit:
			w.emit(action.Event, action.Payload, opts...)
		case ActionStop:
			w.stop(opts...)
		default:
			c.fail(&domain.UnsupportedTargetError{Kind: domain.TargetKind(action.Type), Edge: fmt.Sprintf("orchestration[%d]", index)})
		}
	}
}

// origin maps an omitted source node to the graph itself
func (c *compiler) origin(from string) string {
	if from == "" {
		return c.doc.ID
	}
	return from
}

func (c *compiler) invocation(a ActionDoc) domain.Invocation {
	inv := domain.Invocation{
		NodeID:        a.Node,
		FunctionName:  a.Function,
		ParameterName: a.Parameter,
		TargetEventID: a.TargetEvent,
	}
	if agent, ok := c.agents[a.Node]; ok {
		inv.Agent = &domain.AgentInvocation{
			Inputs:     agent.Inputs,
			MessagesIn: agent.MessagesIn,
			Thread:     agent.Thread,
		}
	}
	return inv
}

func (c *compiler) targets(actions []ActionDoc) []domain.EdgeTarget {
	targets := make([]domain.EdgeTarget, 0, len(actions))
	for _, a := range actions {
		var (
			t   domain.EdgeTarget
			err error
		)
		switch a.Type {
		case ActionInvocation:
			t, err = domain.NewInvocationTarget(c.invocation(a))
		case ActionUpdate:
			t, err = domain.NewStateUpdateTarget(update(a.Path, a.Operation, a.Value))
		case ActionEmit:
			t, err = domain.NewEmitTarget(a.Event, a.Payload)
		case ActionStop:
			t, err = domain.NewInvocationTarget(domain.Invocation{NodeID: domain.EndNodeID, FunctionName: domain.EndFunctionName})
		default:
			err = &domain.UnsupportedTargetError{Kind: domain.TargetKind(a.Type), Edge: "error_handling"}
		}
		if err != nil {
			c.fail(err)
			continue
		}
		targets = append(targets, t)
	}
	return targets
}

func (c *compiler) actions(docs []ConditionDoc) []domain.OnEventAction {
	if len(docs) == 0 {
		return nil
	}
	actions := make([]domain.OnEventAction, 0, len(docs))
	for _, d := range docs {
		actions = append(actions, domain.OnEventAction{Condition: c.condition(d)})
	}
	return actions
}

func (c *compiler) condition(d ConditionDoc) *domain.Condition {
	var cond *domain.Condition
	switch domain.ConditionType(d.Type) {
	case domain.ConditionEval:
		cond = domain.Eval(d.Expression)
		if c.loader.expressions != nil {
			if err := c.loader.expressions.Validate(d.Expression); err != nil {
				c.fail(&domain.InvalidGraphError{Reason: err.Error()})
			}
		}
	case domain.ConditionAlways, "":
		cond = domain.Always()
	case domain.ConditionDefault:
		cond = domain.Default()
	default:
		c.fail(&domain.InvalidGraphError{Reason: fmt.Sprintf("unknown condition type %q", d.Type)})
		cond = domain.Always()
	}

	for _, e := range d.Emits {
		cond.WithEmits(domain.EventEmission{EventType: e.EventType, Payload: e.Payload})
	}
	for _, u := range d.Updates {
		cond.WithUpdates(update(u.Path, u.Operation, u.Value))
	}
	return cond
}

func update(path, operation string, value any) domain.VariableUpdate {
	op := domain.Operation(operation)
	if op == "" {
		op = domain.OperationSet
	}
	return domain.VariableUpdate{Path: path, Operation: op, Value: value}
}
