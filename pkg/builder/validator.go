package builder

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/aescanero/procflow/pkg/domain"
)

// Validator validates process graph structures
type Validator struct{}

// NewValidator creates a new graph validator
func NewValidator() *Validator {
	return &Validator{}
}

// Validate checks node references, target shapes, condition lists and variable paths.
// Every problem found is reported; the result matches domain.ErrInvalidGraph.
func (v *Validator) Validate(g *domain.Graph) error {
	if g == nil {
		return &domain.InvalidGraphError{Reason: "graph is nil"}
	}

	var errs []error
	if strings.TrimSpace(g.ID) == "" {
		errs = append(errs, &domain.InvalidGraphError{Reason: "graph id is required"})
	}

	for _, id := range sortedKeys(g.Nodes) {
		errs = append(errs, v.validateNode(g, id, g.Nodes[id])...)
	}

	for _, name := range sortedKeys(g.Variables) {
		if g.Variables[name] == nil || g.Variables[name].Name != name {
			errs = append(errs, &domain.InvalidGraphError{Reason: fmt.Sprintf("variable %q is registered under a different name", name)})
		}
	}

	keys := make([]domain.EventKey, 0, len(g.Edges))
	for key := range g.Edges {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	for _, key := range keys {
		errs = append(errs, v.validateEdges(g, key, g.Edges[key])...)
	}

	for _, id := range sortedKeys(g.Groups) {
		errs = append(errs, v.validateGroup(g, g.Groups[id])...)
	}

	if g.ErrorHandling != nil {
		for _, step := range g.ErrorHandling.OnError {
			if strings.TrimSpace(step.Event) == "" {
				errs = append(errs, &domain.InvalidGraphError{Reason: "error handler requires an event"})
			}
			for _, t := range step.Then {
				errs = append(errs, v.validateTarget(g, "", "error handler "+step.Event, t)...)
			}
		}
		for _, t := range g.ErrorHandling.Default {
			errs = append(errs, v.validateTarget(g, "", "default error handler", t)...)
		}
	}

	return errors.Join(errs...)
}

// validateNode validates a single node and its hooks
func (v *Validator) validateNode(g *domain.Graph, id string, node *domain.Node) []error {
	if node == nil {
		return []error{&domain.InvalidGraphError{NodeID: id, Reason: "node is nil"}}
	}
	var errs []error
	if strings.TrimSpace(node.ID) == "" {
		errs = append(errs, &domain.InvalidGraphError{Reason: "node id is required"})
	}
	if node.ID != id {
		errs = append(errs, &domain.InvalidGraphError{NodeID: id, Reason: fmt.Sprintf("node registered under id %q", node.ID)})
	}
	if id == domain.EndNodeID {
		errs = append(errs, &domain.InvalidGraphError{NodeID: id, Reason: "node id is reserved"})
	}

	for hook, actions := range map[string][]domain.OnEventAction{"on_error": node.OnError, "on_complete": node.OnComplete} {
		conditions := make([]*domain.Condition, 0, len(actions))
		for _, a := range actions {
			conditions = append(conditions, a.Condition)
		}
		errs = append(errs, v.validateConditions(g, id, hook, conditions)...)
	}
	return errs
}

// validateEdges validates the edges listening for one source event
func (v *Validator) validateEdges(g *domain.Graph, key domain.EventKey, edges []*domain.Edge) []error {
	var errs []error
	if !v.sourceExists(g, key.NodeID) {
		errs = append(errs, &domain.InvalidGraphError{NodeID: key.NodeID, Edge: key.String(), Reason: "source node does not exist"})
	}

	// Condition lists are per branch set: ungrouped edges, then each group separately.
	lists := make(map[string][]*domain.Condition)
	seen := make(map[*domain.Condition]bool)
	for _, e := range edges {
		if e.Key() != key {
			errs = append(errs, &domain.InvalidGraphError{NodeID: e.SourceNodeID, Edge: e.String(), Reason: "edge registered under another source"})
		}
		errs = append(errs, v.validateTarget(g, e.SourceNodeID, e.String(), e.Target)...)

		if e.GroupID != "" {
			group, ok := g.Groups[e.GroupID]
			if !ok || !group.Requires(key) {
				errs = append(errs, &domain.InvalidGraphError{NodeID: e.SourceNodeID, Edge: e.String(), Reason: fmt.Sprintf("group %q does not require this source", e.GroupID)})
			}
		}
		if e.Condition != nil && !seen[e.Condition] {
			seen[e.Condition] = true
			lists[e.GroupID] = append(lists[e.GroupID], e.Condition)
		}
	}

	for groupID, conditions := range lists {
		scope := "edges of " + key.String()
		if groupID != "" {
			scope += " in group " + groupID
		}
		errs = append(errs, v.validateConditions(g, key.NodeID, scope, conditions)...)
	}
	return errs
}

// validateConditions checks one ordered condition list
func (v *Validator) validateConditions(g *domain.Graph, nodeID, scope string, conditions []*domain.Condition) []error {
	var errs []error
	defaults := 0
	for _, c := range conditions {
		if c == nil {
			errs = append(errs, &domain.InvalidGraphError{NodeID: nodeID, Edge: scope, Reason: "condition is nil"})
			continue
		}
		if err := c.Validate(); err != nil {
			errs = append(errs, &domain.InvalidGraphError{NodeID: nodeID, Edge: scope, Reason: err.Error()})
		}
		if c.Type == domain.ConditionDefault {
			defaults++
		}
		for _, u := range c.Updates {
			if _, ok := g.Variables[u.Variable()]; !ok {
				errs = append(errs, &domain.InvalidGraphError{NodeID: nodeID, Edge: scope, Reason: fmt.Sprintf("condition updates undeclared variable %q", u.Path)})
			}
		}
	}
	if defaults > 1 {
		errs = append(errs, &domain.InvalidGraphError{NodeID: nodeID, Edge: scope, Reason: fmt.Sprintf("%d default conditions, at most one allowed", defaults)})
	}
	return errs
}

// validateTarget validates the target shape and its references
func (v *Validator) validateTarget(g *domain.Graph, nodeID, ref string, t domain.EdgeTarget) []error {
	if err := t.Validate(); err != nil {
		return []error{&domain.InvalidGraphError{NodeID: nodeID, Edge: ref, Reason: err.Error()}}
	}

	switch t.Kind {
	case domain.TargetInvocation:
		target, ok := g.Node(t.Invocation.NodeID)
		if !ok {
			return []error{&domain.InvalidGraphError{NodeID: t.Invocation.NodeID, Edge: ref, Reason: "target node does not exist"}}
		}
		if t.Invocation.Agent != nil && target.StepType != domain.StepTypeAgent {
			return []error{&domain.InvalidGraphError{NodeID: t.Invocation.NodeID, Edge: ref, Reason: "agent invocation targets a non-agent node"}}
		}
	case domain.TargetStateUpdate:
		if _, ok := g.Variables[t.StateUpdate.Variable()]; !ok {
			return []error{&domain.InvalidGraphError{NodeID: nodeID, Edge: ref, Reason: fmt.Sprintf("update of undeclared variable %q", t.StateUpdate.Path)}}
		}
	}
	return nil
}

// validateGroup validates a join barrier
func (v *Validator) validateGroup(g *domain.Graph, group *domain.EdgeGroup) []error {
	if len(group.RequiredSources) == 0 {
		return []error{&domain.InvalidGraphError{Edge: "group " + group.ID, Reason: "group has no sources"}}
	}
	var errs []error
	for _, source := range group.RequiredSources {
		if !v.sourceExists(g, source.NodeID) {
			errs = append(errs, &domain.InvalidGraphError{NodeID: source.NodeID, Edge: "group " + group.ID, Reason: "source node does not exist"})
		}
	}
	if len(g.GroupEdges(group)) == 0 {
		errs = append(errs, &domain.InvalidGraphError{Edge: "group " + group.ID, Reason: "group has no targets"})
	}
	return errs
}

// sourceExists accepts declared nodes and the graph id itself, which raises external input events
func (v *Validator) sourceExists(g *domain.Graph, nodeID string) bool {
	if nodeID == g.ID {
		return true
	}
	_, ok := g.Nodes[nodeID]
	return ok
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
