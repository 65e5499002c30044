package domain

import (
	"fmt"
	"sort"
)

// EndNodeID is the reserved terminal node. Invoking it completes the run.
const EndNodeID = "_end_"

// EndFunctionName is the function invoked on the terminal node
const EndFunctionName = "stop"

// StepTypeAgent marks nodes executed by an agent
const StepTypeAgent = "agent"

// Node is a named unit of work
type Node struct {
	ID           string
	StepType     string
	Description  string
	InputsSchema map[string]any
	OnError      []OnEventAction
	OnComplete   []OnEventAction
}

// EventKey identifies an event by origin node and name
type EventKey struct {
	NodeID    string `json:"node_id"`
	EventName string `json:"event_name"`
}

func (k EventKey) String() string {
	return k.NodeID + "." + k.EventName
}

// Edge routes one source event to one target
type Edge struct {
	SourceNodeID    string
	SourceEventName string
	Target          EdgeTarget
	Condition       *Condition
	GroupID         string
	Metadata        map[string]string
}

// Key returns the source event key
func (e *Edge) Key() EventKey {
	return EventKey{NodeID: e.SourceNodeID, EventName: e.SourceEventName}
}

func (e *Edge) String() string {
	if e.GroupID != "" {
		return fmt.Sprintf("%s -> %s [group %s]", e.Key(), e.Target, e.GroupID)
	}
	return fmt.Sprintf("%s -> %s", e.Key(), e.Target)
}

// EdgeGroup is a join barrier over RequiredSources
type EdgeGroup struct {
	ID              string
	RequiredSources []EventKey
}

// Requires reports whether key is one of the group's sources
func (g *EdgeGroup) Requires(key EventKey) bool {
	for _, k := range g.RequiredSources {
		if k == key {
			return true
		}
	}
	return false
}

// ErrorHandlingStep routes errors whose kind or event name equals Event
type ErrorHandlingStep struct {
	Event string
	Then  []EdgeTarget
}

// ErrorHandling is the graph-level fallback for unhandled runtime errors
type ErrorHandling struct {
	OnError []ErrorHandlingStep
	Default []EdgeTarget
}

// Graph is a sealed process graph. It is not mutated after sealing.
type Graph struct {
	ID            string
	Name          string
	Version       string
	Nodes         map[string]*Node
	Variables     map[string]*Variable
	Edges         map[EventKey][]*Edge
	Groups        map[string]*EdgeGroup
	ErrorHandling *ErrorHandling
}

// Node returns a node by id. The terminal node always resolves.
func (g *Graph) Node(id string) (*Node, bool) {
	if n, ok := g.Nodes[id]; ok {
		return n, true
	}
	if id == EndNodeID {
		return &Node{ID: EndNodeID}, true
	}
	return nil, false
}

// EdgesFor returns the edges listening for key in declaration order
func (g *Graph) EdgesFor(key EventKey) []*Edge {
	return g.Edges[key]
}

// GroupsFor returns the groups requiring key, ordered by id
func (g *Graph) GroupsFor(key EventKey) []*EdgeGroup {
	var groups []*EdgeGroup
	for _, group := range g.Groups {
		if group.Requires(key) {
			groups = append(groups, group)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
	return groups
}

// GroupEdges returns the targets of a group: the grouped edges of its first source
func (g *Graph) GroupEdges(group *EdgeGroup) []*Edge {
	if len(group.RequiredSources) == 0 {
		return nil
	}
	var edges []*Edge
	for _, e := range g.Edges[group.RequiredSources[0]] {
		if e.GroupID == group.ID {
			edges = append(edges, e)
		}
	}
	return edges
}

// Listens reports whether any edge or group reacts to key
func (g *Graph) Listens(key EventKey) bool {
	return len(g.Edges[key]) > 0
}
