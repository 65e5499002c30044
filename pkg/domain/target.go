package domain

import (
	"fmt"
	"strings"
)

// TargetKind tags the EdgeTarget variant
type TargetKind string

const (
	TargetInvocation  TargetKind = "invocation"
	TargetStateUpdate TargetKind = "state_update"
	TargetEmit        TargetKind = "emit"
)

// InputMapping reshapes a triggering payload into invocation parameters
type InputMapping func(payload any) map[string]any

// AgentInvocation carries agent-specific inputs for an invocation target
type AgentInvocation struct {
	Inputs     map[string]string `json:"inputs,omitempty" mapstructure:"inputs"`
	MessagesIn string            `json:"messages_in,omitempty" mapstructure:"messages_in"`
	Thread     string            `json:"thread,omitempty" mapstructure:"thread"`
}

// Invocation calls a function on a node
type Invocation struct {
	NodeID        string
	FunctionName  string
	ParameterName string
	TargetEventID string
	InputMapping  InputMapping
	Agent         *AgentInvocation
}

// Emission publishes a named event
type Emission struct {
	EventName string
	Payload   map[string]string
}

// EdgeTarget is what a fired edge does. Exactly one variant pointer is set and it matches Kind.
type EdgeTarget struct {
	Kind        TargetKind
	Invocation  *Invocation
	StateUpdate *VariableUpdate
	Emit        *Emission
}

// NewInvocationTarget builds an invocation target
func NewInvocationTarget(inv Invocation) (EdgeTarget, error) {
	if strings.TrimSpace(inv.NodeID) == "" {
		return EdgeTarget{}, fmt.Errorf("invocation target: node id is required")
	}
	if strings.TrimSpace(inv.FunctionName) == "" {
		return EdgeTarget{}, fmt.Errorf("invocation target for node %q: function name is required", inv.NodeID)
	}
	return EdgeTarget{Kind: TargetInvocation, Invocation: &inv}, nil
}

// NewStateUpdateTarget builds a state update target
func NewStateUpdateTarget(u VariableUpdate) (EdgeTarget, error) {
	if err := u.Validate(); err != nil {
		return EdgeTarget{}, fmt.Errorf("state update target: %w", err)
	}
	return EdgeTarget{Kind: TargetStateUpdate, StateUpdate: &u}, nil
}

// NewEmitTarget builds an emit target. A nil payload forwards the triggering payload on re-entry.
func NewEmitTarget(eventName string, payload map[string]string) (EdgeTarget, error) {
	if strings.TrimSpace(eventName) == "" {
		return EdgeTarget{}, fmt.Errorf("emit target: event name is required")
	}
	return EdgeTarget{Kind: TargetEmit, Emit: &Emission{EventName: eventName, Payload: payload}}, nil
}

// Validate checks that exactly one variant is populated and that it matches Kind
func (t EdgeTarget) Validate() error {
	set := 0
	if t.Invocation != nil {
		set++
	}
	if t.StateUpdate != nil {
		set++
	}
	if t.Emit != nil {
		set++
	}
	if set != 1 {
		return fmt.Errorf("target must have exactly one variant, has %d", set)
	}

	switch t.Kind {
	case TargetInvocation:
		if t.Invocation == nil {
			return fmt.Errorf("invocation target has no invocation")
		}
		_, err := NewInvocationTarget(*t.Invocation)
		return err
	case TargetStateUpdate:
		if t.StateUpdate == nil {
			return fmt.Errorf("state update target has no update")
		}
		return t.StateUpdate.Validate()
	case TargetEmit:
		if t.Emit == nil {
			return fmt.Errorf("emit target has no emission")
		}
		_, err := NewEmitTarget(t.Emit.EventName, t.Emit.Payload)
		return err
	default:
		return fmt.Errorf("unknown target kind %q", t.Kind)
	}
}

// String renders the target for logs and diagnostics
func (t EdgeTarget) String() string {
	switch t.Kind {
	case TargetInvocation:
		if t.Invocation != nil {
			return fmt.Sprintf("invoke(%s.%s)", t.Invocation.NodeID, t.Invocation.FunctionName)
		}
	case TargetStateUpdate:
		if t.StateUpdate != nil {
			return fmt.Sprintf("%s(%s)", t.StateUpdate.Operation, t.StateUpdate.Path)
		}
	case TargetEmit:
		if t.Emit != nil {
			return fmt.Sprintf("emit(%s)", t.Emit.EventName)
		}
	}
	return fmt.Sprintf("target(%s)", t.Kind)
}
