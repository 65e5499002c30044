package domain

import "fmt"

// ConditionType selects how a condition is resolved
type ConditionType string

const (
	ConditionEval    ConditionType = "eval"
	ConditionAlways  ConditionType = "always"
	ConditionDefault ConditionType = "default"
)

// EventEmission is an event published when a condition is selected
type EventEmission struct {
	EventType string            `json:"event_type"`
	Payload   map[string]string `json:"payload,omitempty"`
}

// Condition gates an edge or a node hook. Edges sharing one *Condition form one branch.
type Condition struct {
	Type       ConditionType
	Expression string
	Emits      []EventEmission
	Updates    []VariableUpdate
}

// Eval returns an expression condition
func Eval(expression string) *Condition {
	return &Condition{Type: ConditionEval, Expression: expression}
}

// Always returns a condition that matches unconditionally
func Always() *Condition {
	return &Condition{Type: ConditionAlways}
}

// Default returns the fallback condition
func Default() *Condition {
	return &Condition{Type: ConditionDefault}
}

// WithUpdates appends state updates applied when the condition is selected
func (c *Condition) WithUpdates(updates ...VariableUpdate) *Condition {
	c.Updates = append(c.Updates, updates...)
	return c
}

// WithEmits appends events published when the condition is selected
func (c *Condition) WithEmits(emits ...EventEmission) *Condition {
	c.Emits = append(c.Emits, emits...)
	return c
}

// Validate checks the condition shape
func (c *Condition) Validate() error {
	switch c.Type {
	case ConditionEval:
		if c.Expression == "" {
			return fmt.Errorf("eval condition requires an expression")
		}
	case ConditionAlways, ConditionDefault:
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	for _, u := range c.Updates {
		if err := u.Validate(); err != nil {
			return err
		}
	}
	for _, e := range c.Emits {
		if e.EventType == "" {
			return fmt.Errorf("condition emit requires an event type")
		}
	}
	return nil
}

// OnEventAction is a node hook entry
type OnEventAction struct {
	Condition *Condition
}
