package domain

import "time"

// Suffixes of the events a step raises on completion and failure
const (
	ResultEventSuffix = ".OnResult"
	ErrorEventSuffix  = ".OnError"
)

// ResultEventName is the event raised by a node when function completes
func ResultEventName(function string) string {
	return function + ResultEventSuffix
}

// ErrorEventName is the event raised by a node when function fails
func ErrorEventName(function string) string {
	return function + ErrorEventSuffix
}

// ProcessMessage is the unit of work handed to the step execution collaborator
type ProcessMessage struct {
	ID                 string           `json:"id" mapstructure:"id"`
	RunID              string           `json:"run_id" mapstructure:"run_id"`
	SourceNodeID       string           `json:"source_node_id" mapstructure:"source_node_id"`
	SourceEventID      string           `json:"source_event_id" mapstructure:"source_event_id"`
	TargetNodeID       string           `json:"target_node_id" mapstructure:"target_node_id"`
	TargetFunctionName string           `json:"target_function_name" mapstructure:"target_function_name"`
	Parameters         map[string]any   `json:"parameters" mapstructure:"parameters"`
	TargetEventID      string           `json:"target_event_id,omitempty" mapstructure:"target_event_id"`
	TargetEventData    any              `json:"target_event_data,omitempty" mapstructure:"target_event_data"`
	GroupID            string           `json:"group_id,omitempty" mapstructure:"group_id"`
	ThreadID           string           `json:"thread_id,omitempty" mapstructure:"thread_id"`
	Agent              *AgentInvocation `json:"agent,omitempty" mapstructure:"agent"`
}

// Event is an occurrence routed through the graph
type Event struct {
	ID           string    `json:"id"`
	SourceNodeID string    `json:"source_node_id"`
	Name         string    `json:"name"`
	Payload      any       `json:"payload,omitempty"`
	ThreadID     string    `json:"thread_id,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Key returns the routing key of the event
func (e Event) Key() EventKey {
	return EventKey{NodeID: e.SourceNodeID, EventName: e.Name}
}

// StepOutput lets a step choose the event raised on completion
type StepOutput struct {
	EventName string `json:"event_name" mapstructure:"event_name"`
	Payload   any    `json:"payload,omitempty" mapstructure:"payload"`
}

// RunStatus is the lifecycle status of a process run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFaulted   RunStatus = "faulted"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further events are accepted
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFaulted || s == RunStatusCancelled
}

// WindowState is the state of a join accumulation window
type WindowState string

const (
	WindowIdle         WindowState = "idle"
	WindowAccumulating WindowState = "accumulating"
	WindowReady        WindowState = "ready"
	WindowDispatched   WindowState = "dispatched"
	WindowFaulted      WindowState = "faulted"
)

// WindowSnapshot is the observable state of one join window
type WindowSnapshot struct {
	GroupID  string      `json:"group_id"`
	State    WindowState `json:"state"`
	Round    int         `json:"round"`
	Observed []EventKey  `json:"observed,omitempty"`
}

// RunSnapshot is the persisted view of a process run
type RunSnapshot struct {
	RunID       string                    `json:"run_id"`
	GraphID     string                    `json:"graph_id"`
	Status      RunStatus                 `json:"status"`
	State       map[string]any            `json:"state"`
	Windows     map[string]WindowSnapshot `json:"windows,omitempty"`
	Error       string                    `json:"error,omitempty"`
	StartedAt   time.Time                 `json:"started_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
}
