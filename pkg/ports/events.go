package ports

import (
	"context"
	"time"
)

// EventType categorises bus events
type EventType string

const (
	EventTypeRunStarted     EventType = "run.started"
	EventTypeRunCompleted   EventType = "run.completed"
	EventTypeRunFaulted     EventType = "run.faulted"
	EventTypeRunCancelled   EventType = "run.cancelled"
	EventTypeStepRequested  EventType = "step.requested"
	EventTypeProcessEmitted EventType = "process.emitted"
	EventTypeWindowExpired  EventType = "window.expired"
)

// Bus topics
const (
	TopicRunEvents    = "run.events"
	TopicStepRequests = "step.requests"
	TopicEmitted      = "process.emitted"
)

// Event is the bus envelope
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Name        string                 `json:"name,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EventHandler handles bus events
type EventHandler func(ctx context.Context, event Event) error

// EventPublisher publishes events to a topic
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// EventBus is a topic based publish/subscribe transport
type EventBus interface {
	EventPublisher
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
