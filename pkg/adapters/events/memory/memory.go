package memory

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/procflow/pkg/ports"
)

// ErrClosed is returned by Publish and Subscribe once the bus is closed
var ErrClosed = errors.New("event bus is closed")

type subscription struct {
	id      uint64
	handler ports.EventHandler
}

// InMemoryEventBus implements EventBus using in-memory handlers.
// Each published event is delivered to every handler of the topic on its own goroutine.
type InMemoryEventBus struct {
	subscribers map[string][]subscription
	nextID      uint64
	closed      bool
	logger      *zap.Logger
	wg          sync.WaitGroup
	mu          sync.RWMutex
}

// NewInMemoryEventBus creates a new in-memory event bus
func NewInMemoryEventBus(logger *zap.Logger) *InMemoryEventBus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryEventBus{
		subscribers: make(map[string][]subscription),
		logger:      logger,
	}
}

// Publish publishes an event to all subscribers of a topic
func (e *InMemoryEventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	// Handlers are counted under the lock so Close cannot start waiting before they are.
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return ErrClosed
	}
	subs := make([]subscription, len(e.subscribers[topic]))
	copy(subs, e.subscribers[topic])
	e.wg.Add(len(subs))
	e.mu.RUnlock()

	for _, sub := range subs {
		go func(s subscription) {
			defer e.wg.Done()
			if err := s.handler(context.WithoutCancel(ctx), event); err != nil {
				e.logger.Warn("event handler failed",
					zap.String("topic", topic),
					zap.String("event_id", event.ID),
					zap.String("type", string(event.Type)),
					zap.Error(err))
			}
		}(sub)
	}

	return nil
}

// Subscribe subscribes to events on a specific topic.
// The subscription is removed when ctx is cancelled.
func (e *InMemoryEventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	e.nextID++
	id := e.nextID
	e.subscribers[topic] = append(e.subscribers[topic], subscription{id: id, handler: handler})
	e.mu.Unlock()

	go func() {
		<-ctx.Done()
		e.unsubscribe(topic, id)
	}()

	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *InMemoryEventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	delete(e.subscribers, topic)
	return nil
}

// Close drops every subscriber and waits for in-flight handlers.
// Later calls to Publish and Subscribe return ErrClosed.
func (e *InMemoryEventBus) Close() error {
	e.mu.Lock()
	e.closed = true
	e.subscribers = make(map[string][]subscription)
	e.mu.Unlock()

	e.wg.Wait()
	return nil
}

// Subscribers returns the number of handlers registered on topic
func (e *InMemoryEventBus) Subscribers(topic string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subscribers[topic])
}

func (e *InMemoryEventBus) unsubscribe(topic string, id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	subs := e.subscribers[topic]
	for i, s := range subs {
		if s.id == id {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
	if len(e.subscribers[topic]) == 0 {
		delete(e.subscribers, topic)
	}
}
