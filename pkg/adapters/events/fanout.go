package events

import (
	"context"
	"errors"

	"github.com/aescanero/procflow/pkg/ports"
)

// Fanout publishes every event to each of its publishers in order.
// A failing publisher does not stop delivery to the others.
type Fanout []ports.EventPublisher

// Publish implements ports.EventPublisher
func (f Fanout) Publish(ctx context.Context, topic string, event ports.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
