package events

import (
	"context"
	"errors"

	"gatehouse.dev/internal/auth"
)

// Fanout delivers each event to every publisher and joins their errors.
type Fanout []auth.EventPublisher

func (f Fanout) Publish(ctx context.Context, ev auth.Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
