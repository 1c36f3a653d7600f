package live

import (
	"context"

	"go.uber.org/zap"
)

// Subscriber feeds bus events to an Applier.
type Subscriber struct {
	applier *Applier
}

// NewSubscriber creates a Subscriber.
func NewSubscriber(a *Applier) *Subscriber {
	return &Subscriber{applier: a}
}

// Run consumes bus events until ctx is done or the bus closes.
func (s *Subscriber) Run(ctx context.Context, bus *Bus) error {
	ch := bus.Subscribe()
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e, ok := <-ch:
			if !ok {
				return nil
			}
			s.handle(ctx, e)
		}
	}
}

func (s *Subscriber) handle(ctx context.Context, e Event) {
	if e.Type != TypeRecordCreated {
		zap.L().Debug("live: ignoring event", zap.String("type", e.Type))
		return
	}
	added, err := s.applier.OnRecordCreated(ctx, e.Record)
	if err != nil {
		zap.L().Warn("live: apply event failed", zap.Stringer("event_id", e.ID), zap.Error(err))
		return
	}
	zap.L().Debug("live: applied event", zap.Stringer("event_id", e.ID), zap.Bool("added", added))
}
