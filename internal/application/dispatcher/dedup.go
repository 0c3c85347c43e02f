package dispatcher

import (
	"context"
	"fmt"

	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/event"
)

// Deduplicator makes handlers safe under at-least-once delivery. The
// processed marker and the handler's own writes share one transaction, so a
// failed handler leaves the event eligible for redelivery.
type Deduplicator struct {
	store     port.ProcessedEventRepository
	txManager port.TransactionManager
	clock     port.Clock
}

// NewDeduplicator creates a Deduplicator
func NewDeduplicator(store port.ProcessedEventRepository, txManager port.TransactionManager, clock port.Clock) *Deduplicator {
	if clock == nil {
		clock = port.NewRealClock()
	}
	return &Deduplicator{store: store, txManager: txManager, clock: clock}
}

// Wrap returns a handler that runs h at most once per event dedup key for consumer
func (d *Deduplicator) Wrap(consumer string, h Handler) Handler {
	return func(ctx context.Context, evt *event.Event) error {
		return d.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
			first, err := d.store.MarkProcessed(txCtx, consumer, evt.DedupKey(), d.clock.Now())
			if err != nil {
				return fmt.Errorf("failed to record %s for %s: %w", evt.DedupKey(), consumer, err)
			}
			if !first {
				return nil
			}
			return h(txCtx, evt)
		})
	}
}
