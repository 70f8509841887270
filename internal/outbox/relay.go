// Package outbox moves committed ledger events from the store's outbox to a
// broker. Delivery is at least once: a record is marked published only after
// the broker accepted it.
package outbox

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
)

// Source is the store side of the outbox.
type Source interface {
	ClaimPending(ctx context.Context, limit int) ([]events.Record, error)
	MarkPublished(ctx context.Context, ids []string) error
}

type Publisher interface {
	Publish(ctx context.Context, r events.Record) error
}

type Relay struct {
	src       Source
	pub       Publisher
	logger    *observability.Logger
	interval  time.Duration
	batchSize int
}

func NewRelay(src Source, pub Publisher, logger *observability.Logger, interval time.Duration, batchSize int) *Relay {
	if interval <= 0 {
		interval = time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Relay{src: src, pub: pub, logger: logger, interval: interval, batchSize: batchSize}
}

// Run flushes on every tick until ctx is done.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error(ctx, "outbox flush failed", err)
			}
		}
	}
}

// Flush publishes one batch and returns how many records went out. It stops
// at the first publish failure so later events of the same document are not
// sent ahead of it; the rest is picked up again once the claim lease ends.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	recs, err := r.src.ClaimPending(ctx, r.batchSize)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		return 0, nil
	}

	done := make([]string, 0, len(recs))
	var pubErr error
	for _, rec := range recs {
		if err := r.pub.Publish(ctx, rec); err != nil {
			r.logger.WarnWithError(observability.WithFields(ctx,
				observability.Field{Key: "event_id", Value: rec.ID},
				observability.Field{Key: "topic", Value: rec.Topic},
			), "publish failed, will retry", err)
			pubErr = err
			break
		}
		done = append(done, rec.ID)
	}

	if err := r.src.MarkPublished(ctx, done); err != nil {
		return 0, err
	}
	if len(done) > 0 {
		r.logger.Debug(observability.WithFields(ctx,
			observability.Field{Key: "count", Value: len(done)},
		), "outbox batch published")
	}
	return len(done), pubErr
}
