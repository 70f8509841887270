// Package projector keeps read models in step with the ledger by consuming
// its balance events.
package projector

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	kafkago "github.com/segmentio/kafka-go"
)

type Deduper interface {
	FirstSeen(ctx context.Context, eventID string) (bool, error)
	Forget(ctx context.Context, eventID string) error
}

type BalanceInvalidator interface {
	Invalidate(ctx context.Context, userID string) error
}

type Service struct {
	Dedup  Deduper
	Cache  BalanceInvalidator
	Logger *observability.Logger
}

// HandleBalanceAdjusted is installed as the consumer handler for
// ledger.balance.adjusted. It drops the cached balances of the adjusted user.
func (s *Service) HandleBalanceAdjusted(ctx context.Context, m kafkago.Message) error {
	env, err := events.Decode(m.Value)
	if err != nil {
		// a message that never decodes would block the partition forever
		s.Logger.WarnWithError(ctx, "skipping undecodable message", err)
		return nil
	}
	if env.EventType != events.EventBalanceAdjusted {
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return fmt.Errorf("dedup %s: %w", env.EventID, err)
	}
	if !first {
		return nil
	}

	p, err := events.UnwrapPayload[events.BalanceAdjustedPayload](env.Payload)
	if err != nil {
		s.Logger.WarnWithError(ctx, "skipping bad balance payload", err)
		return nil
	}

	ctx = observability.WithFields(ctx,
		observability.Field{Key: "event_id", Value: env.EventID},
		observability.Field{Key: "user_id", Value: p.UserID},
		observability.Field{Key: "reason", Value: p.Reason},
	)
	if err := s.Cache.Invalidate(ctx, p.UserID); err != nil {
		// the consumer retries the message, which must not read as seen
		if ferr := s.Dedup.Forget(ctx, env.EventID); ferr != nil {
			s.Logger.WarnWithError(ctx, "dedup forget failed", ferr)
		}
		return fmt.Errorf("invalidate balances %s: %w", p.UserID, err)
	}
	s.Logger.Info(ctx, "balance cache invalidated")
	return nil
}
