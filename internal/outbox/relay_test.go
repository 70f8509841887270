package outbox_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/ariefcatur/go-marketplace-ledger/internal/memstore"
	"github.com/ariefcatur/go-marketplace-ledger/internal/outbox"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	sent   []events.Record
	failOn string
}

func (p *recordingPublisher) Publish(ctx context.Context, r events.Record) error {
	if r.ID == p.failOn {
		return errors.New("broker unavailable")
	}
	p.sent = append(p.sent, r)
	return nil
}

// deliveredOrder runs one delivery through the service so the outbox holds
// a status change followed by a balance adjustment.
func deliveredOrder(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New()
	s.PutUser(ledger.User{ID: "aff-1", Role: ledger.RoleAffiliate, AffiliateID: "AFF-AFF1"})
	s.PutProduct(ledger.Product{ID: "p1", WholesalePrice: decimal.NewNullDecimal(decimal.NewFromInt(80))})
	s.PutOrder(ledger.Order{
		ID:           "o1",
		ProductID:    "p1",
		AffiliateID:  "AFF-AFF1",
		Status:       ledger.OrderShipped,
		PriceDetails: ledger.PriceDetails{Subtotal: decimal.NewFromInt(100)},
	})
	svc := ledger.NewService(s, nil)
	_, err := svc.TransitionOrder(context.Background(), ledger.Caller{UserID: "admin", Role: ledger.RoleAdmin}, "o1", ledger.OrderDelivered)
	require.NoError(t, err)
	require.Len(t, s.Outbox(), 2)
	return s
}

func TestFlushPublishesInCommitOrder(t *testing.T) {
	s := deliveredOrder(t)
	pub := &recordingPublisher{}
	relay := outbox.NewRelay(s, pub, nil, time.Second, 10)

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, pub.sent, 2)
	assert.Equal(t, events.EventStatusChanged, pub.sent[0].EventType)
	assert.Equal(t, events.EventBalanceAdjusted, pub.sent[1].EventType)

	n, err = relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n, "published records are not sent twice")
}

func TestFlushStopsAtFailureAndRetries(t *testing.T) {
	s := deliveredOrder(t)
	second := s.Outbox()[1].ID
	pub := &recordingPublisher{failOn: second}
	relay := outbox.NewRelay(s, pub, nil, time.Second, 10)

	n, err := relay.Flush(context.Background())
	assert.Error(t, err)
	assert.Equal(t, 1, n)

	pub.failOn = ""
	n, err = relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, pub.sent, 2)
	assert.Equal(t, second, pub.sent[1].ID)
}

func TestFlushHonoursBatchSize(t *testing.T) {
	s := deliveredOrder(t)
	pub := &recordingPublisher{}
	relay := outbox.NewRelay(s, pub, nil, time.Second, 1)

	n, err := relay.Flush(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunStopsWithContext(t *testing.T) {
	s := deliveredOrder(t)
	pub := &recordingPublisher{}
	relay := outbox.NewRelay(s, pub, nil, 5*time.Millisecond, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		relay.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool {
		pending, _ := s.ClaimPending(context.Background(), 10)
		return len(pending) == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
