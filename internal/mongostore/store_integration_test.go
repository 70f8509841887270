package mongostore

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// These tests need a replica set, since the ledger writes in transactions.
// Each test gets its own database, dropped afterwards.

func openTestStore(t *testing.T) *Store {
	t.Helper()
	uri := os.Getenv("MONGO_URI")
	if uri == "" {
		t.Skip("MONGO_URI not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Connect(ctx, uri, "ledger_test_"+uuid.NewString()[:8])
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.db.Drop(ctx)
		_ = s.Close(ctx)
	})
	require.NoError(t, s.EnsureIndexes(ctx))
	return s
}

func insert(t *testing.T, s *Store, col string, docs ...any) {
	t.Helper()
	_, err := s.db.Collection(col).InsertMany(context.Background(), docs)
	require.NoError(t, err)
}

// seedDelivery stores the documents the way the storefront wrote them:
// balances and prices as doubles, and a product without a wholesale price.
func seedDelivery(t *testing.T, s *Store) {
	t.Helper()
	d128, err := primitive.ParseDecimal128("500.00")
	require.NoError(t, err)
	insert(t, s, colUsers,
		bson.M{"_id": "aff-1", "role": "affiliate", "affiliateId": "AFF-AFF-1", "affiliateStatus": "approved", "affiliateBalance": 100.0},
		bson.M{"_id": "buyer-1", "role": "customer", "walletBalance": int32(0)},
	)
	insert(t, s, colProducts,
		bson.M{"_id": "p-1", "name": "Panjabi", "price": 550.0, "wholesalePrice": 300.0},
		bson.M{"_id": "p-2", "name": "Gamcha", "price": 90.0, "wholesalePrice": nil},
	)
	insert(t, s, colOrders, bson.M{
		"_id": "o-1", "productId": "p-1", "userId": "buyer-1", "affiliateId": "AFF-AFF-1", "status": "Shipped",
		"priceDetails":   bson.M{"subtotal": d128, "discount": "50"},
		"paymentMethod":  "bkash",
		"paymentDetails": bson.M{"transactionId": "TX9", "senderNumber": "017"},
	})
}

func TestMongoReadsStorefrontDocuments(t *testing.T) {
	s := openTestStore(t)
	seedDelivery(t, s)

	err := s.InTx(context.Background(), func(ctx context.Context, tx ledger.Tx) error {
		u, err := tx.FindUserByAffiliateID(ctx, "AFF-AFF-1")
		require.NoError(t, err)
		assert.Equal(t, "100.00", u.AffiliateBalance.StringFixed(2))

		o, err := tx.GetOrder(ctx, "o-1")
		require.NoError(t, err)
		assert.Equal(t, "450.00", o.PriceDetails.Subtotal.Sub(o.PriceDetails.Discount).StringFixed(2))
		require.NotNil(t, o.PaymentDetails)
		assert.Equal(t, "TX9", o.PaymentDetails.TransactionID)

		p, err := tx.GetProduct(ctx, "p-1")
		require.NoError(t, err)
		require.True(t, p.WholesalePrice.Valid)
		assert.Equal(t, "300", p.WholesalePrice.Decimal.String())

		p, err = tx.GetProduct(ctx, "p-2")
		require.NoError(t, err)
		assert.False(t, p.WholesalePrice.Valid)
		return nil
	})
	require.NoError(t, err)
}

func TestMongoConcurrentDeliveryCreditsOnce(t *testing.T) {
	s := openTestStore(t)
	seedDelivery(t, s)
	admin := ledger.Caller{UserID: "admin-1", Role: ledger.RoleAdmin}
	svc := ledger.NewService(s, nil, ledger.WithRetry(10, 10*time.Millisecond))

	var wg sync.WaitGroup
	results := make([]ledger.TransitionResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.TransitionOrder(context.Background(), admin, "o-1", ledger.OrderDelivered)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, results[0].Replayed != results[1].Replayed, "exactly one call applies the transition")

	var u userDoc
	require.NoError(t, s.db.Collection(colUsers).FindOne(context.Background(), bson.M{"_id": "aff-1"}).Decode(&u))
	assert.Equal(t, "250.00", u.AffiliateBalance.dec().StringFixed(2))

	n, err := s.db.Collection(colEffects).CountDocuments(context.Background(), bson.M{"documentId": "o-1"})
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMongoOutboxLease(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Add(-time.Hour)

	var ids []string
	err := s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for i := 0; i < 2; i++ {
			rec, err := events.NewRecord(events.EventStatusChanged, "test", "doc-1", events.StatusChangedPayload{DocumentID: "doc-1"}, at.Add(time.Duration(i)*time.Second))
			require.NoError(t, err)
			ids = append(ids, rec.ID)
			if err := tx.Enqueue(ctx, rec); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	claimed := func() []string {
		recs, err := s.ClaimPending(ctx, 10)
		require.NoError(t, err)
		var out []string
		for _, r := range recs {
			out = append(out, r.ID)
		}
		return out
	}
	assert.Equal(t, ids, claimed(), "oldest first")
	assert.Empty(t, claimed(), "leased documents are hidden from other relays")

	require.NoError(t, s.MarkPublished(ctx, ids))
	_, err = s.db.Collection(colOutbox).UpdateMany(ctx, bson.M{},
		bson.M{"$set": bson.M{"claimedUntil": time.Now().UTC().Add(-time.Second)}})
	require.NoError(t, err)
	assert.Empty(t, claimed(), "published documents are never claimed again")
}

func TestMongoSharedPrefixApprovalsGetDistinctIDs(t *testing.T) {
	s := openTestStore(t)
	insert(t, s, colUsers,
		bson.M{"_id": "seller-one", "role": "customer", "affiliateStatus": "pending"},
		bson.M{"_id": "seller-two", "role": "customer", "affiliateStatus": "pending"},
	)
	admin := ledger.Caller{UserID: "admin-1", Role: ledger.RoleAdmin}
	svc := ledger.NewService(s, nil, ledger.WithRetry(3, time.Millisecond))
	ctx := context.Background()

	a, err := svc.ApproveAffiliate(ctx, admin, "seller-one")
	require.NoError(t, err)
	b, err := svc.ApproveAffiliate(ctx, admin, "seller-two")
	require.NoError(t, err)
	assert.Equal(t, "AFF-SELLER", a.AffiliateID)
	assert.Equal(t, "AFF-SELLER-T", b.AffiliateID)
}
