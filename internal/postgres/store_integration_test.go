package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// These tests run against a real database when POSTGRES_DSN is set.
// Every run uses fresh ids so a shared database can be reused.

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pool, err := Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, Migrate(ctx, pool))
	return NewStore(pool), uuid.NewString()[:8]
}

func mustExec(t *testing.T, db *pgxpool.Pool, sql string, args ...any) {
	t.Helper()
	_, err := db.Exec(context.Background(), sql, args...)
	require.NoError(t, err)
}

// seedDelivery stores an affiliate holding 100, a product wholesaling at 300
// and a shipped order sold at 500 less 50 with buyer payment details.
func seedDelivery(t *testing.T, s *Store, run string) (affUser, affID, orderID string) {
	t.Helper()
	affUser, affID, orderID = "aff-"+run, "AFF-"+strings.ToUpper(run), "o-"+run
	mustExec(t, s.DB, `INSERT INTO users(id, role, affiliate_id, affiliate_status, affiliate_balance) VALUES ($1,'affiliate',$2,'approved',100)`, affUser, affID)
	mustExec(t, s.DB, `INSERT INTO users(id, role) VALUES ($1,'customer')`, "buyer-"+run)
	mustExec(t, s.DB, `INSERT INTO products(id, name, price, wholesale_price) VALUES ($1,'Panjabi',550,300)`, "p-"+run)
	mustExec(t, s.DB, `INSERT INTO products(id, name, price) VALUES ($1,'Gamcha',90)`, "p-nowholesale-"+run)
	mustExec(t, s.DB, `
		INSERT INTO orders(id, product_id, buyer_id, affiliate_id, status, subtotal, discount, payment_method, payment_details)
		VALUES ($1,$2,$3,$4,'Shipped',500,50,'bkash','{"TransactionID":"TX9","SenderNumber":"017","Status":"submitted"}')`,
		orderID, "p-"+run, "buyer-"+run, affID)
	return affUser, affID, orderID
}

func TestPostgresScansDocuments(t *testing.T) {
	s, run := openTestStore(t)
	_, affID, orderID := seedDelivery(t, s, run)
	ctx := context.Background()

	err := s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		require.NoError(t, err)
		assert.Equal(t, ledger.OrderShipped, o.Status)
		assert.Equal(t, affID, o.AffiliateID)
		assert.Equal(t, "450.00", o.PriceDetails.Subtotal.Sub(o.PriceDetails.Discount).StringFixed(2))
		require.NotNil(t, o.PaymentDetails)
		assert.Equal(t, "TX9", o.PaymentDetails.TransactionID)

		p, err := tx.GetProduct(ctx, "p-"+run)
		require.NoError(t, err)
		require.True(t, p.WholesalePrice.Valid)
		assert.Equal(t, "300", p.WholesalePrice.Decimal.String())

		p, err = tx.GetProduct(ctx, "p-nowholesale-"+run)
		require.NoError(t, err)
		assert.False(t, p.WholesalePrice.Valid)

		_, err = tx.GetOrder(ctx, "missing-"+run)
		assert.ErrorIs(t, err, ledger.ErrReferenceNotFound)
		return nil
	})
	require.NoError(t, err)
}

func TestPostgresConcurrentDeliveryCreditsOnce(t *testing.T) {
	s, run := openTestStore(t)
	affUser, _, orderID := seedDelivery(t, s, run)
	mustExec(t, s.DB, `INSERT INTO users(id, role) VALUES ($1,'admin')`, "admin-"+run)
	admin := ledger.Caller{UserID: "admin-" + run, Role: ledger.RoleAdmin}
	svc := ledger.NewService(s, nil, ledger.WithRetry(5, 10*time.Millisecond))

	var wg sync.WaitGroup
	results := make([]ledger.TransitionResult, 2)
	errs := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.TransitionOrder(context.Background(), admin, orderID, ledger.OrderDelivered)
		}(i)
	}
	wg.Wait()
	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.True(t, results[0].Replayed != results[1].Replayed, "exactly one call applies the transition")

	var bal decimal.Decimal
	require.NoError(t, s.DB.QueryRow(context.Background(), `SELECT affiliate_balance FROM users WHERE id=$1`, affUser).Scan(&bal))
	assert.Equal(t, "250.00", bal.StringFixed(2))

	var effects int
	require.NoError(t, s.DB.QueryRow(context.Background(), `SELECT count(*) FROM effects WHERE document_id=$1`, orderID).Scan(&effects))
	assert.Equal(t, 1, effects)
}

func TestPostgresOutboxLease(t *testing.T) {
	s, run := openTestStore(t)
	ctx := context.Background()
	at := time.Now().UTC().Add(-time.Hour)

	var ids []string
	err := s.InTx(ctx, func(ctx context.Context, tx ledger.Tx) error {
		for i := 0; i < 2; i++ {
			rec, err := events.NewRecord(events.EventStatusChanged, "test", "doc-"+run, events.StatusChangedPayload{DocumentID: "doc-" + run}, at.Add(time.Duration(i)*time.Second))
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
		recs, err := s.ClaimPending(ctx, 1000)
		require.NoError(t, err)
		var mine []string
		for _, r := range recs {
			if r.Key == "doc-"+run {
				mine = append(mine, r.ID)
			}
		}
		return mine
	}
	assert.Equal(t, ids, claimed(), "oldest first")
	assert.Empty(t, claimed(), "leased rows are hidden from other relays")

	require.NoError(t, s.MarkPublished(ctx, ids))
	mustExec(t, s.DB, `UPDATE outbox SET claimed_until = now() - interval '1 second' WHERE key=$1`, "doc-"+run)
	assert.Empty(t, claimed(), "published rows are never claimed again")
}

func TestPostgresSharedPrefixApprovalsGetDistinctIDs(t *testing.T) {
	s, run := openTestStore(t)
	mustExec(t, s.DB, `INSERT INTO users(id, role) VALUES ($1,'admin')`, "admin-"+run)
	prefix := "s" + run[:5]
	for _, id := range []string{prefix + "-one", prefix + "-two"} {
		mustExec(t, s.DB, `INSERT INTO users(id, role, affiliate_status) VALUES ($1,'customer','pending')`, id)
	}
	admin := ledger.Caller{UserID: "admin-" + run, Role: ledger.RoleAdmin}
	svc := ledger.NewService(s, nil, ledger.WithRetry(3, time.Millisecond))
	ctx := context.Background()

	a, err := svc.ApproveAffiliate(ctx, admin, prefix+"-one")
	require.NoError(t, err)
	b, err := svc.ApproveAffiliate(ctx, admin, prefix+"-two")
	require.NoError(t, err)
	assert.NotEqual(t, a.AffiliateID, b.AffiliateID)
}
