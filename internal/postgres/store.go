package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// claimLease is how long a claimed outbox row stays hidden from other relays.
const claimLease = 30 * time.Second

var balanceColumn = map[ledger.BalanceField]string{
	ledger.WalletBalance:     "wallet_balance",
	ledger.AffiliateBalance:  "affiliate_balance",
	ledger.InfluencerBalance: "influencer_balance",
}

// Store is a ledger.Store on Postgres. Every document a unit reads is locked
// FOR UPDATE, so concurrent units on the same document run one after another.
type Store struct{ DB *pgxpool.Pool }

func NewStore(db *pgxpool.Pool) *Store { return &Store{DB: db} }

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return classify(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return classify(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return classify(err)
	}
	return nil
}

// retryableUnique lists the unique constraints a concurrent unit can trip
// by inserting the same row first. Running the unit again observes that row.
var retryableUnique = map[string]bool{
	"effects_pkey":           true,
	"users_affiliate_id_key": true,
}

// classify turns lock failures and races on retryableUnique into
// retryable conflicts.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01":
			return fmt.Errorf("%w: %s", ledger.ErrConcurrentModification, pgErr.Message)
		case pgErr.Code == "23505" && retryableUnique[pgErr.ConstraintName]:
			return fmt.Errorf("%w: %s", ledger.ErrConcurrentModification, pgErr.Message)
		}
	}
	return err
}

func notFound(err error, what, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%w: %s %s", ledger.ErrReferenceNotFound, what, id)
	}
	return err
}

type pgTx struct{ tx pgx.Tx }

const userCols = `id, name, email, role, COALESCE(affiliate_id, ''), affiliate_status,
	wallet_balance, affiliate_balance, influencer_balance, updated_at`

func scanUser(row pgx.Row) (ledger.User, error) {
	var u ledger.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.AffiliateID, &u.AffiliateStatus,
		&u.WalletBalance, &u.AffiliateBalance, &u.InfluencerBalance, &u.UpdatedAt)
	return u, err
}

func (t *pgTx) GetUser(ctx context.Context, id string) (ledger.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		return ledger.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (t *pgTx) FindUserByAffiliateID(ctx context.Context, affiliateID string) (ledger.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE affiliate_id=$1 FOR UPDATE`, affiliateID))
	if err != nil {
		return ledger.User{}, notFound(err, "affiliate", affiliateID)
	}
	return u, nil
}

func (t *pgTx) GetProduct(ctx context.Context, id string) (ledger.Product, error) {
	var p ledger.Product
	err := t.tx.QueryRow(ctx, `SELECT id, name, price, offer_price, wholesale_price FROM products WHERE id=$1 FOR SHARE`, id).
		Scan(&p.ID, &p.Name, &p.Price, &p.OfferPrice, &p.WholesalePrice)
	if err != nil {
		return ledger.Product{}, notFound(err, "product", id)
	}
	return p, nil
}

func (t *pgTx) GetOrder(ctx context.Context, id string) (ledger.Order, error) {
	var o ledger.Order
	err := t.tx.QueryRow(ctx, `
		SELECT id, product_id, product_name, buyer_id, affiliate_id, status,
		       subtotal, discount, delivery_fee, total, amount_paid,
		       payment_method, payment_details, order_date, updated_at
		FROM orders WHERE id=$1 FOR UPDATE`, id).
		Scan(&o.ID, &o.ProductID, &o.ProductName, &o.BuyerID, &o.AffiliateID, &o.Status,
			&o.PriceDetails.Subtotal, &o.PriceDetails.Discount, &o.PriceDetails.DeliveryFee,
			&o.PriceDetails.Total, &o.PriceDetails.AmountPaid,
			&o.PaymentMethod, &o.PaymentDetails, &o.OrderDate, &o.UpdatedAt)
	if err != nil {
		return ledger.Order{}, notFound(err, "order", id)
	}
	return o, nil
}

func (t *pgTx) GetWithdrawal(ctx context.Context, id string) (ledger.Withdrawal, error) {
	var w ledger.Withdrawal
	err := t.tx.QueryRow(ctx, `
		SELECT id, user_id, balance_field, amount, method, account_number, status, requested_at, processed_at
		FROM withdrawals WHERE id=$1 FOR UPDATE`, id).
		Scan(&w.ID, &w.UserID, &w.Field, &w.Amount, &w.Method, &w.AccountNumber, &w.Status, &w.RequestedAt, &w.ProcessedAt)
	if err != nil {
		return ledger.Withdrawal{}, notFound(err, "withdrawal", id)
	}
	return w, nil
}

func (t *pgTx) GetWork(ctx context.Context, id string) (ledger.Work, error) {
	var w ledger.Work
	err := t.tx.QueryRow(ctx, `
		SELECT id, post_id, title, brand_id, influencer_id, budget, status,
		       payment_status, payment_amount, payment_reference,
		       created_at, accepted_at, approved_at
		FROM works WHERE id=$1 FOR UPDATE`, id).
		Scan(&w.ID, &w.PostID, &w.Title, &w.BrandID, &w.InfluencerID, &w.Budget, &w.Status,
			&w.Payment.Status, &w.Payment.Amount, &w.Payment.Reference,
			&w.CreatedAt, &w.AcceptedAt, &w.ApprovedAt)
	if err != nil {
		return ledger.Work{}, notFound(err, "work", id)
	}
	return w, nil
}

func (t *pgTx) GetEffect(ctx context.Context, key string) (ledger.Effect, bool, error) {
	var e ledger.Effect
	err := t.tx.QueryRow(ctx, `
		SELECT key, entity, document_id, user_id, field, delta, applied_at
		FROM effects WHERE key=$1`, key).
		Scan(&e.Key, &e.Entity, &e.DocumentID, &e.UserID, &e.Field, &e.Delta, &e.AppliedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Effect{}, false, nil
	}
	if err != nil {
		return ledger.Effect{}, false, err
	}
	return e, true, nil
}

// PutEffect relies on the primary key: a second insert of the same key
// fails with a unique violation, which InTx reports as a conflict.
func (t *pgTx) PutEffect(ctx context.Context, e ledger.Effect) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO effects(key, entity, document_id, user_id, field, delta, applied_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		e.Key, e.Entity, e.DocumentID, e.UserID, e.Field, e.Delta, e.AppliedAt)
	return err
}

func (t *pgTx) SetBalance(ctx context.Context, userID string, f ledger.BalanceField, v decimal.Decimal) error {
	col, ok := balanceColumn[f]
	if !ok {
		return fmt.Errorf("%w: balance field %q", ledger.ErrInvalidInput, f)
	}
	ct, err := t.tx.Exec(ctx, `UPDATE users SET `+col+` = $2, updated_at = now() WHERE id=$1`, userID, v)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: user %s", ledger.ErrReferenceNotFound, userID)
	}
	return nil
}

func (t *pgTx) UpdateUserRole(ctx context.Context, userID string, role ledger.Role, affiliateID, affiliateStatus string) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE users SET role=$2, affiliate_id=NULLIF($3, ''), affiliate_status=$4, updated_at=now()
		WHERE id=$1`, userID, role, affiliateID, affiliateStatus)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: user %s", ledger.ErrReferenceNotFound, userID)
	}
	return nil
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, id string, s ledger.OrderStatus, at time.Time) error {
	return t.exec1(ctx, "order", id, `UPDATE orders SET status=$2, updated_at=$3 WHERE id=$1`, id, s, at)
}

func (t *pgTx) UpdateWithdrawalStatus(ctx context.Context, id string, s ledger.WithdrawalStatus, at time.Time) error {
	return t.exec1(ctx, "withdrawal", id, `UPDATE withdrawals SET status=$2, processed_at=$3 WHERE id=$1`, id, s, at)
}

func (t *pgTx) UpdateWorkStatus(ctx context.Context, id string, s ledger.WorkStatus, p ledger.WorkPayment, at time.Time) error {
	return t.exec1(ctx, "work", id, `
		UPDATE works SET
			status=$2,
			payment_status=$3, payment_amount=$4, payment_reference=$5,
			accepted_at = CASE WHEN $2 = 'in-progress' THEN COALESCE(accepted_at, $6) ELSE accepted_at END,
			approved_at = CASE WHEN $2 = 'completed' THEN $6 ELSE approved_at END
		WHERE id=$1`, id, s, p.Status, p.Amount, p.Reference, at)
}

func (t *pgTx) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO withdrawals(id, user_id, balance_field, amount, method, account_number, status, requested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		w.ID, w.UserID, w.Field, w.Amount, w.Method, w.AccountNumber, w.Status, w.RequestedAt)
	return err
}

func (t *pgTx) Enqueue(ctx context.Context, r events.Record) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox(id, topic, key, event_type, body, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)`,
		r.ID, r.Topic, r.Key, r.EventType, r.Body, r.CreatedAt)
	return err
}

func (t *pgTx) exec1(ctx context.Context, what, id, sql string, args ...any) error {
	ct, err := t.tx.Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: %s %s", ledger.ErrReferenceNotFound, what, id)
	}
	return nil
}

// ClaimPending leases up to limit unpublished outbox rows. Rows another relay
// holds are skipped; a lease that runs out makes its rows claimable again.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]events.Record, error) {
	rows, err := s.DB.Query(ctx, `
		UPDATE outbox SET claimed_until = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE published_at IS NULL AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, topic, key, event_type, body, created_at`, limit, claimLease.Seconds())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []events.Record
	for rows.Next() {
		var r events.Record
		if err := rows.Scan(&r.ID, &r.Topic, &r.Key, &r.EventType, &r.Body, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.DB.Exec(ctx, `UPDATE outbox SET published_at = now() WHERE id = ANY($1)`, ids)
	return err
}
