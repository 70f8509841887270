package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	effectAffiliateCredit   = "affiliate-credit"
	effectAffiliateReversal = "affiliate-credit-reversal"
	effectInfluencerCredit  = "influencer-credit"
	effectWithdrawalDebit   = "withdrawal-debit"
)

func EffectKey(e Entity, docID, effect string) string {
	return fmt.Sprintf("%s:%s:%s", e, docID, effect)
}

// Adjustment is a balance change applied as part of a transition.
type Adjustment struct {
	Key     string          `json:"key"`
	UserID  string          `json:"user_id"`
	Field   BalanceField    `json:"field"`
	Delta   decimal.Decimal `json:"delta"`
	Balance decimal.Decimal `json:"balance"`
}

// adjust reads the user's balance, adds delta and writes the result, all
// through tx. Unless overdraw is set a result below zero fails with
// ErrInsufficientBalance before anything is written.
func adjust(ctx context.Context, tx Tx, userID string, f BalanceField, delta decimal.Decimal, overdraw bool) (decimal.Decimal, error) {
	u, err := tx.GetUser(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	cur := u.Balance(f)
	next := RoundMoney(cur.Add(delta))
	if !overdraw && next.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: %s of %s is %s, need %s", ErrInsufficientBalance, f, userID, cur.StringFixed(2), delta.Neg().StringFixed(2))
	}
	if err := tx.SetBalance(ctx, userID, f, next); err != nil {
		return decimal.Zero, err
	}
	return next, nil
}

// applyOnce runs adjust for an effect key that has not been applied yet and
// records it. ok is false when the key was already present.
func applyOnce(ctx context.Context, tx Tx, e Effect, overdraw bool) (Adjustment, bool, error) {
	if _, seen, err := tx.GetEffect(ctx, e.Key); err != nil {
		return Adjustment{}, false, err
	} else if seen {
		return Adjustment{}, false, nil
	}
	bal, err := adjust(ctx, tx, e.UserID, e.Field, e.Delta, overdraw)
	if err != nil {
		return Adjustment{}, false, err
	}
	if err := tx.PutEffect(ctx, e); err != nil {
		return Adjustment{}, false, err
	}
	return Adjustment{Key: e.Key, UserID: e.UserID, Field: e.Field, Delta: e.Delta, Balance: bal}, true, nil
}

// affiliateCredit credits the order's affiliate with the order margin.
// Orders without an affiliate, with no positive margin, or referred by a
// revoked affiliate produce nothing.
func affiliateCredit(ctx context.Context, tx Tx, o Order, at time.Time) (*Adjustment, error) {
	if o.AffiliateID == "" {
		return nil, nil
	}
	p, err := tx.GetProduct(ctx, o.ProductID)
	if err != nil {
		return nil, fmt.Errorf("order %s product: %w", o.ID, err)
	}
	profit := AffiliateProfit(o.PriceDetails, p)
	if !profit.IsPositive() {
		return nil, nil
	}
	aff, err := tx.FindUserByAffiliateID(ctx, o.AffiliateID)
	if err != nil {
		return nil, fmt.Errorf("order %s affiliate %s: %w", o.ID, o.AffiliateID, err)
	}
	if aff.AffiliateStatus == AffiliateRevoked {
		return nil, nil
	}
	adj, ok, err := applyOnce(ctx, tx, Effect{
		Key:        EffectKey(EntityOrder, o.ID, effectAffiliateCredit),
		Entity:     EntityOrder,
		DocumentID: o.ID,
		UserID:     aff.ID,
		Field:      AffiliateBalance,
		Delta:      profit,
		AppliedAt:  at,
	}, false)
	if err != nil || !ok {
		return nil, err
	}
	return &adj, nil
}

// affiliateReversal takes back a credit made when the order was delivered.
// The affiliate may already have withdrawn it, so the balance may go negative.
func affiliateReversal(ctx context.Context, tx Tx, o Order, at time.Time) (*Adjustment, error) {
	credit, ok, err := tx.GetEffect(ctx, EffectKey(EntityOrder, o.ID, effectAffiliateCredit))
	if err != nil || !ok {
		return nil, err
	}
	adj, ok, err := applyOnce(ctx, tx, Effect{
		Key:        EffectKey(EntityOrder, o.ID, effectAffiliateReversal),
		Entity:     EntityOrder,
		DocumentID: o.ID,
		UserID:     credit.UserID,
		Field:      credit.Field,
		Delta:      credit.Delta.Neg(),
		AppliedAt:  at,
	}, true)
	if err != nil || !ok {
		return nil, err
	}
	return &adj, nil
}

func influencerCredit(ctx context.Context, tx Tx, w Work, at time.Time) (*Adjustment, error) {
	if w.InfluencerID == "" {
		return nil, fmt.Errorf("%w: work %s has no influencer", ErrReferenceNotFound, w.ID)
	}
	payout := InfluencerPayout(w.Budget)
	if !payout.IsPositive() {
		return nil, nil
	}
	adj, ok, err := applyOnce(ctx, tx, Effect{
		Key:        EffectKey(EntityWork, w.ID, effectInfluencerCredit),
		Entity:     EntityWork,
		DocumentID: w.ID,
		UserID:     w.InfluencerID,
		Field:      InfluencerBalance,
		Delta:      payout,
		AppliedAt:  at,
	}, false)
	if err != nil || !ok {
		return nil, err
	}
	return &adj, nil
}

func withdrawalDebit(ctx context.Context, tx Tx, w Withdrawal, at time.Time) (*Adjustment, error) {
	adj, ok, err := applyOnce(ctx, tx, Effect{
		Key:        EffectKey(EntityWithdrawal, w.ID, effectWithdrawalDebit),
		Entity:     EntityWithdrawal,
		DocumentID: w.ID,
		UserID:     w.UserID,
		Field:      w.Field,
		Delta:      w.Amount.Neg(),
		AppliedAt:  at,
	}, false)
	if err != nil || !ok {
		return nil, err
	}
	return &adj, nil
}
