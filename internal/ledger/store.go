package ledger

import (
	"context"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/shopspring/decimal"
)

// Store runs fn as one atomic unit. Either every write fn made commits or
// none does. A store that detects a conflicting concurrent write returns an
// error wrapping ErrConcurrentModification; fn may then be run again.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the read and write set available inside an atomic unit. Getters
// return ErrReferenceNotFound for missing documents.
type Tx interface {
	GetUser(ctx context.Context, id string) (User, error)
	FindUserByAffiliateID(ctx context.Context, affiliateID string) (User, error)
	GetProduct(ctx context.Context, id string) (Product, error)
	GetOrder(ctx context.Context, id string) (Order, error)
	GetWithdrawal(ctx context.Context, id string) (Withdrawal, error)
	GetWork(ctx context.Context, id string) (Work, error)

	// GetEffect returns ok=false when no effect with key has been applied.
	GetEffect(ctx context.Context, key string) (Effect, bool, error)
	PutEffect(ctx context.Context, e Effect) error

	SetBalance(ctx context.Context, userID string, f BalanceField, v decimal.Decimal) error
	UpdateUserRole(ctx context.Context, userID string, role Role, affiliateID, affiliateStatus string) error

	UpdateOrderStatus(ctx context.Context, id string, s OrderStatus, at time.Time) error
	UpdateWithdrawalStatus(ctx context.Context, id string, s WithdrawalStatus, at time.Time) error
	UpdateWorkStatus(ctx context.Context, id string, s WorkStatus, p WorkPayment, at time.Time) error
	CreateWithdrawal(ctx context.Context, w Withdrawal) error

	Enqueue(ctx context.Context, r events.Record) error
}
