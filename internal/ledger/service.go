package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/observability"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	defaultMaxAttempts = 3
	defaultBackoff     = 50 * time.Millisecond
	maxBackoff         = 2 * time.Second
)

// Service applies status transitions and their balance effects.
type Service struct {
	store       Store
	logger      *observability.Logger
	producer    string
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

type Option func(*Service)

// WithRetry bounds how often a conflicting atomic unit is retried and the
// first backoff delay, which doubles per attempt.
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(s *Service) {
		if maxAttempts > 0 {
			s.maxAttempts = maxAttempts
		}
		if backoff >= 0 {
			s.backoff = backoff
		}
	}
}

func WithProducer(name string) Option {
	return func(s *Service) { s.producer = name }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, logger *observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:       store,
		logger:      logger,
		producer:    "ledger",
		maxAttempts: defaultMaxAttempts,
		backoff:     defaultBackoff,
		now:         time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	return s
}

// TransitionResult describes a committed (or replayed) transition.
type TransitionResult struct {
	Entity     Entity      `json:"entity"`
	ID         string      `json:"id"`
	From       string      `json:"from"`
	To         string      `json:"to"`
	Replayed   bool        `json:"replayed"`
	Adjustment *Adjustment `json:"adjustment,omitempty"`
}

// run executes fn atomically, retrying with exponential backoff while the
// store reports a conflicting write.
func (s *Service) run(ctx context.Context, op string, fn func(ctx context.Context, tx Tx) error) error {
	delay := s.backoff
	for attempt := 1; ; attempt++ {
		err := s.store.InTx(ctx, fn)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if attempt >= s.maxAttempts {
			return fmt.Errorf("%w: %s gave up after %d attempts: %v", ErrBalanceUpdateFailed, op, attempt, err)
		}
		s.logger.WarnWithError(observability.WithFields(ctx,
			observability.Field{Key: "op", Value: op},
			observability.Field{Key: "attempt", Value: attempt},
		), "atomic unit conflicted, retrying", err)

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
		if delay > maxBackoff {
			delay = maxBackoff
		}
	}
}

// TransitionOrder moves an order to a new status. Delivering an order that
// carries an affiliate id credits the affiliate's margin; returning a
// delivered order takes that credit back.
func (s *Service) TransitionOrder(ctx context.Context, c Caller, orderID string, to OrderStatus) (TransitionResult, error) {
	if !KnownStatus(EntityOrder, string(to)) {
		return TransitionResult{}, fmt.Errorf("%w: unknown order status %q", ErrInvalidInput, to)
	}
	var res TransitionResult
	err := s.run(ctx, "order "+orderID, func(ctx context.Context, tx Tx) error {
		o, err := tx.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		t := Transition{Entity: EntityOrder, From: string(o.Status), To: string(to)}
		res = TransitionResult{Entity: EntityOrder, ID: orderID, From: t.From, To: t.To}
		if err := Authorize(c, t, Parties{OwnerID: o.BuyerID}); err != nil {
			return err
		}
		if t.From == t.To {
			res.Replayed = true
			return nil
		}
		if !CanTransition(t.Entity, t.From, t.To) {
			return fmt.Errorf("%w: %s", ErrInvalidTransition, t)
		}

		now := s.now()
		var adj *Adjustment
		switch to {
		case OrderDelivered:
			adj, err = affiliateCredit(ctx, tx, o, now)
		case OrderReturned:
			adj, err = affiliateReversal(ctx, tx, o, now)
		}
		if err != nil {
			return err
		}
		if err := tx.UpdateOrderStatus(ctx, orderID, to, now); err != nil {
			return err
		}
		res.Adjustment = adj
		return s.enqueue(ctx, tx, c, t, orderID, adj, now)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.logResult(ctx, c, res)
	return res, nil
}

// TransitionWithdrawal approves or rejects a payout. Paying checks the
// balance and debits it in the same unit as the status write.
func (s *Service) TransitionWithdrawal(ctx context.Context, c Caller, withdrawalID string, to WithdrawalStatus) (TransitionResult, error) {
	if !KnownStatus(EntityWithdrawal, string(to)) {
		return TransitionResult{}, fmt.Errorf("%w: unknown withdrawal status %q", ErrInvalidInput, to)
	}
	var res TransitionResult
	err := s.run(ctx, "withdrawal "+withdrawalID, func(ctx context.Context, tx Tx) error {
		w, err := tx.GetWithdrawal(ctx, withdrawalID)
		if err != nil {
			return err
		}
		t := Transition{Entity: EntityWithdrawal, From: string(w.Status), To: string(to)}
		res = TransitionResult{Entity: EntityWithdrawal, ID: withdrawalID, From: t.From, To: t.To}
		if err := Authorize(c, t, Parties{OwnerID: w.UserID}); err != nil {
			return err
		}
		if t.From == t.To {
			res.Replayed = true
			return nil
		}
		if !CanTransition(t.Entity, t.From, t.To) {
			return fmt.Errorf("%w: %s", ErrInvalidTransition, t)
		}

		now := s.now()
		var adj *Adjustment
		if to == WithdrawalPaid {
			if adj, err = withdrawalDebit(ctx, tx, w, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateWithdrawalStatus(ctx, withdrawalID, to, now); err != nil {
			return err
		}
		res.Adjustment = adj
		return s.enqueue(ctx, tx, c, t, withdrawalID, adj, now)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.logResult(ctx, c, res)
	return res, nil
}

// TransitionWork advances a work contract. paymentRef is required when the
// brand reports its escrow payment. Brand approval of a submission pays the
// influencer their share of the budget.
func (s *Service) TransitionWork(ctx context.Context, c Caller, workID string, to WorkStatus, paymentRef string) (TransitionResult, error) {
	if !KnownStatus(EntityWork, string(to)) {
		return TransitionResult{}, fmt.Errorf("%w: unknown work status %q", ErrInvalidInput, to)
	}
	paymentRef = strings.TrimSpace(paymentRef)
	var res TransitionResult
	err := s.run(ctx, "work "+workID, func(ctx context.Context, tx Tx) error {
		w, err := tx.GetWork(ctx, workID)
		if err != nil {
			return err
		}
		t := Transition{Entity: EntityWork, From: string(w.Status), To: string(to)}
		res = TransitionResult{Entity: EntityWork, ID: workID, From: t.From, To: t.To}
		if err := Authorize(c, t, Parties{OwnerID: w.BrandID, AssigneeID: w.InfluencerID}); err != nil {
			return err
		}
		if t.From == t.To {
			res.Replayed = true
			return nil
		}
		if !CanTransition(t.Entity, t.From, t.To) {
			return fmt.Errorf("%w: %s", ErrInvalidTransition, t)
		}

		now := s.now()
		payment := w.Payment
		var adj *Adjustment
		switch {
		case to == WorkPendingPaymentVerification:
			if paymentRef == "" {
				return fmt.Errorf("%w: payment reference required", ErrInvalidInput)
			}
			payment.Status = PaymentSubmitted
			payment.Reference = paymentRef
			if payment.Amount.IsZero() {
				payment.Amount = w.Budget
			}
		case w.Status == WorkPendingPaymentVerification && to == WorkInProgress:
			payment.Status = PaymentVerified
		case to == WorkCompleted:
			if adj, err = influencerCredit(ctx, tx, w, now); err != nil {
				return err
			}
		}
		if err := tx.UpdateWorkStatus(ctx, workID, to, payment, now); err != nil {
			return err
		}
		res.Adjustment = adj
		return s.enqueue(ctx, tx, c, t, workID, adj, now)
	})
	if err != nil {
		return TransitionResult{}, err
	}
	s.logResult(ctx, c, res)
	return res, nil
}

type WithdrawalRequest struct {
	Amount        decimal.Decimal
	Method        string
	AccountNumber string
}

// RequestWithdrawal files a pending payout against the caller's affiliate or
// influencer balance. Nothing is debited until an admin marks it paid.
func (s *Service) RequestWithdrawal(ctx context.Context, c Caller, req WithdrawalRequest) (Withdrawal, error) {
	if c.UserID == "" {
		return Withdrawal{}, ErrUnauthenticated
	}
	var field BalanceField
	switch c.Role {
	case RoleAffiliate:
		field = AffiliateBalance
	case RoleInfluencer:
		field = InfluencerBalance
	default:
		return Withdrawal{}, fmt.Errorf("%w: role %q has no payout balance", ErrForbidden, c.Role)
	}
	if req.Amount.LessThan(MinWithdrawal) {
		return Withdrawal{}, fmt.Errorf("%w: minimum withdrawal is %s", ErrInvalidInput, MinWithdrawal.StringFixed(2))
	}
	if !req.Amount.Equal(req.Amount.Round(2)) {
		return Withdrawal{}, fmt.Errorf("%w: amount has more than two decimals", ErrInvalidInput)
	}
	if strings.TrimSpace(req.Method) == "" || strings.TrimSpace(req.AccountNumber) == "" {
		return Withdrawal{}, fmt.Errorf("%w: method and account number required", ErrInvalidInput)
	}

	var out Withdrawal
	err := s.run(ctx, "withdrawal request "+c.UserID, func(ctx context.Context, tx Tx) error {
		u, err := tx.GetUser(ctx, c.UserID)
		if err != nil {
			return err
		}
		if bal := u.Balance(field); req.Amount.GreaterThan(bal) {
			return fmt.Errorf("%w: %s is %s", ErrInsufficientBalance, field, bal.StringFixed(2))
		}
		now := s.now()
		out = Withdrawal{
			ID:            uuid.NewString(),
			UserID:        c.UserID,
			Field:         field,
			Amount:        req.Amount,
			Method:        strings.TrimSpace(req.Method),
			AccountNumber: strings.TrimSpace(req.AccountNumber),
			Status:        WithdrawalPending,
			RequestedAt:   now,
		}
		if err := tx.CreateWithdrawal(ctx, out); err != nil {
			return err
		}
		rec, err := events.NewRecord(events.EventWithdrawalRequested, s.producer, out.ID, events.WithdrawalRequestedPayload{
			WithdrawalID: out.ID,
			UserID:       out.UserID,
			Field:        string(out.Field),
			Amount:       out.Amount,
		}, now)
		if err != nil {
			return err
		}
		return tx.Enqueue(ctx, rec)
	})
	if err != nil {
		return Withdrawal{}, err
	}
	return out, nil
}

func (s *Service) Balances(ctx context.Context, c Caller, userID string) (Balances, error) {
	if err := CanRead(c, userID); err != nil {
		return Balances{}, err
	}
	var out Balances
	err := s.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		u, err := tx.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		out = BalancesOf(u)
		return nil
	})
	return out, err
}

func (s *Service) enqueue(ctx context.Context, tx Tx, c Caller, t Transition, docID string, adj *Adjustment, at time.Time) error {
	rec, err := events.NewRecord(events.EventStatusChanged, s.producer, docID, events.StatusChangedPayload{
		Entity:     string(t.Entity),
		DocumentID: docID,
		From:       t.From,
		To:         t.To,
		ActorID:    c.UserID,
	}, at)
	if err != nil {
		return err
	}
	if err := tx.Enqueue(ctx, rec); err != nil {
		return err
	}
	if adj == nil {
		return nil
	}
	rec, err = events.NewRecord(events.EventBalanceAdjusted, s.producer, docID, events.BalanceAdjustedPayload{
		UserID:     adj.UserID,
		Field:      string(adj.Field),
		Delta:      adj.Delta,
		Balance:    adj.Balance,
		Reason:     adj.Key,
		DocumentID: docID,
	}, at)
	if err != nil {
		return err
	}
	return tx.Enqueue(ctx, rec)
}

func (s *Service) logResult(ctx context.Context, c Caller, res TransitionResult) {
	fields := []observability.Field{
		{Key: "entity", Value: res.Entity},
		{Key: "document_id", Value: res.ID},
		{Key: "from", Value: res.From},
		{Key: "to", Value: res.To},
		{Key: "actor_id", Value: c.UserID},
	}
	if res.Replayed {
		s.logger.Info(observability.WithFields(ctx, fields...), "transition replayed")
		return
	}
	if a := res.Adjustment; a != nil {
		fields = append(fields,
			observability.Field{Key: "user_id", Value: a.UserID},
			observability.Field{Key: "field", Value: a.Field},
			observability.Field{Key: "delta", Value: a.Delta.StringFixed(2)},
			observability.Field{Key: "balance", Value: a.Balance.StringFixed(2)},
		)
	}
	s.logger.Info(observability.WithFields(ctx, fields...), "transition applied")
}
