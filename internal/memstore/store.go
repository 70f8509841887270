// Package memstore is an in-process ledger.Store with optimistic
// concurrency: a transaction commits only if nothing it read has changed
// since, otherwise it fails with ledger.ErrConcurrentModification.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/shopspring/decimal"
)

const (
	colUsers       = "users"
	colProducts    = "products"
	colOrders      = "orders"
	colWithdrawals = "withdrawals"
	colWorks       = "works"
	colEffects     = "effects"
)

type docKey struct {
	col string
	id  string
}

type doc struct {
	version int64
	value   any
}

type outboxRow struct {
	rec       events.Record
	published bool
}

type Store struct {
	mu     sync.Mutex
	docs   map[docKey]doc
	outbox []*outboxRow

	// beforeCommit, when set, runs after fn returns and before validation.
	beforeCommit func()
}

type Option func(*Store)

// WithCommitHook installs a function run just before each commit is
// validated. Tests use it to line up concurrent transactions.
func WithCommitHook(fn func()) Option {
	return func(s *Store) { s.beforeCommit = fn }
}

func New(opts ...Option) *Store {
	s := &Store{docs: map[docKey]doc{}}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &tx{store: s, reads: map[docKey]int64{}, writes: map[docKey]any{}}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if s.beforeCommit != nil {
		s.beforeCommit()
	}
	return s.commit(tx)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range t.reads {
		if s.docs[k].version != v {
			return fmt.Errorf("%w: %s/%s changed", ledger.ErrConcurrentModification, k.col, k.id)
		}
	}
	for _, v := range t.writes {
		if u, ok := v.(ledger.User); ok && u.AffiliateID != "" {
			if other := s.affiliateHolder(u.AffiliateID); other != "" && other != u.ID {
				return fmt.Errorf("%w: affiliate id %s taken by %s", ledger.ErrConcurrentModification, u.AffiliateID, other)
			}
		}
	}
	for k, v := range t.writes {
		d := s.docs[k]
		s.docs[k] = doc{version: d.version + 1, value: v}
	}
	for _, r := range t.queued {
		s.outbox = append(s.outbox, &outboxRow{rec: r})
	}
	return nil
}

// affiliateHolder returns the id of the user holding affiliateID, like a
// unique index would. Callers hold s.mu.
func (s *Store) affiliateHolder(affiliateID string) string {
	for k, d := range s.docs {
		if k.col == colUsers && d.value.(ledger.User).AffiliateID == affiliateID {
			return k.id
		}
	}
	return ""
}

func (s *Store) put(col, id string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := docKey{col, id}
	d := s.docs[k]
	s.docs[k] = doc{version: d.version + 1, value: v}
}

func (s *Store) get(col, id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[docKey{col, id}]
	return d.value, ok
}

// Seeding and inspection helpers. They bypass transactions.

func (s *Store) PutUser(u ledger.User)             { s.put(colUsers, u.ID, u) }
func (s *Store) PutProduct(p ledger.Product)       { s.put(colProducts, p.ID, p) }
func (s *Store) PutOrder(o ledger.Order)           { s.put(colOrders, o.ID, o) }
func (s *Store) PutWithdrawal(w ledger.Withdrawal) { s.put(colWithdrawals, w.ID, w) }
func (s *Store) PutWork(w ledger.Work)             { s.put(colWorks, w.ID, w) }

func (s *Store) User(id string) (ledger.User, bool) {
	v, ok := s.get(colUsers, id)
	if !ok {
		return ledger.User{}, false
	}
	return v.(ledger.User), true
}

func (s *Store) Order(id string) (ledger.Order, bool) {
	v, ok := s.get(colOrders, id)
	if !ok {
		return ledger.Order{}, false
	}
	return v.(ledger.Order), true
}

func (s *Store) Withdrawal(id string) (ledger.Withdrawal, bool) {
	v, ok := s.get(colWithdrawals, id)
	if !ok {
		return ledger.Withdrawal{}, false
	}
	return v.(ledger.Withdrawal), true
}

func (s *Store) Work(id string) (ledger.Work, bool) {
	v, ok := s.get(colWorks, id)
	if !ok {
		return ledger.Work{}, false
	}
	return v.(ledger.Work), true
}

// Effects returns every applied effect ordered by key.
func (s *Store) Effects() []ledger.Effect {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ledger.Effect
	for k, d := range s.docs {
		if k.col == colEffects {
			out = append(out, d.value.(ledger.Effect))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Outbox returns every queued record, published or not, in commit order.
func (s *Store) Outbox() []events.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]events.Record, 0, len(s.outbox))
	for _, r := range s.outbox {
		out = append(out, r.rec)
	}
	return out
}

// ClaimPending returns up to limit unpublished outbox records, oldest first.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]events.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []events.Record
	for _, r := range s.outbox {
		if len(out) >= limit {
			break
		}
		if !r.published {
			out = append(out, r.rec)
		}
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	for _, r := range s.outbox {
		if set[r.rec.ID] {
			r.published = true
		}
	}
	return nil
}

type tx struct {
	store  *Store
	reads  map[docKey]int64
	writes map[docKey]any
	queued []events.Record
}

// read returns the document as this transaction sees it and remembers the
// version it was based on.
func (t *tx) read(col, id string) (any, bool) {
	k := docKey{col, id}
	if v, ok := t.writes[k]; ok {
		return v, true
	}
	t.store.mu.Lock()
	d, ok := t.store.docs[k]
	t.store.mu.Unlock()
	if _, seen := t.reads[k]; !seen {
		t.reads[k] = d.version
	}
	return d.value, ok
}

func notFound(col, id string) error {
	return fmt.Errorf("%w: %s/%s", ledger.ErrReferenceNotFound, col, id)
}

func (t *tx) GetUser(ctx context.Context, id string) (ledger.User, error) {
	v, ok := t.read(colUsers, id)
	if !ok {
		return ledger.User{}, notFound(colUsers, id)
	}
	return v.(ledger.User), nil
}

func (t *tx) FindUserByAffiliateID(ctx context.Context, affiliateID string) (ledger.User, error) {
	t.store.mu.Lock()
	id := t.store.affiliateHolder(affiliateID)
	t.store.mu.Unlock()
	if id == "" {
		return ledger.User{}, notFound(colUsers, "affiliateId="+affiliateID)
	}
	return t.GetUser(ctx, id)
}

func (t *tx) GetProduct(ctx context.Context, id string) (ledger.Product, error) {
	v, ok := t.read(colProducts, id)
	if !ok {
		return ledger.Product{}, notFound(colProducts, id)
	}
	return v.(ledger.Product), nil
}

func (t *tx) GetOrder(ctx context.Context, id string) (ledger.Order, error) {
	v, ok := t.read(colOrders, id)
	if !ok {
		return ledger.Order{}, notFound(colOrders, id)
	}
	return v.(ledger.Order), nil
}

func (t *tx) GetWithdrawal(ctx context.Context, id string) (ledger.Withdrawal, error) {
	v, ok := t.read(colWithdrawals, id)
	if !ok {
		return ledger.Withdrawal{}, notFound(colWithdrawals, id)
	}
	return v.(ledger.Withdrawal), nil
}

func (t *tx) GetWork(ctx context.Context, id string) (ledger.Work, error) {
	v, ok := t.read(colWorks, id)
	if !ok {
		return ledger.Work{}, notFound(colWorks, id)
	}
	return v.(ledger.Work), nil
}

func (t *tx) GetEffect(ctx context.Context, key string) (ledger.Effect, bool, error) {
	v, ok := t.read(colEffects, key)
	if !ok {
		return ledger.Effect{}, false, nil
	}
	return v.(ledger.Effect), true, nil
}

func (t *tx) PutEffect(ctx context.Context, e ledger.Effect) error {
	k := docKey{colEffects, e.Key}
	if _, ok := t.writes[k]; ok {
		return fmt.Errorf("effect %s already applied", e.Key)
	}
	// A key this unit already saw as absent is left for commit to validate.
	if _, seen := t.reads[k]; !seen {
		if _, ok := t.read(colEffects, e.Key); ok {
			return fmt.Errorf("effect %s already applied", e.Key)
		}
	}
	t.writes[k] = e
	return nil
}

func (t *tx) SetBalance(ctx context.Context, userID string, f ledger.BalanceField, v decimal.Decimal) error {
	u, err := t.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	u.SetBalance(f, v)
	t.writes[docKey{colUsers, userID}] = u
	return nil
}

func (t *tx) UpdateUserRole(ctx context.Context, userID string, role ledger.Role, affiliateID, affiliateStatus string) error {
	u, err := t.GetUser(ctx, userID)
	if err != nil {
		return err
	}
	u.Role = role
	u.AffiliateID = affiliateID
	u.AffiliateStatus = affiliateStatus
	t.writes[docKey{colUsers, userID}] = u
	return nil
}

func (t *tx) UpdateOrderStatus(ctx context.Context, id string, s ledger.OrderStatus, at time.Time) error {
	o, err := t.GetOrder(ctx, id)
	if err != nil {
		return err
	}
	o.Status = s
	o.UpdatedAt = at
	t.writes[docKey{colOrders, id}] = o
	return nil
}

func (t *tx) UpdateWithdrawalStatus(ctx context.Context, id string, s ledger.WithdrawalStatus, at time.Time) error {
	w, err := t.GetWithdrawal(ctx, id)
	if err != nil {
		return err
	}
	w.Status = s
	w.ProcessedAt = &at
	t.writes[docKey{colWithdrawals, id}] = w
	return nil
}

func (t *tx) UpdateWorkStatus(ctx context.Context, id string, s ledger.WorkStatus, p ledger.WorkPayment, at time.Time) error {
	w, err := t.GetWork(ctx, id)
	if err != nil {
		return err
	}
	w.Status = s
	w.Payment = p
	switch s {
	case ledger.WorkInProgress:
		if w.AcceptedAt == nil {
			w.AcceptedAt = &at
		}
	case ledger.WorkCompleted:
		w.ApprovedAt = &at
	}
	t.writes[docKey{colWorks, id}] = w
	return nil
}

func (t *tx) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	if _, ok := t.read(colWithdrawals, w.ID); ok {
		return fmt.Errorf("withdrawal %s already exists", w.ID)
	}
	t.writes[docKey{colWithdrawals, w.ID}] = w
	return nil
}

func (t *tx) Enqueue(ctx context.Context, r events.Record) error {
	t.queued = append(t.queued, r)
	return nil
}
