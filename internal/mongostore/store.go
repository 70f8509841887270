// Package mongostore keeps the ledger in MongoDB collections shaped like the
// storefront documents, using multi-document transactions for atomic units.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-marketplace-ledger/internal/events"
	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readconcern"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

const (
	colUsers       = "users"
	colProducts    = "products"
	colOrders      = "orders"
	colWithdrawals = "withdrawals"
	colWorks       = "works"
	colEffects     = "effects"
	colOutbox      = "outbox"

	claimLease = 30 * time.Second
)

type Store struct {
	client *mongo.Client
	db     *mongo.Database
}

func Connect(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return &Store{client: client, db: client.Database(database)}, nil
}

func (s *Store) Close(ctx context.Context) error { return s.client.Disconnect(ctx) }

// EnsureIndexes creates the lookups the ledger depends on.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(colUsers).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "affiliateId", Value: 1}},
		Options: options.Index().SetUnique(true).SetSparse(true),
	})
	if err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	_, err = s.db.Collection(colOutbox).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "publishedAt", Value: 1}, {Key: "createdAt", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("outbox index: %w", err)
	}
	return nil
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx ledger.Tx) error) error {
	sess, err := s.client.StartSession()
	if err != nil {
		return err
	}
	defer sess.EndSession(ctx)

	txOpts := options.Transaction().
		SetReadConcern(readconcern.Snapshot()).
		SetWriteConcern(writeconcern.Majority())

	err = mongo.WithSession(ctx, sess, func(sc mongo.SessionContext) error {
		if err := sess.StartTransaction(txOpts); err != nil {
			return err
		}
		if err := fn(sc, &mongoTx{db: s.db}); err != nil {
			_ = sess.AbortTransaction(context.Background())
			return err
		}
		return sess.CommitTransaction(sc)
	})
	return classify(err)
}

// classify reports transaction write conflicts as retryable conflicts.
// Errors that are already ledger errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var le mongo.LabeledError
	if errors.As(err, &le) &&
		(le.HasErrorLabel("TransientTransactionError") || le.HasErrorLabel("UnknownTransactionCommitResult")) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}

// raced marks a duplicate key on a write that a concurrent unit can win,
// an effect key or an affiliate id, as a conflict worth retrying.
func raced(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ledger.ErrConcurrentModification, err)
	}
	return err
}

func notFound(err error, what, id string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%w: %s %s", ledger.ErrReferenceNotFound, what, id)
	}
	return err
}

type mongoTx struct{ db *mongo.Database }

func (t *mongoTx) findOne(ctx context.Context, col string, filter bson.D, out any) error {
	return t.db.Collection(col).FindOne(ctx, filter).Decode(out)
}

func (t *mongoTx) GetUser(ctx context.Context, id string) (ledger.User, error) {
	var d userDoc
	if err := t.findOne(ctx, colUsers, bson.D{{Key: "_id", Value: id}}, &d); err != nil {
		return ledger.User{}, notFound(err, "user", id)
	}
	return d.user(), nil
}

func (t *mongoTx) FindUserByAffiliateID(ctx context.Context, affiliateID string) (ledger.User, error) {
	var d userDoc
	if err := t.findOne(ctx, colUsers, bson.D{{Key: "affiliateId", Value: affiliateID}}, &d); err != nil {
		return ledger.User{}, notFound(err, "affiliate", affiliateID)
	}
	return d.user(), nil
}

func (t *mongoTx) GetProduct(ctx context.Context, id string) (ledger.Product, error) {
	var d productDoc
	if err := t.findOne(ctx, colProducts, bson.D{{Key: "_id", Value: id}}, &d); err != nil {
		return ledger.Product{}, notFound(err, "product", id)
	}
	return d.product(), nil
}

func (t *mongoTx) GetOrder(ctx context.Context, id string) (ledger.Order, error) {
	var d orderDoc
	if err := t.findOne(ctx, colOrders, bson.D{{Key: "_id", Value: id}}, &d); err != nil {
		return ledger.Order{}, notFound(err, "order", id)
	}
	return d.order(), nil
}

func (t *mongoTx) GetWithdrawal(ctx context.Context, id string) (ledger.Withdrawal, error) {
	var d withdrawalDoc
	if err := t.findOne(ctx, colWithdrawals, bson.D{{Key: "_id", Value: id}}, &d); err != nil {
		return ledger.Withdrawal{}, notFound(err, "withdrawal", id)
	}
	return d.withdrawal(), nil
}

func (t *mongoTx) GetWork(ctx context.Context, id string) (ledger.Work, error) {
	var d workDoc
	if err := t.findOne(ctx, colWorks, bson.D{{Key: "_id", Value: id}}, &d); err != nil {
		return ledger.Work{}, notFound(err, "work", id)
	}
	return d.work(), nil
}

func (t *mongoTx) GetEffect(ctx context.Context, key string) (ledger.Effect, bool, error) {
	var d effectDoc
	err := t.findOne(ctx, colEffects, bson.D{{Key: "_id", Value: key}}, &d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return ledger.Effect{}, false, nil
	}
	if err != nil {
		return ledger.Effect{}, false, err
	}
	return d.effect(), true, nil
}

func (t *mongoTx) PutEffect(ctx context.Context, e ledger.Effect) error {
	_, err := t.db.Collection(colEffects).InsertOne(ctx, newEffectDoc(e))
	return raced(err)
}

func (t *mongoTx) set(ctx context.Context, col, what, id string, set bson.D) error {
	res, err := t.db.Collection(col).UpdateOne(ctx, bson.D{{Key: "_id", Value: id}}, bson.D{{Key: "$set", Value: set}})
	if err != nil {
		return err
	}
	if res.MatchedCount != 1 {
		return fmt.Errorf("%w: %s %s", ledger.ErrReferenceNotFound, what, id)
	}
	return nil
}

func (t *mongoTx) SetBalance(ctx context.Context, userID string, f ledger.BalanceField, v decimal.Decimal) error {
	if !f.Valid() {
		return fmt.Errorf("%w: balance field %q", ledger.ErrInvalidInput, f)
	}
	return t.set(ctx, colUsers, "user", userID, bson.D{
		{Key: string(f), Value: money(v)},
		{Key: "updatedAt", Value: time.Now().UTC()},
	})
}

func (t *mongoTx) UpdateUserRole(ctx context.Context, userID string, role ledger.Role, affiliateID, affiliateStatus string) error {
	set := bson.D{
		{Key: "role", Value: string(role)},
		{Key: "affiliateStatus", Value: affiliateStatus},
		{Key: "updatedAt", Value: time.Now().UTC()},
	}
	// the affiliateId index is sparse, so a user without an id lacks the field
	update := bson.D{{Key: "$unset", Value: bson.D{{Key: "affiliateId", Value: ""}}}}
	if affiliateID != "" {
		set = append(set, bson.E{Key: "affiliateId", Value: affiliateID})
		update = nil
	}
	update = append(update, bson.E{Key: "$set", Value: set})
	res, err := t.db.Collection(colUsers).UpdateOne(ctx, bson.D{{Key: "_id", Value: userID}}, update)
	if err != nil {
		return raced(err)
	}
	if res.MatchedCount != 1 {
		return fmt.Errorf("%w: user %s", ledger.ErrReferenceNotFound, userID)
	}
	return nil
}

func (t *mongoTx) UpdateOrderStatus(ctx context.Context, id string, s ledger.OrderStatus, at time.Time) error {
	return t.set(ctx, colOrders, "order", id, bson.D{
		{Key: "status", Value: string(s)},
		{Key: "updatedAt", Value: at},
	})
}

func (t *mongoTx) UpdateWithdrawalStatus(ctx context.Context, id string, s ledger.WithdrawalStatus, at time.Time) error {
	return t.set(ctx, colWithdrawals, "withdrawal", id, bson.D{
		{Key: "status", Value: string(s)},
		{Key: "processedAt", Value: at},
	})
}

func (t *mongoTx) UpdateWorkStatus(ctx context.Context, id string, s ledger.WorkStatus, p ledger.WorkPayment, at time.Time) error {
	w, err := t.GetWork(ctx, id)
	if err != nil {
		return err
	}
	set := bson.D{
		{Key: "status", Value: string(s)},
		{Key: "payment", Value: workPaymentDoc{Status: p.Status, Amount: money(p.Amount), Reference: p.Reference}},
	}
	switch {
	case s == ledger.WorkInProgress && w.AcceptedAt == nil:
		set = append(set, bson.E{Key: "acceptedAt", Value: at})
	case s == ledger.WorkCompleted:
		set = append(set, bson.E{Key: "approvedAt", Value: at})
	}
	return t.set(ctx, colWorks, "work", id, set)
}

func (t *mongoTx) CreateWithdrawal(ctx context.Context, w ledger.Withdrawal) error {
	_, err := t.db.Collection(colWithdrawals).InsertOne(ctx, newWithdrawalDoc(w))
	return err
}

func (t *mongoTx) Enqueue(ctx context.Context, r events.Record) error {
	_, err := t.db.Collection(colOutbox).InsertOne(ctx, outboxDoc{
		ID:        r.ID,
		Topic:     r.Topic,
		Key:       r.Key,
		EventType: r.EventType,
		Body:      r.Body,
		CreatedAt: r.CreatedAt,
	})
	return err
}

// ClaimPending leases up to limit unpublished outbox documents, oldest
// first. A document another relay leased in between is skipped.
func (s *Store) ClaimPending(ctx context.Context, limit int) ([]events.Record, error) {
	now := time.Now().UTC()
	claimable := bson.D{
		{Key: "publishedAt", Value: bson.D{{Key: "$exists", Value: false}}},
		{Key: "$or", Value: bson.A{
			bson.D{{Key: "claimedUntil", Value: bson.D{{Key: "$exists", Value: false}}}},
			bson.D{{Key: "claimedUntil", Value: bson.D{{Key: "$lt", Value: now}}}},
		}},
	}
	col := s.db.Collection(colOutbox)
	cur, err := col.Find(ctx, claimable, options.Find().
		SetSort(bson.D{{Key: "createdAt", Value: 1}}).
		SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var candidates []outboxDoc
	if err := cur.All(ctx, &candidates); err != nil {
		return nil, err
	}

	out := make([]events.Record, 0, len(candidates))
	until := now.Add(claimLease)
	for _, c := range candidates {
		filter := append(bson.D{{Key: "_id", Value: c.ID}}, claimable...)
		res, err := col.UpdateOne(ctx, filter, bson.D{{Key: "$set", Value: bson.D{{Key: "claimedUntil", Value: until}}}})
		if err != nil {
			return nil, err
		}
		if res.ModifiedCount == 0 {
			continue
		}
		out = append(out, events.Record{
			ID:        c.ID,
			Topic:     c.Topic,
			Key:       c.Key,
			EventType: c.EventType,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Collection(colOutbox).UpdateMany(ctx,
		bson.D{{Key: "_id", Value: bson.D{{Key: "$in", Value: ids}}}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "publishedAt", Value: time.Now().UTC()}}}})
	return err
}
