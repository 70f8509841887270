package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight means a request with the same idempotency key is still running.
var ErrInFlight = errors.New("request with this idempotency key in progress")

// Idempotency remembers the response of a create request per user and key.
type Idempotency struct{ rdb *redis.Client }

func NewIdempotency(rdb *redis.Client) *Idempotency { return &Idempotency{rdb: rdb} }

// Reserve claims key for userID. When the key was used before it returns the
// stored response and reserved=false; if that request has not finished yet
// it returns ErrInFlight.
func (i *Idempotency) Reserve(ctx context.Context, userID, key string) (prev []byte, reserved bool, err error) {
	k := fmt.Sprintf(KeyIdemWithdrawal, userID, key)
	ok, err := i.rdb.SetNX(ctx, k, pendingMarker, TTLIdempotency).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}
	v, err := i.rdb.Get(ctx, k).Bytes()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls; try once more
		return i.Reserve(ctx, userID, key)
	}
	if err != nil {
		return nil, false, err
	}
	if string(v) == pendingMarker {
		return nil, false, ErrInFlight
	}
	return v, false, nil
}

// Complete stores the response for a reserved key.
func (i *Idempotency) Complete(ctx context.Context, userID, key string, response []byte) error {
	return i.rdb.Set(ctx, fmt.Sprintf(KeyIdemWithdrawal, userID, key), response, TTLIdempotency).Err()
}

// Release frees a reserved key after its request failed, so it can be retried.
func (i *Idempotency) Release(ctx context.Context, userID, key string) error {
	return i.rdb.Del(ctx, fmt.Sprintf(KeyIdemWithdrawal, userID, key)).Err()
}
