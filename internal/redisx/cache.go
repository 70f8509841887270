package redisx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/ariefcatur/go-marketplace-ledger/internal/ledger"
	"github.com/redis/go-redis/v9"
)

// setIfVersion stores ARGV[2] under KEYS[1] only while the version counter
// KEYS[2] still reads ARGV[1].
var setIfVersion = redis.NewScript(`
local v = redis.call('GET', KEYS[2])
if (v or '0') ~= ARGV[1] then
  return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// BalanceCache keeps read-only copies of user balances. Every invalidation
// bumps a per-user version, and Set only stores balances read under the
// version still current, so a read that raced an adjustment is dropped.
// A nil cache, or one without a client, misses on every read and ignores
// writes.
type BalanceCache struct{ rdb *redis.Client }

func NewBalanceCache(rdb *redis.Client) *BalanceCache { return &BalanceCache{rdb: rdb} }

func (c *BalanceCache) Get(ctx context.Context, userID string) (ledger.Balances, bool, error) {
	if c == nil || c.rdb == nil {
		return ledger.Balances{}, false, nil
	}
	b, err := c.rdb.Get(ctx, fmt.Sprintf(KeyBalances, userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ledger.Balances{}, false, nil
	}
	if err != nil {
		return ledger.Balances{}, false, err
	}
	var out ledger.Balances
	if err := json.Unmarshal(b, &out); err != nil {
		return ledger.Balances{}, false, err
	}
	return out, true, nil
}

// Version returns the invalidation counter to pass to Set. Take it before
// reading the balances from the store.
func (c *BalanceCache) Version(ctx context.Context, userID string) (int64, error) {
	if c == nil || c.rdb == nil {
		return 0, nil
	}
	v, err := c.rdb.Get(ctx, fmt.Sprintf(KeyBalancesVersion, userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// Set caches b unless the user's balances were invalidated after version
// was taken. stored reports whether b was written.
func (c *BalanceCache) Set(ctx context.Context, b ledger.Balances, version int64) (stored bool, err error) {
	if c == nil || c.rdb == nil {
		return false, nil
	}
	v, err := json.Marshal(b)
	if err != nil {
		return false, err
	}
	keys := []string{fmt.Sprintf(KeyBalances, b.UserID), fmt.Sprintf(KeyBalancesVersion, b.UserID)}
	n, err := setIfVersion.Run(ctx, c.rdb, keys,
		strconv.FormatInt(version, 10), v, TTLBalanceCache.Milliseconds()).Int()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *BalanceCache) Invalidate(ctx context.Context, userID string) error {
	if c == nil || c.rdb == nil {
		return nil
	}
	vkey := fmt.Sprintf(KeyBalancesVersion, userID)
	_, err := c.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Incr(ctx, vkey)
		p.Expire(ctx, vkey, TTLBalanceVersion)
		p.Del(ctx, fmt.Sprintf(KeyBalances, userID))
		return nil
	})
	return err
}
