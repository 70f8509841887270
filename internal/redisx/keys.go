package redisx

import "time"

const (
	// Idempotent withdrawal request: idem:withdrawal:create:{user_id}:{key} -> withdrawal json
	KeyIdemWithdrawal = "idem:withdrawal:create:%s:%s"

	// Cached balances: balances:{user_id} -> {"wallet_balance": "...", ...}
	KeyBalances = "balances:%s"

	// Bumped on every invalidation: balances:{user_id}:version -> counter
	KeyBalancesVersion = "balances:%s:version"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency    = 24 * time.Hour
	TTLBalanceCache   = 5 * time.Minute
	TTLBalanceVersion = 24 * time.Hour
	TTLDedup          = 48 * time.Hour
)

// pendingMarker holds an idempotency key while its first request runs.
const pendingMarker = "__pending__"
