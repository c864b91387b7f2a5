package redisx

import "time"

const (
	// Create-order idempotency: idem:order:create:{user_id}:{key} -> "pending" or cached response
	KeyIdemOrderCreate = "idem:order:create:%s:%s"

	// Per-order mutation lock: lock:order:{order_id} -> owner token
	KeyOrderLock = "lock:order:%s"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	// outlives a create request, so a crashed holder frees the key soon after
	TTLIdempotencyPending = 2 * time.Minute
	TTLDedup       = 48 * time.Hour
)
