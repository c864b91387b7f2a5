package redisx

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var ErrIdempotencyInFlight = errors.New("request with this idempotency key is still in progress")

const idemPending = "pending"

// Idempotency claims create-order keys with SETNX before any work is done, so
// two requests carrying the same key never both reach the engine.
type Idempotency struct {
	RDB *redis.Client
}

// Claim reserves key for caller. A nil response and nil error means the key
// is now held by this request; a non-nil response is the stored result of an
// earlier request.
func (s *Idempotency) Claim(ctx context.Context, caller, key string) ([]byte, error) {
	k := fmt.Sprintf(KeyIdemOrderCreate, caller, key)
	ok, err := s.RDB.SetNX(ctx, k, idemPending, TTLIdempotencyPending).Result()
	if err != nil {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}
	if ok {
		return nil, nil
	}
	b, err := s.RDB.Get(ctx, k).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		// the holder released it between our SETNX and GET
		return nil, ErrIdempotencyInFlight
	case err != nil:
		return nil, fmt.Errorf("read idempotency key: %w", err)
	case string(b) == idemPending:
		return nil, ErrIdempotencyInFlight
	}
	return b, nil
}

// Complete replaces the pending marker with the response to replay.
func (s *Idempotency) Complete(ctx context.Context, caller, key string, resp []byte) error {
	return s.RDB.Set(ctx, fmt.Sprintf(KeyIdemOrderCreate, caller, key), resp, TTLIdempotency).Err()
}

// Release drops a claim whose request failed so the client can retry.
func (s *Idempotency) Release(ctx context.Context, caller, key string) error {
	return s.RDB.Del(ctx, fmt.Sprintf(KeyIdemOrderCreate, caller, key)).Err()
}
