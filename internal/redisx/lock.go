package redisx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var ErrLockTimeout = errors.New("order lock not acquired")

var unlockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Locker serialises order mutations across API instances with SET NX PX.
// TTL bounds how long a crashed holder can block others; the ledger's version
// check catches the rare write after expiry.
type Locker struct {
	RDB   *redis.Client
	TTL   time.Duration
	Retry time.Duration
	Log   *zap.Logger
}

func (l *Locker) Lock(ctx context.Context, orderID string) (func(), error) {
	ttl := l.TTL
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	retry := l.Retry
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	key := fmt.Sprintf(KeyOrderLock, orderID)
	token := uuid.NewString()

	for {
		ok, err := l.RDB.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-time.After(retry):
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrLockTimeout, orderID, ctx.Err())
		}
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := unlockScript.Run(ctx, l.RDB, []string{key}, token).Err(); err != nil && l.Log != nil {
			l.Log.Warn("order_unlock_failed", zap.String("order_id", orderID), zap.Error(err))
		}
	}, nil
}
