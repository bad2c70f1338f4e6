package cache

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/federation-payments/internal/telemetry"
)

const (
	RefundLockPrefix        = "refund_lock:"
	ReconciliationLockKey   = "reconciliation_lock"
	DefaultRefundLockTTL    = 30 * time.Second
	DefaultReconcileLockTTL = 10 * time.Minute
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease never frees somebody else's lock.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

type RedisLocker struct {
	client *redis.Client
}

func NewRedisLocker(client *redis.Client) *RedisLocker {
	return &RedisLocker{client: client}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		if err := releaseScript.Run(context.Background(), l.client, []string{key}, token).Err(); err != nil {
			telemetry.Logger.Warn("Failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}
	return release, true, nil
}

// MemoryLocker is the process-local Locker used when no Redis is configured.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{leases: make(map[string]time.Time), now: time.Now}
}

func (l *MemoryLocker) Acquire(_ context.Context, key string, ttl time.Duration) (func(), bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if exp, held := l.leases[key]; held && now.Before(exp) {
		return nil, false, nil
	}
	exp := now.Add(ttl)
	l.leases[key] = exp

	release := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.leases[key] == exp {
			delete(l.leases, key)
		}
	}
	return release, true, nil
}
