package locks

import (
	"context"
	"errors"
	"time"

	"github.com/Stewart-Y/ABVTrends-sub000/pkg/redis"
)

// RedisLocker adapts the Redis SET NX locker to the Locker interface.
type RedisLocker struct {
	locker *redis.Locker
}

func NewRedisLocker(locker *redis.Locker) *RedisLocker {
	return &RedisLocker{locker: locker}
}

func (r *RedisLocker) Acquire(ctx context.Context, key string, ttl, wait time.Duration) (Handle, error) {
	lock, err := r.locker.TryAcquire(ctx, key, ttl, wait)
	if errors.Is(err, redis.ErrLockNotAcquired) {
		return nil, ErrNotAcquired
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}
