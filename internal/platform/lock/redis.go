package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"hrpay/internal/domain/apperr"
)

// RedisLocker holds a redislock lease per key so several service instances
// serialize writes to the same balance.
type RedisLocker struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	retries int
	prefix  string
}

func NewRedisLocker(rdb redis.UniversalClient, ttl time.Duration) *RedisLocker {
	return &RedisLocker{
		client:  redislock.New(rdb),
		ttl:     ttl,
		backoff: 50 * time.Millisecond,
		retries: 40,
		prefix:  "hrpay:lock:",
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lease, err := l.client.Obtain(ctx, l.prefix+key, l.ttl, &redislock.Options{
		RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(l.backoff), l.retries),
	})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, apperr.Conflict("lock_busy", fmt.Sprintf("resource %s is busy, retry later", key))
	}
	if err != nil {
		return nil, apperr.UpstreamUnavailable("redis", err)
	}
	return func() {
		// Release with a fresh context: the request context may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			zap.L().Warn("release redis lock failed", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
