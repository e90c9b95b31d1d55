package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RetryCounter 基于 Redis INCR 的尝试计数，每次计数都会顺延过期时间
type RetryCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRetryCounter(rdb *redis.Client, ttl time.Duration) *RetryCounter {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RetryCounter{rdb: rdb, ttl: ttl}
}

// IncrementAndGet bumps the counter and its TTL in one MULTI, so a crash
// between the two commands cannot leave a key that never expires.
func (r *RetryCounter) IncrementAndGet(ctx context.Context, key string) (int64, error) {
	var incr *redis.IntCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, r.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Reset 成功或放弃后清零
func (r *RetryCounter) Reset(ctx context.Context, key string) error {
	return r.rdb.Del(ctx, key).Err()
}

// FormatRetryKey formats a retry key for a handler and email id
func FormatRetryKey(handler, emailID string) string {
	return fmt.Sprintf("retry:%s:%s", handler, emailID)
}
