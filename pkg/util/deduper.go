package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deduper 基于 Redis SetNX 的消息去重：处理前占键，处理失败且需要重投时释放
type Deduper struct {
	rdb    *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewDeduper creates a deduper; logger may be nil.
func NewDeduper(rdb *redis.Client, ttl time.Duration, logger *zap.Logger) *Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{rdb: rdb, ttl: ttl, logger: logger}
}

// FormatDedupKey dedup:<handler>:<id>
func FormatDedupKey(handler, id string) string {
	return fmt.Sprintf("dedup:%s:%s", handler, id)
}

// AcquireOnce claims handler+id. It reports false when another delivery
// already holds the key. Redis failures never block processing.
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, id string) bool {
	key := FormatDedupKey(handler, id)

	ok, err := d.rdb.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		d.logger.Warn("Redis dedup check failed, allowing processing",
			zap.String("handler", handler),
			zap.String("id", id),
			zap.Error(err),
		)
		return true
	}
	if !ok {
		d.logger.Debug("Duplicate delivery", zap.String("dedup_key", key))
	}
	return ok
}

// Release drops the claim so a redelivery of the same message is processed.
func (d *Deduper) Release(ctx context.Context, handler string, id string) {
	key := FormatDedupKey(handler, id)
	if err := d.rdb.Del(context.WithoutCancel(ctx), key).Err(); err != nil {
		// 释放失败时重投会被当作重复，只能等 TTL 过期
		d.logger.Error("Failed to release dedup key",
			zap.String("dedup_key", key),
			zap.Duration("ttl", d.ttl),
			zap.Error(err),
		)
	}
}
