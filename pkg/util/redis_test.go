package util

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachable points at a closed port so every command fails fast.
func unreachable(t *testing.T) *redis.Client {
	t.Helper()
	rdb := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestKeyFormats(t *testing.T) {
	assert.Equal(t, "dedup:email_received:evt-1", FormatDedupKey("email_received", "evt-1"))
	assert.Equal(t, "retry:classify:m1", FormatRetryKey("classify", "m1"))
}

func TestDeduper_RedisDownAllowsProcessing(t *testing.T) {
	d := NewDeduper(unreachable(t), 0, nil)
	ctx := context.Background()

	assert.True(t, d.AcquireOnce(ctx, "email_received", "evt-1"))
	assert.True(t, d.AcquireOnce(ctx, "email_received", "evt-1"))
	assert.NotPanics(t, func() { d.Release(ctx, "email_received", "evt-1") })
}

func TestRetryCounter_RedisDownReturnsError(t *testing.T) {
	c := NewRetryCounter(unreachable(t), 0)
	ctx := context.Background()

	n, err := c.IncrementAndGet(ctx, FormatRetryKey("classify", "m1"))
	require.Error(t, err)
	assert.Zero(t, n)
	assert.Contains(t, err.Error(), "retry:classify:m1")
	assert.Error(t, c.Reset(ctx, FormatRetryKey("classify", "m1")))
}
