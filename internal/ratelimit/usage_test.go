package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var epoch = time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

func newLimiter(t *testing.T, rate float64, burst int) (*UsageLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(epoch)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewUsageLimiter(client, rate, burst, zap.NewNop())
	require.NoError(t, err)
	return limiter, mr
}

func TestUsageLimiterExhaustsBurst(t *testing.T) {
	limiter, _ := newLimiter(t, 1, 2)
	ctx := context.Background()

	first := limiter.Allow(ctx, "sub_1")
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second := limiter.Allow(ctx, "sub_1")
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)

	res := limiter.Allow(ctx, "sub_1")
	assert.False(t, res.Allowed)
	assert.Equal(t, 2, res.Limit)
	assert.Equal(t, time.Second, res.RetryAfter)

	assert.True(t, limiter.Allow(ctx, "sub_2").Allowed, "buckets are per subscription")
}

func TestUsageLimiterRefills(t *testing.T) {
	limiter, mr := newLimiter(t, 1, 1)
	ctx := context.Background()

	require.True(t, limiter.Allow(ctx, "sub_1").Allowed)
	require.False(t, limiter.Allow(ctx, "sub_1").Allowed)

	mr.SetTime(epoch.Add(500 * time.Millisecond))
	half := limiter.Allow(ctx, "sub_1")
	assert.False(t, half.Allowed)
	assert.Equal(t, 500*time.Millisecond, half.RetryAfter)

	mr.SetTime(epoch.Add(2 * time.Second))
	assert.True(t, limiter.Allow(ctx, "sub_1").Allowed)
}

func TestUsageLimiterFractionalRate(t *testing.T) {
	limiter, mr := newLimiter(t, 0.5, 1)
	ctx := context.Background()

	require.True(t, limiter.Allow(ctx, "sub_1").Allowed)
	res := limiter.Allow(ctx, "sub_1")
	require.False(t, res.Allowed)
	assert.Equal(t, 2*time.Second, res.RetryAfter)

	mr.SetTime(epoch.Add(2 * time.Second))
	assert.True(t, limiter.Allow(ctx, "sub_1").Allowed)
}

func TestUsageLimiterExpiresIdleBuckets(t *testing.T) {
	limiter, mr := newLimiter(t, 1, 2)

	limiter.Allow(context.Background(), "sub_1")

	key := "usage:ingest:subscription:sub_1"
	require.True(t, mr.Exists(key))
	assert.Equal(t, 4*time.Second, mr.TTL(key))
}

func TestUsageLimiterFailsOpen(t *testing.T) {
	limiter, mr := newLimiter(t, 1, 1)
	mr.Close()

	res := limiter.Allow(context.Background(), "sub_1")
	assert.True(t, res.Allowed)
	assert.Equal(t, 1, res.Limit)
}

func TestNilUsageLimiterAllows(t *testing.T) {
	var limiter *UsageLimiter
	assert.True(t, limiter.Allow(context.Background(), "sub_1").Allowed)
}

func TestNewUsageLimiterValidates(t *testing.T) {
	_, err := NewUsageLimiter(nil, 1, 1, nil)
	assert.Error(t, err)

	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"})
	t.Cleanup(func() { _ = client.Close() })
	_, err = NewUsageLimiter(client, 0, 1, nil)
	assert.Error(t, err)
	_, err = NewUsageLimiter(client, 1, 0, nil)
	assert.Error(t, err)
}
