package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func exerciseMutualExclusion(t *testing.T, locker Locker) {
	t.Helper()
	var (
		wg      sync.WaitGroup
		holders int32
		maxSeen int32
		total   int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), SubscriptionKey(42))
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&holders, 1)
			for {
				seen := atomic.LoadInt32(&maxSeen)
				if n <= seen || atomic.CompareAndSwapInt32(&maxSeen, seen, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&total, 1)
			atomic.AddInt32(&holders, -1)
			release()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxSeen)
	assert.Equal(t, int32(8), total)
}

func TestLocal_SerializesSameKey(t *testing.T) {
	l := NewLocal()
	exerciseMutualExclusion(t, l)
	assert.Zero(t, l.size())
}

func TestLocal_DistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), SubscriptionKey(1))
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	other, err := l.Acquire(ctx, SubscriptionKey(2))
	require.NoError(t, err)
	other()
}

func TestLocal_AcquireHonoursContext(t *testing.T) {
	l := NewLocal()
	release, err := l.Acquire(context.Background(), InvoiceKey(7))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, InvoiceKey(7))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release()
	assert.Zero(t, l.size())

	_, err = l.Acquire(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyKey)
}

func newRedisLocker(t *testing.T, opts ...RedisOption) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	opts = append([]RedisOption{WithPollInterval(time.Millisecond)}, opts...)
	return NewRedis(client, zap.NewNop(), opts...), mr
}

func TestRedis_SerializesSameKey(t *testing.T) {
	locker, _ := newRedisLocker(t)
	exerciseMutualExclusion(t, locker)
}

func TestRedis_ReleaseDeletesOnlyOwnToken(t *testing.T) {
	locker, mr := newRedisLocker(t, WithTTL(time.Second))
	key := SubscriptionKey(9)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	assert.True(t, mr.Exists(key))

	// The lease expires and another owner takes the key.
	mr.FastForward(2 * time.Second)
	require.False(t, mr.Exists(key))
	require.NoError(t, mr.Set(key, "someone-else"))

	release()
	value, err := mr.Get(key)
	require.NoError(t, err)
	assert.Equal(t, "someone-else", value)
}

func TestRedis_AcquireTimesOut(t *testing.T) {
	locker, _ := newRedisLocker(t)
	key := InvoiceKey(3)

	release, err := locker.Acquire(context.Background(), key)
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locker.Acquire(ctx, key)
	assert.ErrorIs(t, err, ErrNotAcquired)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
