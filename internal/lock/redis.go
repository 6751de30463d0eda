package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"go.uber.org/zap"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

// Redis holds leases as SET NX PX keys carrying a random token, so a lease
// that expired and was taken by another process is never released by the
// previous owner.
type Redis struct {
	client redis.UniversalClient
	script *redis.Script
	log    *zap.Logger

	ttl          time.Duration
	pollInterval time.Duration
}

type RedisOption func(*Redis)

func WithTTL(ttl time.Duration) RedisOption {
	return func(r *Redis) {
		if ttl > 0 {
			r.ttl = ttl
		}
	}
}

func WithPollInterval(d time.Duration) RedisOption {
	return func(r *Redis) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

func NewRedis(client redis.UniversalClient, log *zap.Logger, opts ...RedisOption) *Redis {
	r := &Redis{
		client:       client,
		script:       redis.NewScript(releaseScript),
		log:          log.Named("lock.redis"),
		ttl:          30 * time.Second,
		pollInterval: 25 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Acquire(ctx context.Context, key string) (Release, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, ErrEmptyKey
	}

	token := uuid.NewString()
	for {
		ok, err := r.client.SetNX(ctx, key, token, r.ttl).Result()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, errors.Join(ErrNotAcquired, ctxErr)
			}
			return nil, errs.Wrap(errs.KindRepository, err)
		}
		if ok {
			return r.release(key, token), nil
		}

		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errors.Join(ErrNotAcquired, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Redis) release(key, token string) Release {
	var once sync.Once
	return func() {
		once.Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := r.script.Run(ctx, r.client, []string{key}, token).Err(); err != nil {
				r.log.Warn("release lock failed", zap.String("key", key), zap.Error(err))
			}
		})
	}
}
