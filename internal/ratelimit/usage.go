package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/billingcore/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const keyUsageSubscription = "usage:ingest:subscription:%s"

// Bucket levels are kept in millitokens; one usage record costs recordCost.
const recordCost = 1000

// ingestScript refills the subscription's bucket from the redis clock, takes
// one record's worth when available and returns
// {allowed, whole records left, milliseconds until the next record fits}.
var ingestScript = redis.NewScript(`
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local cost = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local clock = redis.call("TIME")
local now = clock[1] * 1000 + math.floor(clock[2] / 1000)

local state = redis.call("HMGET", KEYS[1], "level", "at")
local level = tonumber(state[1]) or capacity
local at = tonumber(state[2]) or now
if now > at then
  level = math.min(capacity, level + (now - at) * refill)
  at = now
end

local allowed = 0
local wait = 0
if level >= cost then
  allowed = 1
  level = level - cost
else
  wait = math.ceil((cost - level) / refill)
end

redis.call("HSET", KEYS[1], "level", level, "at", at)
redis.call("PEXPIRE", KEYS[1], ttl)
return {allowed, math.floor(level / cost), wait}
`)

// Decision is the outcome of one ingest check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// UsageLimiter throttles usage ingestion per subscription. Each subscription
// gets a bucket of burst records refilled at rate records per second, shared
// by every api replica through redis. A nil limiter allows everything.
type UsageLimiter struct {
	client *redis.Client
	rate   float64
	burst  int
	ttl    time.Duration
	log    *zap.Logger
}

func NewUsageLimiter(client *redis.Client, rate float64, burst int, log *zap.Logger) (*UsageLimiter, error) {
	if client == nil {
		return nil, errors.New("usage limiter requires a redis client")
	}
	if rate <= 0 || burst <= 0 {
		return nil, errors.New("usage limiter rate and burst must be positive")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &UsageLimiter{
		client: client,
		rate:   rate,
		burst:  burst,
		ttl:    idleTTL(rate, burst),
		log:    log.Named("ratelimit.usage"),
	}, nil
}

// ProvideUsageLimiter returns nil unless USAGE_RATE_LIMIT_ENABLED is set.
func ProvideUsageLimiter(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (*UsageLimiter, error) {
	if !cfg.UsageRateLimitEnabled {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return nil, errors.New("usage rate limit requires REDIS_ADDR")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return NewUsageLimiter(client, cfg.UsageRateLimitRate, cfg.UsageRateLimitBurst, log)
}

// Allow admits one usage record for the subscription. Redis failures fail
// open so an unavailable limiter never drops usage.
func (l *UsageLimiter) Allow(ctx context.Context, subscriptionID string) Decision {
	if l == nil {
		return Decision{Allowed: true}
	}
	if subscriptionID == "" {
		return Decision{Allowed: true, Limit: l.burst}
	}

	// refill is millitokens per millisecond, which equals records per second.
	res, err := ingestScript.Run(ctx, l.client,
		[]string{fmt.Sprintf(keyUsageSubscription, subscriptionID)},
		l.burst*recordCost, l.rate, recordCost, l.ttl.Milliseconds(),
	).Int64Slice()
	if err == nil && len(res) != 3 {
		err = fmt.Errorf("unexpected ingest bucket reply of %d values", len(res))
	}
	if err != nil {
		l.log.Warn("usage rate limit check failed", zap.String("subscription_id", subscriptionID), zap.Error(err))
		return Decision{Allowed: true, Limit: l.burst}
	}

	return Decision{
		Allowed:    res[0] == 1,
		Limit:      l.burst,
		Remaining:  int(res[1]),
		RetryAfter: time.Duration(res[2]) * time.Millisecond,
	}
}

// idleTTL is twice the time an empty bucket takes to refill. An expired
// bucket starts full again.
func idleTTL(rate float64, burst int) time.Duration {
	seconds := math.Ceil(float64(burst) / rate * 2)
	if seconds < 1 {
		seconds = 1
	}
	return time.Duration(seconds) * time.Second
}
