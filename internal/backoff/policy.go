// Package backoff holds the retry policy shared by the payment retry
// scheduler, the webhook dispatcher and repository retries.
package backoff

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

var ErrInvalidPolicy = errors.New("invalid_backoff_policy")

// Policy computes delay = BaseDelay × Multiplier^attempt, capped at MaxDelay.
// Attempt numbers are zero based: Delay(0) is the wait before the first retry.
type Policy struct {
	BaseDelay   time.Duration `mapstructure:"baseDelay"`
	MaxDelay    time.Duration `mapstructure:"maxDelay"`
	Multiplier  float64       `mapstructure:"multiplier"`
	MaxAttempts int           `mapstructure:"maxAttempts"`
	Jitter      float64       `mapstructure:"jitter"`
}

// DefaultPayment retries roughly on day 1, 3, 5 and 7 after the first failure.
func DefaultPayment() Policy {
	return Policy{
		BaseDelay:   24 * time.Hour,
		MaxDelay:    48 * time.Hour,
		Multiplier:  2,
		MaxAttempts: 4,
	}
}

func DefaultWebhook() Policy {
	return Policy{
		BaseDelay:   30 * time.Second,
		MaxDelay:    6 * time.Hour,
		Multiplier:  2,
		MaxAttempts: 8,
		Jitter:      0.1,
	}
}

func DefaultRepository() Policy {
	return Policy{
		BaseDelay:   50 * time.Millisecond,
		MaxDelay:    time.Second,
		Multiplier:  2,
		MaxAttempts: 3,
	}
}

func (p Policy) Validate() error {
	switch {
	case p.BaseDelay < 0, p.MaxDelay < 0:
		return ErrInvalidPolicy
	case p.MaxDelay > 0 && p.MaxDelay < p.BaseDelay:
		return ErrInvalidPolicy
	case p.MaxAttempts <= 0:
		return ErrInvalidPolicy
	case p.Multiplier < 1:
		return ErrInvalidPolicy
	case p.Jitter < 0 || p.Jitter >= 1:
		return ErrInvalidPolicy
	}
	return nil
}

func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	delay := float64(p.BaseDelay) * math.Pow(multiplier, float64(attempt))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (rand.Float64()*2 - 1)
		if delay < 0 {
			delay = 0
		}
	}
	if delay > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Exhausted reports whether attempts made so far reached the ceiling.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts
}

// Retry runs fn until it succeeds, retryable reports false, attempts run
// out, or ctx is done. The last error is returned.
func Retry(ctx context.Context, p Policy, retryable func(error) bool, fn func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(p.Delay(attempt - 1))
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Join(err, ctx.Err())
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}
	}
	return err
}
