// Package lock provides per-entity advisory locks used to serialize plan
// changes, period rollovers and payment attempts on the same subscription.
package lock

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

// Release gives the lock back. Calling it more than once is a no-op.
type Release func()

// Locker hands out exclusive leases on string keys.
type Locker interface {
	// Acquire blocks until key is held or ctx is done.
	Acquire(ctx context.Context, key string) (Release, error)
}

var (
	ErrEmptyKey    = errs.New(errs.KindValidation, "lock_key_empty")
	ErrNotAcquired = errs.New(errs.KindConflict, "lock_not_acquired")
)

func SubscriptionKey(id snowflake.ID) string {
	return "billing:lock:subscription:" + id.String()
}

func InvoiceKey(id snowflake.ID) string {
	return "billing:lock:invoice:" + id.String()
}

func DeliveryKey(id snowflake.ID) string {
	return "billing:lock:webhook_delivery:" + id.String()
}
