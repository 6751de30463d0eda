package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when a record with the same idempotency key
	// already exists.
	Insert(ctx context.Context, db *gorm.DB, record *UsageRecord) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*UsageRecord, error)
	SumQuantity(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, featureCode string, start, end time.Time) (int64, error)
	// ListUnbilledInPeriod returns records in [start, end) that no invoice
	// has billed yet.
	ListUnbilledInPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start, end time.Time) ([]UsageRecord, error)
	ListUnbilled(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, before time.Time) ([]UsageRecord, error)
	MarkBilled(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error
	// ReleaseBilled returns records a voided invoice swept in from other
	// periods to the unbilled pool. Usage inside the voided period stays
	// attached to it.
	ReleaseBilled(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, periodStart, periodEnd time.Time) error
}

// InvoicedPeriodChecker reports whether a non-void invoice already covers
// at for the subscription. Usage recorded into such a period is flagged
// late; billing itself keys off billed_invoice_id.
type InvoicedPeriodChecker interface {
	HasInvoicedPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) (bool, error)
}
