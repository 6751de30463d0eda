package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	SubscriptionID snowflake.ID
	CustomerID     snowflake.ID
	Status         InvoiceStatus
	AfterID        int64
	Limit          int
}

type Repository interface {
	// Insert reports false when the subscription already has an invoice
	// for the period start.
	Insert(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	InsertLines(ctx context.Context, db *gorm.DB, lines []LineItem) error
	InsertTaxLines(ctx context.Context, db *gorm.DB, lines []TaxLine) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*Invoice, error)
	FindBySubscriptionPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*Invoice, error)
	// FindCovering returns the non-void invoice whose period contains at.
	FindCovering(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) (*Invoice, error)
	HasInvoicedPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) (bool, error)
	Update(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	NextSequence(ctx context.Context, db *gorm.DB) (int64, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Invoice, error)
	ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]LineItem, error)
	ListTaxLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]TaxLine, error)

	InsertProration(ctx context.Context, db *gorm.DB, proration *PendingProration) error
	// ListUnappliedProrations returns prorations effective before the
	// given time, oldest first.
	ListUnappliedProrations(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, before time.Time) ([]PendingProration, error)
	MarkProrationsApplied(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error
	ReleaseProrations(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) error
}
