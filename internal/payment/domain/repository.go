package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// Insert reports false when the invoice already has an attempt with the
	// same number.
	Insert(ctx context.Context, db *gorm.DB, attempt *PaymentAttempt) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*PaymentAttempt, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*PaymentAttempt, error)
	Update(ctx context.Context, db *gorm.DB, attempt *PaymentAttempt) error
	ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]PaymentAttempt, error)
	ListScheduled(ctx context.Context, db *gorm.DB, limit int) ([]PaymentAttempt, error)
	// SetScheduledPaymentMethod points every scheduled attempt of the
	// subscription at ref and returns how many rows changed.
	SetScheduledPaymentMethod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, ref string) (int64, error)
}
