package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	// InsertAdjustment reports false when the idempotency key was already used.
	InsertAdjustment(ctx context.Context, db *gorm.DB, adjustment *CreditAdjustment) (bool, error)
	FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*CreditAdjustment, error)
	ListAdjustments(ctx context.Context, db *gorm.DB, customerID snowflake.ID, afterID int64, limit int) ([]CreditAdjustment, error)
	SumAdjustments(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string) (int64, error)

	EnsureBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string, now time.Time) error
	LockBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string) (int64, error)
	SetBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string, balance int64, now time.Time) error
	GetBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string) (int64, error)
}
