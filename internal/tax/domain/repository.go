package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, rate *TaxRate) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*TaxRate, error)
	FindByCode(ctx context.Context, db *gorm.DB, code string) (*TaxRate, error)
	// ListApplicable returns enabled rates for the region and customer type.
	ListApplicable(ctx context.Context, db *gorm.DB, country, state, customerType string) ([]TaxRate, error)
	List(ctx context.Context, db *gorm.DB, filter ListRequest) ([]TaxRate, error)
	SetEnabled(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool, now time.Time) error
}
