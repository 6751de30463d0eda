package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, subscription *Subscription) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	FindByIDForUpdate(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Subscription, error)
	// Update writes the mutable columns when the stored version is one
	// behind subscription.Version and reports whether a row matched.
	Update(ctx context.Context, db *gorm.DB, subscription *Subscription) (bool, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]Subscription, error)
	ListDue(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]Subscription, error)
}

type ListFilter struct {
	CustomerID snowflake.ID
	Status     SubscriptionStatus
	AfterID    int64
	Limit      int
}
