package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type DeliveryFilter struct {
	EndpointID snowflake.ID
	EventID    string
	Status     DeliveryStatus
	AfterID    int64
	Limit      int
}

type Repository interface {
	InsertEndpoint(ctx context.Context, db *gorm.DB, endpoint *WebhookEndpoint) error
	FindEndpoint(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookEndpoint, error)
	UpdateEndpoint(ctx context.Context, db *gorm.DB, endpoint *WebhookEndpoint) error
	ListEndpoints(ctx context.Context, db *gorm.DB, activeOnly bool) ([]WebhookEndpoint, error)

	// InsertDelivery reports false when the endpoint already has a delivery
	// for the event.
	InsertDelivery(ctx context.Context, db *gorm.DB, delivery *WebhookDelivery) (bool, error)
	FindDelivery(ctx context.Context, db *gorm.DB, id snowflake.ID) (*WebhookDelivery, error)
	UpdateDelivery(ctx context.Context, db *gorm.DB, delivery *WebhookDelivery) error
	ListDeliveries(ctx context.Context, db *gorm.DB, filter DeliveryFilter) ([]WebhookDelivery, error)
	// ListScheduled returns PENDING and FAILED deliveries that have a next
	// attempt time, soonest first.
	ListScheduled(ctx context.Context, db *gorm.DB, limit int) ([]WebhookDelivery, error)
}
