package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/events"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

type RegisterEndpointRequest struct {
	URL         string   `json:"url"`
	EventTypes  []string `json:"event_types"`
	Secret      string   `json:"secret"`
	Description string   `json:"description"`
}

type ListDeliveriesRequest struct {
	EndpointID snowflake.ID    `form:"endpoint_id"`
	EventID    string          `form:"event_id"`
	Status     *DeliveryStatus `form:"status"`
	pagination.Pagination
}

type ListDeliveriesResponse struct {
	pagination.PageInfo
	Deliveries []WebhookDelivery `json:"deliveries"`
}

type Service interface {
	RegisterEndpoint(ctx context.Context, req RegisterEndpointRequest) (*WebhookEndpoint, error)
	DisableEndpoint(ctx context.Context, id snowflake.ID) (*WebhookEndpoint, error)
	ListEndpoints(ctx context.Context) ([]WebhookEndpoint, error)

	// Dispatch records a PENDING delivery for every active endpoint
	// subscribed to the event and queues the first attempt.
	Dispatch(ctx context.Context, ev events.Event) ([]WebhookDelivery, error)
	// Attempt sends a due delivery once and records the outcome. Delivery
	// failures are captured on the row; only storage errors are returned.
	Attempt(ctx context.Context, deliveryID snowflake.ID) (*WebhookDelivery, error)
	// RetryDelivery resets the attempt count of a failed or dead-lettered
	// delivery and queues it again.
	RetryDelivery(ctx context.Context, deliveryID snowflake.ID) (*WebhookDelivery, error)
	GetDelivery(ctx context.Context, deliveryID snowflake.ID) (*WebhookDelivery, error)
	ListDeliveries(ctx context.Context, req ListDeliveriesRequest) (ListDeliveriesResponse, error)
	ScheduledDeliveries(ctx context.Context, limit int) ([]WebhookDelivery, error)
}

var (
	ErrInvalidURL               = errs.New(errs.KindValidation, "invalid_url")
	ErrInvalidEventType         = errs.New(errs.KindValidation, "invalid_event_type")
	ErrInvalidEndpoint          = errs.New(errs.KindValidation, "invalid_endpoint")
	ErrInvalidDelivery          = errs.New(errs.KindValidation, "invalid_delivery")
	ErrEndpointNotFound         = errs.New(errs.KindNotFound, "endpoint_not_found")
	ErrDeliveryNotFound         = errs.New(errs.KindNotFound, "delivery_not_found")
	ErrDeliveryNotDue           = errs.New(errs.KindConflict, "delivery_not_due")
	ErrDeliveryAlreadySucceeded = errs.New(errs.KindConflict, "delivery_already_succeeded")
)
