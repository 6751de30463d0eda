package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

type RecordUsageRequest struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	FeatureCode    string       `json:"feature_code"`
	Quantity       int64        `json:"quantity"`
	At             time.Time    `json:"recorded_at"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type ListUsageRequest struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	FeatureCode    string       `json:"feature_code"`
	pagination.Pagination
}

type ListUsageResponse struct {
	pagination.PageInfo
	UsageRecords []UsageRecord `json:"usage_records"`
}

type Service interface {
	RecordUsage(context.Context, RecordUsageRequest) (*UsageRecord, error)
	TotalUsage(ctx context.Context, subscriptionID snowflake.ID, featureCode string, start, end time.Time) (int64, error)
	UnbilledUsage(ctx context.Context, subscriptionID snowflake.ID, before time.Time) ([]UsageRecord, error)
	MarkBilled(ctx context.Context, ids []snowflake.ID, invoiceID snowflake.ID) error
	List(context.Context, ListUsageRequest) (ListUsageResponse, error)
}

var (
	ErrInvalidSubscription = errs.New(errs.KindValidation, "invalid_subscription")
	ErrInvalidFeature      = errs.New(errs.KindValidation, "invalid_feature")
	ErrInvalidQuantity     = errs.New(errs.KindValidation, "invalid_quantity")
	ErrInvalidPeriod       = errs.New(errs.KindValidation, "invalid_usage_period")
)
