package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*Plan, error)
	Get(ctx context.Context, id snowflake.ID) (*Plan, error)
	GetByCode(ctx context.Context, code string) (*Plan, error)
	List(ctx context.Context) ([]Plan, error)
}

type TierInput struct {
	UpTo       int64 `json:"up_to"`
	FlatFee    int64 `json:"flat_fee"`
	PerUnitFee int64 `json:"per_unit_fee"`
	IsInfinite bool  `json:"is_infinite"`
}

type FeatureInput struct {
	Code  string      `json:"code"`
	Name  string      `json:"name"`
	Tiers []TierInput `json:"tiers"`
}

type CreateRequest struct {
	Code          string         `json:"code"`
	Name          string         `json:"name"`
	PricingType   PricingType    `json:"pricing_type"`
	BasePrice     int64          `json:"base_price"`
	Currency      string         `json:"currency"`
	Interval      Interval       `json:"interval"`
	IntervalCount int            `json:"interval_count"`
	Tiers         []TierInput    `json:"tiers"`
	Features      []FeatureInput `json:"features"`
}

var (
	ErrInvalidName        = errs.New(errs.KindValidation, "invalid_name")
	ErrInvalidCode        = errs.New(errs.KindValidation, "invalid_code")
	ErrInvalidCurrency    = errs.New(errs.KindValidation, "invalid_currency")
	ErrInvalidBasePrice   = errs.New(errs.KindValidation, "invalid_base_price")
	ErrInvalidInterval    = errs.New(errs.KindValidation, "invalid_interval")
	ErrInvalidPricingType = errs.New(errs.KindValidation, "invalid_pricing_type")
	ErrInvalidTiers       = errs.New(errs.KindValidation, "invalid_tiers")
	ErrInvalidFeature     = errs.New(errs.KindValidation, "invalid_feature")
	ErrMissingFeatures    = errs.New(errs.KindValidation, "missing_features")
	ErrDuplicateCode      = errs.New(errs.KindConflict, "duplicate_plan_code")
	ErrNotFound           = errs.New(errs.KindNotFound, "plan_not_found")
)
