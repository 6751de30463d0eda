package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type PricingType string

const (
	PricingTypeFlat       PricingType = "FLAT"
	PricingTypePerUnit    PricingType = "PER_UNIT"
	PricingTypeTiered     PricingType = "TIERED"
	PricingTypeUsageBased PricingType = "USAGE_BASED"
)

type Interval string

const (
	IntervalMonth Interval = "MONTH"
	IntervalYear  Interval = "YEAR"
)

// Plan is a priced offering. Tiers price the licensed quantity of TIERED
// plans; Features carry the metered components in invoice order.
type Plan struct {
	ID            snowflake.ID `json:"id" gorm:"primaryKey"`
	Code          string       `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name          string       `json:"name" gorm:"type:text;not null"`
	PricingType   PricingType  `json:"pricing_type" gorm:"type:text;not null"`
	BasePrice     int64        `json:"base_price" gorm:"not null;default:0"`
	Currency      string       `json:"currency" gorm:"type:text;not null"`
	Interval      Interval     `json:"interval" gorm:"column:billing_interval;type:text;not null"`
	IntervalCount int          `json:"interval_count" gorm:"not null;default:1"`
	Active        bool         `json:"active" gorm:"not null;default:true"`
	CreatedAt     time.Time    `json:"created_at" gorm:"not null"`
	UpdatedAt     time.Time    `json:"updated_at" gorm:"not null"`

	Tiers    []PriceTier `json:"tiers,omitempty" gorm:"-"`
	Features []Feature   `json:"features,omitempty" gorm:"-"`
}

func (Plan) TableName() string { return "plans" }

// PriceTier prices the units between the previous tier's UpTo and its own.
// FeatureID is zero for tiers on the plan's licensed quantity.
type PriceTier struct {
	ID         snowflake.ID `json:"id" gorm:"primaryKey"`
	PlanID     snowflake.ID `json:"plan_id" gorm:"not null;index"`
	FeatureID  snowflake.ID `json:"feature_id" gorm:"not null;default:0"`
	Position   int          `json:"position" gorm:"not null"`
	UpTo       int64        `json:"up_to" gorm:"not null;default:0"`
	FlatFee    int64        `json:"flat_fee" gorm:"not null;default:0"`
	PerUnitFee int64        `json:"per_unit_fee" gorm:"not null;default:0"`
	IsInfinite bool         `json:"is_infinite" gorm:"not null;default:false"`
}

func (PriceTier) TableName() string { return "plan_price_tiers" }

// Feature is a metered component of a plan.
type Feature struct {
	ID       snowflake.ID `json:"id" gorm:"primaryKey"`
	PlanID   snowflake.ID `json:"plan_id" gorm:"not null;index"`
	Code     string       `json:"code" gorm:"type:text;not null"`
	Name     string       `json:"name" gorm:"type:text;not null"`
	Position int          `json:"position" gorm:"not null"`

	Tiers []PriceTier `json:"tiers" gorm:"-"`
}

func (Feature) TableName() string { return "plan_features" }

// PeriodEnd returns the end of the billing period that starts at start.
func (p Plan) PeriodEnd(start time.Time) time.Time {
	count := p.IntervalCount
	if count <= 0 {
		count = 1
	}
	switch p.Interval {
	case IntervalYear:
		return start.AddDate(count, 0, 0)
	default:
		return start.AddDate(0, count, 0)
	}
}

func (p Plan) Feature(code string) (Feature, bool) {
	for _, f := range p.Features {
		if f.Code == code {
			return f, true
		}
	}
	return Feature{}, false
}
