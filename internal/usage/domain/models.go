// Package domain contains persistence models for metered usage.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// UsageRecord stores a single unit of metered activity. Quantity and
// RecordedAt never change after insert. BilledInvoiceID is set by the
// invoice that charged the record.
type UsageRecord struct {
	ID              snowflake.ID  `json:"id" gorm:"primaryKey"`
	SubscriptionID  snowflake.ID  `json:"subscription_id" gorm:"not null;index:idx_usage_sub_feature_time,priority:1"`
	FeatureCode     string        `json:"feature_code" gorm:"type:text;not null;index:idx_usage_sub_feature_time,priority:2"`
	Quantity        int64         `json:"quantity" gorm:"not null"`
	RecordedAt      time.Time     `json:"recorded_at" gorm:"not null;index:idx_usage_sub_feature_time,priority:3"`
	IdempotencyKey  *string       `json:"idempotency_key,omitempty" gorm:"type:text;uniqueIndex"`
	Late            bool          `json:"late" gorm:"not null;default:false"`
	BilledInvoiceID *snowflake.ID `json:"billed_invoice_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (UsageRecord) TableName() string { return "usage_records" }
