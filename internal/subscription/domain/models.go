// Package domain contains the subscription aggregate and its lifecycle
// state machine.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus represents lifecycle states for a subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusTrialing SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive   SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue  SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusUnpaid   SubscriptionStatus = "UNPAID"
	SubscriptionStatusCanceled SubscriptionStatus = "CANCELED"
)

func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusTrialing,
		SubscriptionStatusActive,
		SubscriptionStatusPastDue,
		SubscriptionStatusUnpaid,
		SubscriptionStatusCanceled:
		return true
	default:
		return false
	}
}

func (s SubscriptionStatus) Terminal() bool {
	return s == SubscriptionStatusCanceled
}

type CustomerType string

const (
	CustomerTypeIndividual CustomerType = "INDIVIDUAL"
	CustomerTypeBusiness   CustomerType = "BUSINESS"
)

// Subscription captures a customer's billing agreement. It is only mutated
// through Transition and the plan change path.
type Subscription struct {
	ID                 snowflake.ID       `json:"id" gorm:"primaryKey"`
	CustomerID         snowflake.ID       `json:"customer_id" gorm:"not null;index"`
	CustomerRef        string             `json:"customer_ref" gorm:"type:text;not null"`
	BillingEmail       string             `json:"billing_email,omitempty" gorm:"type:text"`
	CustomerType       CustomerType       `json:"customer_type" gorm:"type:text;not null"`
	CountryCode        string             `json:"country_code" gorm:"type:text"`
	StateCode          string             `json:"state_code,omitempty" gorm:"type:text"`
	PlanID             snowflake.ID       `json:"plan_id" gorm:"not null;index"`
	Quantity           int64              `json:"quantity" gorm:"not null;default:1"`
	Status             SubscriptionStatus `json:"status" gorm:"type:text;not null;index"`
	CurrentPeriodStart time.Time          `json:"current_period_start" gorm:"not null"`
	CurrentPeriodEnd   time.Time          `json:"current_period_end" gorm:"not null;index"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end" gorm:"not null;default:false"`
	TrialEnd           *time.Time         `json:"trial_end,omitempty"`
	CanceledAt         *time.Time         `json:"canceled_at,omitempty"`
	PaymentMethodRef   *string            `json:"payment_method_ref,omitempty" gorm:"type:text"`
	Version            int64              `json:"version" gorm:"not null;default:0"`
	CreatedAt          time.Time          `json:"created_at" gorm:"not null"`
	UpdatedAt          time.Time          `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
