package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AttemptStatus string

const (
	AttemptStatusScheduled AttemptStatus = "SCHEDULED"
	AttemptStatusSucceeded AttemptStatus = "SUCCEEDED"
	AttemptStatusFailed    AttemptStatus = "FAILED"
	AttemptStatusExhausted AttemptStatus = "EXHAUSTED"
	AttemptStatusCanceled  AttemptStatus = "CANCELED"
)

// PaymentAttempt is one charge of an invoice. Attempt 0 is the initial
// charge; later numbers are retries scheduled by the backoff policy.
type PaymentAttempt struct {
	ID               snowflake.ID  `json:"id" gorm:"primaryKey"`
	InvoiceID        snowflake.ID  `json:"invoice_id" gorm:"not null;uniqueIndex:ux_payment_attempts_invoice_number,priority:1"`
	SubscriptionID   snowflake.ID  `json:"subscription_id" gorm:"not null;index"`
	AttemptNumber    int           `json:"attempt_number" gorm:"not null;uniqueIndex:ux_payment_attempts_invoice_number,priority:2"`
	Status           AttemptStatus `json:"status" gorm:"type:text;not null;index"`
	Amount           int64         `json:"amount" gorm:"not null;default:0"`
	Currency         string        `json:"currency" gorm:"type:text;not null"`
	ScheduledAt      time.Time     `json:"scheduled_at" gorm:"not null;index"`
	ExecutedAt       *time.Time    `json:"executed_at,omitempty"`
	PaymentMethodRef *string       `json:"payment_method_ref,omitempty" gorm:"type:text"`
	TransactionID    *string       `json:"transaction_id,omitempty" gorm:"type:text"`
	LastError        *string       `json:"last_error,omitempty" gorm:"type:text"`
	CreatedAt        time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time     `json:"updated_at" gorm:"not null"`
}

func (PaymentAttempt) TableName() string { return "payment_attempts" }
