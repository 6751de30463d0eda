// Package domain contains the customer credit ledger. Adjustments are the
// source of truth; CustomerBalance is a cache written in the same
// transaction as every adjustment.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

type AdjustmentType string

const (
	AdjustmentTypeCredit         AdjustmentType = "CREDIT"
	AdjustmentTypeDebit          AdjustmentType = "DEBIT"
	AdjustmentTypeInvoicePayment AdjustmentType = "INVOICE_PAYMENT"
)

// CreditAdjustment is an immutable signed movement on a customer's credit
// balance. Positive amounts add credit.
type CreditAdjustment struct {
	ID             snowflake.ID   `json:"id" gorm:"primaryKey"`
	CustomerID     snowflake.ID   `json:"customer_id" gorm:"not null;index:idx_credit_adjustments_customer,priority:1"`
	Currency       string         `json:"currency" gorm:"type:text;not null;index:idx_credit_adjustments_customer,priority:2"`
	Amount         int64          `json:"amount" gorm:"not null"`
	Type           AdjustmentType `json:"type" gorm:"type:text;not null"`
	InvoiceID      *snowflake.ID  `json:"invoice_id,omitempty" gorm:"index"`
	Description    string         `json:"description" gorm:"type:text"`
	IdempotencyKey string         `json:"idempotency_key" gorm:"type:text;not null;uniqueIndex"`
	CreatedAt      time.Time      `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (CreditAdjustment) TableName() string { return "credit_adjustments" }

// CustomerBalance caches the sum of a customer's adjustments per currency.
type CustomerBalance struct {
	CustomerID snowflake.ID `json:"customer_id" gorm:"primaryKey;autoIncrement:false"`
	Currency   string       `json:"currency" gorm:"primaryKey;type:text"`
	Balance    int64        `json:"balance" gorm:"not null;default:0"`
	UpdatedAt  time.Time    `json:"updated_at" gorm:"not null"`
}

// TableName sets the database table name.
func (CustomerBalance) TableName() string { return "customer_balances" }
