// Package domain contains persistence models for invoicing.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// InvoiceStatus represents invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusDraft         InvoiceStatus = "DRAFT"
	InvoiceStatusPending       InvoiceStatus = "PENDING"
	InvoiceStatusPartiallyPaid InvoiceStatus = "PARTIALLY_PAID"
	InvoiceStatusPaid          InvoiceStatus = "PAID"
	InvoiceStatusFailed        InvoiceStatus = "FAILED"
	InvoiceStatusVoid          InvoiceStatus = "VOID"
)

// Payable reports whether money may still be collected against the invoice.
func (s InvoiceStatus) Payable() bool {
	switch s {
	case InvoiceStatusPending, InvoiceStatusPartiallyPaid, InvoiceStatusFailed:
		return true
	}
	return false
}

// CreditEligible reports whether customer credit may be applied. FAILED
// invoices are collected through the gateway retry path only.
func (s InvoiceStatus) CreditEligible() bool {
	return s == InvoiceStatusPending || s == InvoiceStatusPartiallyPaid
}

// CanTransition lists the legal status moves. Statuses only move forward;
// VOID is reachable from DRAFT and PENDING only.
func CanTransition(from, to InvoiceStatus) bool {
	switch from {
	case InvoiceStatusDraft:
		return to == InvoiceStatusPending || to == InvoiceStatusVoid
	case InvoiceStatusPending:
		return to == InvoiceStatusPartiallyPaid || to == InvoiceStatusPaid ||
			to == InvoiceStatusFailed || to == InvoiceStatusVoid
	case InvoiceStatusPartiallyPaid:
		return to == InvoiceStatusPaid || to == InvoiceStatusFailed || to == InvoiceStatusPartiallyPaid
	case InvoiceStatusFailed:
		return to == InvoiceStatusPartiallyPaid || to == InvoiceStatusPaid
	}
	return false
}

// Invoice bills one subscription period. At most one invoice exists per
// subscription and period start.
type Invoice struct {
	ID               snowflake.ID  `json:"id" gorm:"primaryKey"`
	InvoiceNumber    *string       `json:"invoice_number,omitempty" gorm:"type:text;uniqueIndex"`
	Sequence         int64         `json:"-" gorm:"not null;default:0"`
	SubscriptionID   snowflake.ID  `json:"subscription_id" gorm:"not null;uniqueIndex:ux_invoices_subscription_period,priority:1"`
	CustomerID       snowflake.ID  `json:"customer_id" gorm:"not null;index"`
	Status           InvoiceStatus `json:"status" gorm:"type:text;not null;default:'DRAFT'"`
	PeriodStart      time.Time     `json:"period_start" gorm:"not null;uniqueIndex:ux_invoices_subscription_period,priority:2"`
	PeriodEnd        time.Time     `json:"period_end" gorm:"not null"`
	Currency         string        `json:"currency" gorm:"type:text;not null"`
	Subtotal         int64         `json:"subtotal" gorm:"not null;default:0"`
	TaxAmount        int64         `json:"tax_amount" gorm:"not null;default:0"`
	TaxInclusive     bool          `json:"tax_inclusive" gorm:"not null;default:false"`
	Total            int64         `json:"total" gorm:"not null;default:0"`
	PaidAmount       int64         `json:"paid_amount" gorm:"not null;default:0"`
	CreditCarried    int64         `json:"credit_carried" gorm:"not null;default:0"`
	PaymentReference *string       `json:"payment_reference,omitempty" gorm:"type:text"`
	DueDate          *time.Time    `json:"due_date,omitempty"`
	FinalizedAt      *time.Time    `json:"finalized_at,omitempty"`
	PaidAt           *time.Time    `json:"paid_at,omitempty"`
	VoidedAt         *time.Time    `json:"voided_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time     `json:"updated_at" gorm:"not null"`

	Lines    []LineItem `json:"lines,omitempty" gorm:"-"`
	TaxLines []TaxLine  `json:"tax_lines,omitempty" gorm:"-"`
}

// TableName sets the database table name.
func (Invoice) TableName() string { return "invoices" }

// AmountDue is what is left to collect.
func (i Invoice) AmountDue() int64 {
	if due := i.Total - i.PaidAmount; due > 0 {
		return due
	}
	return 0
}

type LineKind string

const (
	LineKindBase      LineKind = "BASE"
	LineKindUsage     LineKind = "USAGE"
	LineKindCatchUp   LineKind = "CATCH_UP"
	LineKindProration LineKind = "PRORATION"
)

// LineItem represents a line on an invoice.
type LineItem struct {
	ID          snowflake.ID `json:"id" gorm:"primaryKey"`
	InvoiceID   snowflake.ID `json:"invoice_id" gorm:"not null;index"`
	Position    int          `json:"position" gorm:"not null"`
	Kind        LineKind     `json:"kind" gorm:"type:text;not null"`
	Description string       `json:"description" gorm:"type:text"`
	FeatureCode string       `json:"feature_code,omitempty" gorm:"type:text"`
	Quantity    int64        `json:"quantity" gorm:"not null"`
	UnitPrice   int64        `json:"unit_price" gorm:"not null"`
	Amount      int64        `json:"amount" gorm:"not null"`
	PeriodStart *time.Time   `json:"period_start,omitempty"`
	PeriodEnd   *time.Time   `json:"period_end,omitempty"`
	CreatedAt   time.Time    `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (LineItem) TableName() string { return "invoice_line_items" }

// TaxLine captures one applied rate.
type TaxLine struct {
	ID        snowflake.ID    `json:"id" gorm:"primaryKey"`
	InvoiceID snowflake.ID    `json:"invoice_id" gorm:"not null;index"`
	TaxCode   string          `json:"tax_code" gorm:"type:text;not null"`
	TaxName   string          `json:"tax_name" gorm:"type:text;not null"`
	TaxMode   string          `json:"tax_mode" gorm:"type:text;not null"`
	TaxRate   decimal.Decimal `json:"tax_rate" gorm:"type:numeric(9,6);not null"`
	Amount    int64           `json:"amount" gorm:"not null"` // Tax amount in cents
	CreatedAt time.Time       `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (TaxLine) TableName() string { return "invoice_tax_lines" }

// PendingProration is the result of a mid-period plan change waiting to
// be billed on the subscription's next invoice.
type PendingProration struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	SubscriptionID   snowflake.ID    `json:"subscription_id" gorm:"not null;index"`
	OldPlanID        snowflake.ID    `json:"old_plan_id" gorm:"not null"`
	OldQuantity      int64           `json:"old_quantity" gorm:"not null"`
	NewPlanID        snowflake.ID    `json:"new_plan_id" gorm:"not null"`
	NewQuantity      int64           `json:"new_quantity" gorm:"not null"`
	Currency         string          `json:"currency" gorm:"type:text;not null"`
	Fraction         decimal.Decimal `json:"fraction" gorm:"type:numeric(20,18);not null"`
	Credit           int64           `json:"credit" gorm:"not null"`
	Charge           int64           `json:"charge" gorm:"not null"`
	Net              int64           `json:"net" gorm:"not null"`
	EffectiveAt      time.Time       `json:"effective_at" gorm:"not null"`
	AppliedInvoiceID *snowflake.ID   `json:"applied_invoice_id,omitempty" gorm:"index"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
}

// TableName sets the database table name.
func (PendingProration) TableName() string { return "pending_prorations" }
