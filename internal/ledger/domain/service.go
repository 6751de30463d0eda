package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"gorm.io/gorm"
)

type AdjustRequest struct {
	CustomerID     snowflake.ID `json:"customer_id"`
	Currency       string       `json:"currency"`
	Amount         int64        `json:"amount"`
	Description    string       `json:"description"`
	IdempotencyKey string       `json:"idempotency_key"`
}

type ApplyToInvoiceRequest struct {
	CustomerID snowflake.ID
	Currency   string
	InvoiceID  snowflake.ID
	Amount     int64
	// Key makes the debit safe to repeat, e.g. "invoice:<id>:credit:<n>".
	Key string
}

type ListAdjustmentsRequest struct {
	CustomerID snowflake.ID `form:"customer_id"`
	pagination.Pagination
}

type ListAdjustmentsResponse struct {
	pagination.PageInfo
	Adjustments []CreditAdjustment `json:"adjustments"`
}

type Service interface {
	IssueCredit(ctx context.Context, req AdjustRequest) (*CreditAdjustment, error)
	// IssueCreditTx grants credit inside the caller's transaction. Events
	// are left to the caller.
	IssueCreditTx(ctx context.Context, tx *gorm.DB, req AdjustRequest) (*CreditAdjustment, error)
	Debit(ctx context.Context, req AdjustRequest) (*CreditAdjustment, error)
	// ApplyToInvoiceTx debits the balance inside the caller's transaction.
	// The balance row stays locked until that transaction ends.
	ApplyToInvoiceTx(ctx context.Context, tx *gorm.DB, req ApplyToInvoiceRequest) (*CreditAdjustment, error)
	Balance(ctx context.Context, customerID snowflake.ID, currency string) (int64, error)
	// Reconcile rewrites the cached balance from the adjustments and
	// returns the authoritative value.
	Reconcile(ctx context.Context, customerID snowflake.ID, currency string) (int64, error)
	ListAdjustments(ctx context.Context, req ListAdjustmentsRequest) (ListAdjustmentsResponse, error)
}

var (
	ErrInvalidCustomer       = errs.New(errs.KindValidation, "invalid_customer")
	ErrInvalidCurrency       = errs.New(errs.KindValidation, "invalid_currency")
	ErrInvalidAmount         = errs.New(errs.KindValidation, "invalid_amount")
	ErrInvalidIdempotencyKey = errs.New(errs.KindValidation, "invalid_idempotency_key")
	ErrInsufficientCredit    = errs.New(errs.KindInsufficientCredit, "insufficient_credit")
	ErrIdempotencyMismatch   = errs.New(errs.KindConflict, "idempotency_key_reused")
)
