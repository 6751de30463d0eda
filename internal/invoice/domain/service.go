package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"gorm.io/gorm"
)

// Period is a half-open billing interval [Start, End).
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (p Period) Valid() bool { return p.End.After(p.Start) }

func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

type ListInvoiceRequest struct {
	SubscriptionID snowflake.ID   `form:"subscription_id"`
	CustomerID     snowflake.ID   `form:"customer_id"`
	Status         *InvoiceStatus `form:"status"`
	pagination.Pagination
}

type ListInvoiceResponse struct {
	pagination.PageInfo
	Invoices []Invoice `json:"invoices"`
}

type Service interface {
	// GenerateFromUsage returns the existing invoice for the period when
	// there is one; otherwise it prices the period and creates a draft.
	GenerateFromUsage(ctx context.Context, subscriptionID snowflake.ID, period Period) (*Invoice, error)
	// Finalize moves a draft to PENDING. Later statuses are returned as-is.
	Finalize(ctx context.Context, id snowflake.ID) (*Invoice, error)
	ApplyCredit(ctx context.Context, id snowflake.ID, amount int64) (*Invoice, error)
	RecordPayment(ctx context.Context, id snowflake.ID, amount int64, transactionID string) (*Invoice, error)
	MarkFailed(ctx context.Context, id snowflake.ID, reason string) (*Invoice, error)
	Void(ctx context.Context, id snowflake.ID, reason string) (*Invoice, error)
	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListInvoiceRequest) (ListInvoiceResponse, error)
	RenderHTML(ctx context.Context, id snowflake.ID) ([]byte, error)
	// RecordProrationTx stores a proration inside the caller's transaction
	// for the next invoice to pick up.
	RecordProrationTx(ctx context.Context, tx *gorm.DB, proration *PendingProration) error
}

var (
	ErrInvalidInvoiceID     = errs.New(errs.KindValidation, "invalid_invoice_id")
	ErrInvalidSubscription  = errs.New(errs.KindValidation, "invalid_subscription")
	ErrInvalidPeriod        = errs.New(errs.KindValidation, "invalid_period")
	ErrInvalidAmount        = errs.New(errs.KindValidation, "invalid_amount")
	ErrInvalidTransactionID = errs.New(errs.KindValidation, "invalid_transaction_id")
	ErrCurrencyMismatch     = errs.New(errs.KindValidation, "currency_mismatch")
	ErrInvoiceNotFound      = errs.New(errs.KindNotFound, "invoice_not_found")
	ErrInvoiceNotEligible   = errs.New(errs.KindInvoiceNotEligible, "invoice_not_eligible")
	ErrInvalidTransition    = errs.New(errs.KindInvalidTransition, "invalid_invoice_transition")
)
