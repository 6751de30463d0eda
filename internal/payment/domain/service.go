package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

type Service interface {
	// ChargeInvoice runs the first attempt for an invoice. A declined charge
	// is not an error: the returned attempt is FAILED and a retry is
	// scheduled.
	ChargeInvoice(ctx context.Context, invoiceID snowflake.ID) (*PaymentAttempt, error)
	// ExecuteAttempt runs a scheduled retry. Attempts that are no longer
	// scheduled are returned unchanged.
	ExecuteAttempt(ctx context.Context, attemptID snowflake.ID) (*PaymentAttempt, error)
	// UpdatePaymentMethod stores ref on the subscription and on every
	// scheduled attempt so the next retry charges the new method.
	UpdatePaymentMethod(ctx context.Context, subscriptionID snowflake.ID, ref string) error
	Refund(ctx context.Context, invoiceID snowflake.ID, amount int64) (*RefundResult, error)
	ListAttempts(ctx context.Context, invoiceID snowflake.ID) ([]PaymentAttempt, error)
	ScheduledAttempts(ctx context.Context, limit int) ([]PaymentAttempt, error)
}

var (
	ErrInvalidInvoice    = errs.New(errs.KindValidation, "invalid_invoice")
	ErrInvalidAmount     = errs.New(errs.KindValidation, "invalid_refund_amount")
	ErrAttemptNotFound   = errs.New(errs.KindNotFound, "payment_attempt_not_found")
	ErrAttemptNotDue     = errs.New(errs.KindValidation, "payment_attempt_not_due")
	ErrNothingToRefund   = errs.New(errs.KindInvoiceNotEligible, "nothing_to_refund")
	ErrInvoiceNotPayable = errs.New(errs.KindInvoiceNotEligible, "invoice_not_payable")
)
