package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

type ChangePlanRequest struct {
	SubscriptionID snowflake.ID `json:"subscription_id"`
	PlanID         snowflake.ID `json:"plan_id"`
	Quantity       int64        `json:"quantity"`
}

type ChangePlanResult struct {
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
	// Proration is nil when the change had nothing to bill.
	Proration *invoicedomain.PendingProration `json:"proration,omitempty"`
}

// RolloverOutcome names what a period rollover did to the subscription.
type RolloverOutcome string

const (
	RolloverRenewed   RolloverOutcome = "RENEWED"
	RolloverActivated RolloverOutcome = "ACTIVATED"
	RolloverCanceled  RolloverOutcome = "CANCELED"
	RolloverSkipped   RolloverOutcome = "SKIPPED"
)

type RolloverResult struct {
	Outcome      RolloverOutcome                  `json:"outcome"`
	Subscription *subscriptiondomain.Subscription `json:"subscription"`
	Invoice      *invoicedomain.Invoice           `json:"invoice,omitempty"`
	Payment      *paymentdomain.PaymentAttempt    `json:"payment,omitempty"`
}

// Service coordinates the billing components for flows that span several
// of them.
type Service interface {
	RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error)
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*ChangePlanResult, error)
	// RolloverCycle closes the current period of one subscription. Running
	// it again for the same period is a no-op.
	RolloverCycle(ctx context.Context, subscriptionID snowflake.ID) (*RolloverResult, error)
	// RolloverDue rolls over every subscription whose period ended by now
	// and returns how many were processed.
	RolloverDue(ctx context.Context, now time.Time) (int, error)
}

var (
	ErrInvalidSubscription = errs.New(errs.KindValidation, "invalid_subscription")
)
