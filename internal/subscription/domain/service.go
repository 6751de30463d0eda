package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/events"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"gorm.io/gorm"
)

type CreateSubscriptionRequest struct {
	CustomerID       snowflake.ID `json:"customer_id"`
	CustomerRef      string       `json:"customer_ref"`
	BillingEmail     string       `json:"billing_email"`
	CustomerType     CustomerType `json:"customer_type"`
	CountryCode      string       `json:"country_code"`
	StateCode        string       `json:"state_code"`
	PlanID           snowflake.ID `json:"plan_id"`
	Quantity         int64        `json:"quantity"`
	TrialDays        int          `json:"trial_days"`
	PaymentMethodRef string       `json:"payment_method_ref"`
}

type ListSubscriptionRequest struct {
	CustomerID snowflake.ID       `form:"customer_id"`
	Status     SubscriptionStatus `form:"status"`
	pagination.Pagination
}

type ListSubscriptionResponse struct {
	pagination.PageInfo
	Subscriptions []Subscription `json:"subscriptions"`
}

type Service interface {
	Create(context.Context, CreateSubscriptionRequest) (*Subscription, error)
	GetByID(ctx context.Context, id snowflake.ID) (*Subscription, error)
	List(context.Context, ListSubscriptionRequest) (ListSubscriptionResponse, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]Subscription, error)

	// Transition loads the row for update, applies ev, persists and
	// publishes the resulting events after commit.
	Transition(ctx context.Context, id snowflake.ID, ev TransitionEvent, opts ...TransitionOption) (*Subscription, error)
	// TransitionTx runs inside the caller's transaction and leaves
	// publishing to the caller.
	TransitionTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, ev TransitionEvent, opts ...TransitionOption) (*Subscription, []events.Event, error)

	// ChangePlanTx swaps plan and quantity on the locked row and returns the
	// subscription as it was before the change alongside the updated one.
	ChangePlanTx(ctx context.Context, tx *gorm.DB, id snowflake.ID, planID snowflake.ID, quantity int64) (before *Subscription, after *Subscription, err error)

	Cancel(ctx context.Context, id snowflake.ID, atPeriodEnd bool) (*Subscription, error)
	Resume(ctx context.Context, id snowflake.ID) (*Subscription, error)
	UpdatePaymentMethod(ctx context.Context, id snowflake.ID, ref string) (*Subscription, error)
}

var (
	ErrInvalidTransition      = errs.New(errs.KindInvalidTransition, "invalid_transition")
	ErrInvalidEvent           = errs.New(errs.KindValidation, "invalid_transition_event")
	ErrInvalidPeriod          = errs.New(errs.KindValidation, "invalid_period")
	ErrInvalidCustomer        = errs.New(errs.KindValidation, "invalid_customer")
	ErrInvalidCustomerRef     = errs.New(errs.KindValidation, "invalid_customer_ref")
	ErrInvalidCustomerType    = errs.New(errs.KindValidation, "invalid_customer_type")
	ErrInvalidPlan            = errs.New(errs.KindValidation, "invalid_plan")
	ErrInvalidQuantity        = errs.New(errs.KindValidation, "invalid_quantity")
	ErrInvalidTrial           = errs.New(errs.KindValidation, "invalid_trial_days")
	ErrInvalidPaymentMethod   = errs.New(errs.KindValidation, "invalid_payment_method")
	ErrInvalidStatus          = errs.New(errs.KindValidation, "invalid_status")
	ErrSubscriptionNotFound   = errs.New(errs.KindNotFound, "subscription_not_found")
	ErrSubscriptionCanceled   = errs.New(errs.KindInvalidTransition, "subscription_canceled")
	ErrConcurrentModification = errs.New(errs.KindConflict, "subscription_modified_concurrently")
)
