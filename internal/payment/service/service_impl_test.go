package service

import (
	"context"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/smallbiznis/billingcore/internal/billingtest"
	"github.com/smallbiznis/billingcore/internal/events"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/invoice/render"
	invoicerepository "github.com/smallbiznis/billingcore/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/billingcore/internal/invoice/service"
	ledgerrepository "github.com/smallbiznis/billingcore/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/billingcore/internal/ledger/service"
	"github.com/smallbiznis/billingcore/internal/lock"
	"github.com/smallbiznis/billingcore/internal/payment/adapters/fake"
	"github.com/smallbiznis/billingcore/internal/payment/adapters/mock"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/internal/payment/repository"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	planrepository "github.com/smallbiznis/billingcore/internal/plan/repository"
	planservice "github.com/smallbiznis/billingcore/internal/plan/service"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/billingcore/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/billingcore/internal/subscription/service"
	taxrepository "github.com/smallbiznis/billingcore/internal/tax/repository"
	taxservice "github.com/smallbiznis/billingcore/internal/tax/service"
	usagerepository "github.com/smallbiznis/billingcore/internal/usage/repository"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	env      *billingtest.Env
	svc      *Service
	subs     subscriptiondomain.Service
	invoices invoicedomain.Service
	queue    *scheduler.Queue
	invoice  *invoicedomain.Invoice
	sub      *subscriptiondomain.Subscription
}

func setup(t *testing.T, gateway paymentdomain.Gateway) fixture {
	t.Helper()
	env := billingtest.NewEnv(t, start, &paymentdomain.PaymentAttempt{})
	ctx := context.Background()

	plans := planservice.New(planservice.Params{
		DB: env.DB, Log: env.Log, GenID: env.Node, Clock: env.Clock, Repo: planrepository.Provide(),
	})
	subs := subscriptionservice.NewService(subscriptionservice.ServiceParam{
		DB: env.DB, Log: env.Log, GenID: env.Node, Clock: env.Clock,
		Repo: subscriptionrepository.Provide(), PlanSvc: plans, Publisher: env.Events,
	})
	ledger := ledgerservice.NewService(ledgerservice.ServiceParam{
		DB: env.DB, Log: env.Log, GenID: env.Node, Clock: env.Clock,
		Repo: ledgerrepository.Provide(), Publisher: env.Events,
	})
	invoices := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:              env.DB,
		Log:             env.Log,
		GenID:           env.Node,
		Clock:           env.Clock,
		Repo:            invoicerepository.Provide(),
		UsageRepo:       usagerepository.Provide(),
		SubscriptionSvc: subs,
		PlanSvc:         plans,
		TaxCalc:         taxservice.NewCalculator(taxservice.CalculatorParam{DB: env.DB, Log: env.Log, Repo: taxrepository.Provide()}),
		Ledger:          ledger,
		Publisher:       env.Events,
		Renderer:        render.NewRenderer(),
		BillingConfig:   env.Billing,
	})

	queue := scheduler.NewQueue()
	svc := NewService(ServiceParam{
		DB:              env.DB,
		Log:             env.Log,
		GenID:           env.Node,
		Clock:           env.Clock,
		Repo:            repository.Provide(),
		Gateway:         gateway,
		InvoiceSvc:      invoices,
		SubscriptionSvc: subs,
		Locker:          lock.NewLocal(),
		Publisher:       env.Events,
		BillingConfig:   env.Billing,
		Queue:           queue,
	})

	plan, err := plans.Create(ctx, plandomain.CreateRequest{
		Name: "Pro", PricingType: plandomain.PricingTypeFlat, BasePrice: 2000, Currency: "USD", Interval: plandomain.IntervalMonth,
	})
	require.NoError(t, err)
	sub, err := subs.Create(ctx, subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:       env.Node.Generate(),
		CustomerRef:      "cus_123",
		BillingEmail:     "billing@example.com",
		PlanID:           plan.ID,
		PaymentMethodRef: "pm_card",
	})
	require.NoError(t, err)

	env.Clock.Set(sub.CurrentPeriodEnd)
	invoice, err := invoices.GenerateFromUsage(ctx, sub.ID, invoicedomain.Period{Start: sub.CurrentPeriodStart, End: sub.CurrentPeriodEnd})
	require.NoError(t, err)
	invoice, err = invoices.Finalize(ctx, invoice.ID)
	require.NoError(t, err)

	return fixture{
		env:      env,
		svc:      svc.(*Service),
		subs:     subs,
		invoices: invoices,
		queue:    queue,
		invoice:  invoice,
		sub:      sub,
	}
}

// nextRetry pops the single queued retry and moves the clock to it.
func (f fixture) nextRetry(t *testing.T) scheduler.Task {
	t.Helper()
	at, ok := f.queue.NextAt()
	require.True(t, ok, "no retry queued")
	tasks := f.queue.PopDue(at)
	require.Len(t, tasks, 1)
	assert.Equal(t, TaskKind, tasks[0].Kind)
	f.env.Clock.Set(at)
	return tasks[0]
}

func (f fixture) status(t *testing.T) subscriptiondomain.SubscriptionStatus {
	t.Helper()
	sub, err := f.subs.GetByID(context.Background(), f.sub.ID)
	require.NoError(t, err)
	return sub.Status
}

func TestChargeInvoice_Succeeds(t *testing.T) {
	gateway := fake.New()
	f := setup(t, gateway)

	attempt, err := f.svc.ChargeInvoice(context.Background(), f.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AttemptStatusSucceeded, attempt.Status)
	require.NotNil(t, attempt.TransactionID)

	invoice, err := f.invoices.Get(context.Background(), f.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, *attempt.TransactionID, *invoice.PaymentReference)

	charges := gateway.Charges()
	require.Len(t, charges, 1)
	assert.Equal(t, "cus_123", charges[0].CustomerRef)
	assert.Equal(t, "pm_card", charges[0].PaymentMethodRef)
	assert.Equal(t, int64(2000), charges[0].Amount)
	assert.Equal(t, 1, f.env.Events.Count(events.TypePaymentSucceeded))
	assert.Zero(t, f.queue.Len())

	_, err = f.svc.ChargeInvoice(context.Background(), f.invoice.ID)
	assert.ErrorIs(t, err, paymentdomain.ErrInvoiceNotPayable)
}

func TestRetries_ExhaustionMarksUnpaidExactlyOnce(t *testing.T) {
	declines := []error{
		paymentdomain.ErrDeclined, paymentdomain.ErrDeclined, paymentdomain.ErrDeclined,
		paymentdomain.ErrDeclined, paymentdomain.ErrDeclined, paymentdomain.ErrDeclined,
	}
	gateway := fake.New(declines...)
	f := setup(t, gateway)
	ctx := context.Background()
	failedAt := f.env.Clock.Now()

	first, err := f.svc.ChargeInvoice(ctx, f.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AttemptStatusFailed, first.Status)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, f.status(t))

	invoice, err := f.invoices.Get(ctx, f.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusFailed, invoice.Status)

	// Retries land on day 1, 3, 5 and 7 after the first failure.
	var last *paymentdomain.PaymentAttempt
	for _, day := range []int{1, 3, 5, 7} {
		task := f.nextRetry(t)
		assert.Equal(t, failedAt.AddDate(0, 0, day), task.At.UTC())
		last, err = f.svc.ExecuteAttempt(ctx, task.ID)
		require.NoError(t, err)
	}
	assert.Equal(t, paymentdomain.AttemptStatusExhausted, last.Status)
	assert.Equal(t, 4, last.AttemptNumber)
	assert.Zero(t, f.queue.Len())
	assert.Equal(t, subscriptiondomain.SubscriptionStatusUnpaid, f.status(t))

	again, err := f.svc.ExecuteAttempt(ctx, last.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AttemptStatusExhausted, again.Status)

	manual, err := f.svc.ChargeInvoice(ctx, f.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AttemptStatusExhausted, manual.Status)

	assert.Equal(t, 1, f.env.Events.Count(events.TypePaymentRetriesExhausted))
	assert.Equal(t, 1, f.env.Events.Count(events.TypeSubscriptionUnpaid))
	assert.Equal(t, 1, f.env.Events.Count(events.TypeSubscriptionPastDue))
	assert.Len(t, gateway.Charges(), 6)

	attempts, err := f.svc.ListAttempts(ctx, f.invoice.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 6)
}

func TestRetry_RecoversSubscription(t *testing.T) {
	gateway := fake.New(paymentdomain.ErrDeclined)
	f := setup(t, gateway)
	ctx := context.Background()

	_, err := f.svc.ChargeInvoice(ctx, f.invoice.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdatePaymentMethod(ctx, f.sub.ID, "pm_new"))

	task := f.nextRetry(t)
	attempt, err := f.svc.ExecuteAttempt(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AttemptStatusSucceeded, attempt.Status)
	assert.Equal(t, 1, attempt.AttemptNumber)

	charges := gateway.Charges()
	require.Len(t, charges, 2)
	assert.Equal(t, "pm_new", charges[1].PaymentMethodRef)
	assert.NotEqual(t, charges[0].IdempotencyKey, charges[1].IdempotencyKey)

	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, f.status(t))
	assert.Equal(t, 1, f.env.Events.Count(events.TypeSubscriptionRecovered))
	assert.Equal(t, 1, f.env.Events.Count(events.TypePaymentFailed))

	invoice, err := f.invoices.Get(ctx, f.invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
}

func TestRetry_CanceledWhenPaidOutOfBand(t *testing.T) {
	gateway := fake.New(paymentdomain.ErrDeclined)
	f := setup(t, gateway)
	ctx := context.Background()

	_, err := f.svc.ChargeInvoice(ctx, f.invoice.ID)
	require.NoError(t, err)
	_, err = f.invoices.RecordPayment(ctx, f.invoice.ID, 2000, "wire_1")
	require.NoError(t, err)

	task := f.nextRetry(t)
	attempt, err := f.svc.ExecuteAttempt(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AttemptStatusCanceled, attempt.Status)
	assert.Len(t, gateway.Charges(), 1)
}

func TestRetry_CanceledWhenSubscriptionCanceled(t *testing.T) {
	gateway := fake.New(paymentdomain.ErrDeclined)
	f := setup(t, gateway)
	ctx := context.Background()

	_, err := f.svc.ChargeInvoice(ctx, f.invoice.ID)
	require.NoError(t, err)
	_, err = f.subs.Cancel(ctx, f.sub.ID, false)
	require.NoError(t, err)

	task := f.nextRetry(t)
	attempt, err := f.svc.ExecuteAttempt(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.AttemptStatusCanceled, attempt.Status)
	require.NotNil(t, attempt.LastError)
	assert.Equal(t, "subscription_canceled", *attempt.LastError)
}

func TestExecuteAttempt_NotDue(t *testing.T) {
	f := setup(t, fake.New(paymentdomain.ErrDeclined))
	ctx := context.Background()

	_, err := f.svc.ChargeInvoice(ctx, f.invoice.ID)
	require.NoError(t, err)

	at, ok := f.queue.NextAt()
	require.True(t, ok)
	tasks := f.queue.PopDue(at)
	require.Len(t, tasks, 1)

	_, err = f.svc.ExecuteAttempt(ctx, tasks[0].ID)
	assert.ErrorIs(t, err, paymentdomain.ErrAttemptNotDue)

	_, err = f.svc.ExecuteAttempt(ctx, 1)
	assert.ErrorIs(t, err, paymentdomain.ErrAttemptNotFound)
}

func TestChargeInvoice_TransportErrorKeepsAttemptScheduled(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mock.NewMockGateway(ctrl)
	f := setup(t, gateway)
	ctx := context.Background()

	gomock.InOrder(
		gateway.EXPECT().Charge(gomock.Any(), gomock.Any()).Return(paymentdomain.ChargeResult{}, context.DeadlineExceeded),
		gateway.EXPECT().Charge(gomock.Any(), gomock.Any()).Return(paymentdomain.ChargeResult{TransactionID: "pi_1"}, nil),
	)

	_, err := f.svc.ChargeInvoice(ctx, f.invoice.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, errs.Is(err, errs.KindGateway))

	handler := NewTaskHandler(f.svc)
	pending, err := handler.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, invoicedomain.InvoiceStatusPending, mustInvoice(t, f).Status)

	require.NoError(t, handler.Run(ctx, pending[0].ID))
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, mustInvoice(t, f).Status)

	pending, err = handler.Pending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRefund(t *testing.T) {
	ctrl := gomock.NewController(t)
	gateway := mock.NewMockGateway(ctrl)
	f := setup(t, gateway)
	ctx := context.Background()

	gateway.EXPECT().Charge(gomock.Any(), gomock.Any()).Return(paymentdomain.ChargeResult{TransactionID: "pi_9"}, nil)
	gateway.EXPECT().
		Refund(gomock.Any(), "pi_9", int64(500), gomock.Any()).
		Return(paymentdomain.RefundResult{RefundID: "re_1", Amount: 500}, nil)

	_, err := f.svc.Refund(ctx, f.invoice.ID, 500)
	assert.ErrorIs(t, err, paymentdomain.ErrNothingToRefund)

	_, err = f.svc.ChargeInvoice(ctx, f.invoice.ID)
	require.NoError(t, err)

	_, err = f.svc.Refund(ctx, f.invoice.ID, 5000)
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidAmount)

	result, err := f.svc.Refund(ctx, f.invoice.ID, 500)
	require.NoError(t, err)
	assert.Equal(t, "re_1", result.RefundID)
	assert.Equal(t, 1, f.env.Events.Count(events.TypePaymentRefunded))
}

func mustInvoice(t *testing.T, f fixture) *invoicedomain.Invoice {
	t.Helper()
	invoice, err := f.invoices.Get(context.Background(), f.invoice.ID)
	require.NoError(t, err)
	return invoice
}
