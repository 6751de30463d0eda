package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgconn"
	billingdomain "github.com/smallbiznis/billingcore/internal/billing/domain"
	"github.com/smallbiznis/billingcore/internal/billingtest"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/invoice/render"
	invoicerepository "github.com/smallbiznis/billingcore/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/billingcore/internal/invoice/service"
	ledgerrepository "github.com/smallbiznis/billingcore/internal/ledger/repository"
	ledgerservice "github.com/smallbiznis/billingcore/internal/ledger/service"
	"github.com/smallbiznis/billingcore/internal/lock"
	"github.com/smallbiznis/billingcore/internal/payment/adapters/fake"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	paymentrepository "github.com/smallbiznis/billingcore/internal/payment/repository"
	paymentservice "github.com/smallbiznis/billingcore/internal/payment/service"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	planrepository "github.com/smallbiznis/billingcore/internal/plan/repository"
	planservice "github.com/smallbiznis/billingcore/internal/plan/service"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/billingcore/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/billingcore/internal/subscription/service"
	taxrepository "github.com/smallbiznis/billingcore/internal/tax/repository"
	taxservice "github.com/smallbiznis/billingcore/internal/tax/service"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	usagerepository "github.com/smallbiznis/billingcore/internal/usage/repository"
	usageservice "github.com/smallbiznis/billingcore/internal/usage/service"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var start = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

type fixture struct {
	env      *billingtest.Env
	svc      billingdomain.Service
	plans    plandomain.Service
	subs     subscriptiondomain.Service
	invoices invoicedomain.Service
	gateway  *fake.Gateway
	basic    *plandomain.Plan
	pro      *plandomain.Plan
}

func setup(t *testing.T) fixture {
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
	invoiceRepo := invoicerepository.Provide()
	invoices := invoiceservice.NewService(invoiceservice.ServiceParam{
		DB:              env.DB,
		Log:             env.Log,
		GenID:           env.Node,
		Clock:           env.Clock,
		Repo:            invoiceRepo,
		UsageRepo:       usagerepository.Provide(),
		SubscriptionSvc: subs,
		PlanSvc:         plans,
		TaxCalc:         taxservice.NewCalculator(taxservice.CalculatorParam{DB: env.DB, Log: env.Log, Repo: taxrepository.Provide()}),
		Ledger:          ledger,
		Publisher:       env.Events,
		Renderer:        render.NewRenderer(),
		BillingConfig:   env.Billing,
	})
	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: env.DB, Log: env.Log, GenID: env.Node, Clock: env.Clock,
		Repo: usagerepository.Provide(), Invoiced: invoiceRepo,
	})
	locker := lock.NewLocal()
	gateway := fake.New()
	payments := paymentservice.NewService(paymentservice.ServiceParam{
		DB:              env.DB,
		Log:             env.Log,
		GenID:           env.Node,
		Clock:           env.Clock,
		Repo:            paymentrepository.Provide(),
		Gateway:         gateway,
		InvoiceSvc:      invoices,
		SubscriptionSvc: subs,
		Locker:          locker,
		Publisher:       env.Events,
		BillingConfig:   env.Billing,
		Queue:           scheduler.NewQueue(),
	})

	svc := NewService(ServiceParam{
		DB:              env.DB,
		Log:             env.Log,
		GenID:           env.Node,
		Clock:           env.Clock,
		Locker:          locker,
		UsageSvc:        usage,
		PlanSvc:         plans,
		SubscriptionSvc: subs,
		InvoiceSvc:      invoices,
		PaymentSvc:      payments,
		Publisher:       env.Events,
		BillingConfig:   env.Billing,
	})

	basic, err := plans.Create(ctx, plandomain.CreateRequest{
		Name: "Basic", PricingType: plandomain.PricingTypeFlat, BasePrice: 1000, Currency: "USD", Interval: plandomain.IntervalMonth,
	})
	require.NoError(t, err)
	pro, err := plans.Create(ctx, plandomain.CreateRequest{
		Name: "Pro", PricingType: plandomain.PricingTypeFlat, BasePrice: 2000, Currency: "USD", Interval: plandomain.IntervalMonth,
	})
	require.NoError(t, err)

	return fixture{
		env:      env,
		svc:      svc,
		plans:    plans,
		subs:     subs,
		invoices: invoices,
		gateway:  gateway,
		basic:    basic,
		pro:      pro,
	}
}

func (f fixture) subscribe(t *testing.T, plan *plandomain.Plan, trialDays int) *subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.subs.Create(context.Background(), subscriptiondomain.CreateSubscriptionRequest{
		CustomerID:       f.env.Node.Generate(),
		CustomerRef:      "cus_123",
		BillingEmail:     "billing@example.com",
		PlanID:           plan.ID,
		Quantity:         1,
		TrialDays:        trialDays,
		PaymentMethodRef: "pm_card",
	})
	require.NoError(t, err)
	return sub
}

func TestChangePlan_UpgradeAtMidpoint(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := f.subscribe(t, f.basic, 0)
	require.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), sub.CurrentPeriodEnd)

	f.env.Clock.Set(time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC))
	result, err := f.svc.ChangePlan(ctx, billingdomain.ChangePlanRequest{
		SubscriptionID: sub.ID, PlanID: f.pro.ID, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, f.pro.ID, result.Subscription.PlanID)
	require.NotNil(t, result.Proration)
	assert.Equal(t, int64(500), result.Proration.Credit)
	assert.Equal(t, int64(1000), result.Proration.Charge)
	assert.Equal(t, int64(500), result.Proration.Net)
	assert.Equal(t, 1, f.env.Events.Count(events.TypeSubscriptionUpdated))

	// The next invoice picks the proration up.
	f.env.Clock.Set(sub.CurrentPeriodEnd)
	rollover, err := f.svc.RolloverCycle(ctx, sub.ID)
	require.NoError(t, err)
	require.NotNil(t, rollover.Invoice)

	invoice, err := f.invoices.Get(ctx, rollover.Invoice.ID)
	require.NoError(t, err)
	var prorated int64
	lines := 0
	for _, line := range invoice.Lines {
		if line.Kind == invoicedomain.LineKindProration {
			prorated += line.Amount
			lines++
		}
	}
	assert.Equal(t, 2, lines)
	assert.Equal(t, int64(500), prorated)
}

func TestChangePlan_SamePlanIsNoop(t *testing.T) {
	f := setup(t)
	sub := f.subscribe(t, f.basic, 0)

	f.env.Clock.Advance(10 * 24 * time.Hour)
	result, err := f.svc.ChangePlan(context.Background(), billingdomain.ChangePlanRequest{
		SubscriptionID: sub.ID, PlanID: f.basic.ID, Quantity: 1,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Proration)
	assert.Equal(t, sub.Version, result.Subscription.Version)
	assert.Zero(t, f.env.Events.Count(events.TypeSubscriptionUpdated))
}

func TestChangePlan_DuringTrialHasNoProration(t *testing.T) {
	f := setup(t)
	sub := f.subscribe(t, f.basic, 14)
	require.Equal(t, subscriptiondomain.SubscriptionStatusTrialing, sub.Status)

	f.env.Clock.Advance(3 * 24 * time.Hour)
	result, err := f.svc.ChangePlan(context.Background(), billingdomain.ChangePlanRequest{
		SubscriptionID: sub.ID, PlanID: f.pro.ID, Quantity: 2,
	})
	require.NoError(t, err)
	assert.Nil(t, result.Proration)
	assert.Equal(t, int64(2), result.Subscription.Quantity)
	assert.Equal(t, 1, f.env.Events.Count(events.TypeSubscriptionUpdated))
}

func TestChangePlan_ConcurrentChangesSerialize(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	seats, err := f.plans.Create(ctx, plandomain.CreateRequest{
		Name: "Seats", PricingType: plandomain.PricingTypePerUnit, BasePrice: 1000, Currency: "USD", Interval: plandomain.IntervalMonth,
	})
	require.NoError(t, err)
	sub := f.subscribe(t, f.basic, 0)
	f.env.Clock.Set(time.Date(2026, 3, 16, 12, 0, 0, 0, time.UTC))

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*billingdomain.ChangePlanResult
	)
	for _, quantity := range []int64{2, 3} {
		wg.Add(1)
		go func(quantity int64) {
			defer wg.Done()
			result, err := f.svc.ChangePlan(ctx, billingdomain.ChangePlanRequest{
				SubscriptionID: sub.ID, PlanID: seats.ID, Quantity: quantity,
			})
			assert.NoError(t, err)
			mu.Lock()
			results = append(results, result)
			mu.Unlock()
		}(quantity)
	}
	wg.Wait()
	require.Len(t, results, 2)

	var rows []invoicedomain.PendingProration
	require.NoError(t, f.env.DB.Where("subscription_id = ?", sub.ID).Find(&rows).Error)
	require.Len(t, rows, 2)

	// The second change must start from the first one's outcome.
	first, second := rows[0], rows[1]
	if first.OldPlanID != f.basic.ID {
		first, second = second, first
	}
	assert.Equal(t, f.basic.ID, first.OldPlanID)
	assert.Equal(t, int64(1), first.OldQuantity)
	assert.Equal(t, first.NewPlanID, second.OldPlanID)
	assert.Equal(t, first.NewQuantity, second.OldQuantity)

	final, err := f.env.Subscription(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, second.NewPlanID, final.PlanID)
	assert.Equal(t, second.NewQuantity, final.Quantity)
	assert.Equal(t, sub.Version+2, final.Version)

	// Credits and charges telescope: half of the final price less half of Basic.
	assert.Equal(t, seats.ID, final.PlanID)
	assert.Equal(t, final.Quantity*500-500, first.Net+second.Net)
	assert.Equal(t, 2, f.env.Events.Count(events.TypeSubscriptionUpdated))
}

func TestChangePlan_Validation(t *testing.T) {
	f := setup(t)
	sub := f.subscribe(t, f.basic, 0)

	_, err := f.svc.ChangePlan(context.Background(), billingdomain.ChangePlanRequest{PlanID: f.pro.ID, Quantity: 1})
	assert.ErrorIs(t, err, billingdomain.ErrInvalidSubscription)

	_, err = f.svc.ChangePlan(context.Background(), billingdomain.ChangePlanRequest{
		SubscriptionID: sub.ID, PlanID: f.pro.ID, Quantity: 0,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidQuantity)
}

func TestRolloverCycle_ChargesAndRenews(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := f.subscribe(t, f.pro, 0)

	f.env.Clock.Set(sub.CurrentPeriodEnd)
	result, err := f.svc.RolloverCycle(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.RolloverRenewed, result.Outcome)
	assert.Equal(t, sub.CurrentPeriodEnd, result.Subscription.CurrentPeriodStart)
	assert.Equal(t, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC), result.Subscription.CurrentPeriodEnd)
	require.NotNil(t, result.Payment)
	assert.Equal(t, paymentdomain.AttemptStatusSucceeded, result.Payment.Status)

	invoice, err := f.invoices.Get(ctx, result.Invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.InvoiceStatusPaid, invoice.Status)
	assert.Equal(t, int64(2000), invoice.Total)

	again, err := f.svc.RolloverCycle(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.RolloverSkipped, again.Outcome)
	assert.Equal(t, 1, f.env.Events.Count(events.TypeSubscriptionRenewed))
}

func TestRolloverCycle_DeclinedChargeStillRenews(t *testing.T) {
	f := setup(t)
	f.gateway.Script(paymentdomain.ErrDeclined)
	sub := f.subscribe(t, f.pro, 0)

	f.env.Clock.Set(sub.CurrentPeriodEnd)
	result, err := f.svc.RolloverCycle(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.RolloverRenewed, result.Outcome)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusPastDue, result.Subscription.Status)
	require.NotNil(t, result.Payment)
	assert.Equal(t, paymentdomain.AttemptStatusFailed, result.Payment.Status)
}

func TestRolloverCycle_CancelAtPeriodEndInvoicesLastPeriod(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := f.subscribe(t, f.pro, 0)
	_, err := f.subs.Cancel(ctx, sub.ID, true)
	require.NoError(t, err)

	f.env.Clock.Set(sub.CurrentPeriodEnd)
	result, err := f.svc.RolloverCycle(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.RolloverCanceled, result.Outcome)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusCanceled, result.Subscription.Status)
	require.NotNil(t, result.Invoice)
	assert.Equal(t, sub.CurrentPeriodStart, result.Invoice.PeriodStart)
	assert.Equal(t, 1, f.env.Events.Count(events.TypeSubscriptionCanceled))
	assert.Zero(t, f.env.Events.Count(events.TypeSubscriptionRenewed))
}

func TestRolloverCycle_TrialActivatesWithoutInvoice(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sub := f.subscribe(t, f.pro, 14)

	f.env.Clock.Set(sub.CurrentPeriodEnd)
	result, err := f.svc.RolloverCycle(ctx, sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.RolloverActivated, result.Outcome)
	assert.Equal(t, subscriptiondomain.SubscriptionStatusActive, result.Subscription.Status)
	assert.Nil(t, result.Invoice)
	assert.True(t, result.Subscription.CurrentPeriodEnd.After(sub.CurrentPeriodEnd))

	list, err := f.invoices.List(ctx, invoicedomain.ListInvoiceRequest{SubscriptionID: sub.ID})
	require.NoError(t, err)
	assert.Empty(t, list.Invoices)
}

func TestRolloverCycle_SkipsOpenPeriod(t *testing.T) {
	f := setup(t)
	sub := f.subscribe(t, f.pro, 0)

	result, err := f.svc.RolloverCycle(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.Equal(t, billingdomain.RolloverSkipped, result.Outcome)
	assert.Nil(t, result.Invoice)
}

func TestRolloverDue_SweepsEndedPeriods(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first := f.subscribe(t, f.pro, 0)
	second := f.subscribe(t, f.basic, 0)

	f.env.Clock.Advance(10 * 24 * time.Hour)
	third := f.subscribe(t, f.basic, 0)

	f.env.Clock.Set(first.CurrentPeriodEnd.Add(time.Hour))
	n, err := f.svc.RolloverDue(ctx, f.env.Clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []snowflake.ID{first.ID, second.ID} {
		sub, err := f.env.Subscription(ctx, id)
		require.NoError(t, err)
		assert.True(t, sub.CurrentPeriodEnd.After(f.env.Clock.Now()))
	}
	untouched, err := f.env.Subscription(ctx, third.ID)
	require.NoError(t, err)
	assert.Equal(t, third.CurrentPeriodEnd, untouched.CurrentPeriodEnd)
}

type flakyUsage struct {
	usagedomain.Service
	mu       sync.Mutex
	failures int
	calls    int
}

func (u *flakyUsage) RecordUsage(_ context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.calls <= u.failures {
		return nil, errs.Wrap(errs.KindRepository, errors.New("database is locked"))
	}
	return &usagedomain.UsageRecord{SubscriptionID: req.SubscriptionID, FeatureCode: req.FeatureCode, Quantity: req.Quantity}, nil
}

func fastRetry() *config.BillingConfigHolder {
	cfg := config.DefaultBillingConfig()
	cfg.RepositoryRetry.BaseDelay = time.Millisecond
	cfg.RepositoryRetry.MaxDelay = 5 * time.Millisecond
	return config.NewStaticBillingConfigHolder(cfg)
}

func TestRecordUsage_RetriesTransientRepositoryErrors(t *testing.T) {
	usage := &flakyUsage{failures: 2}
	svc := NewService(ServiceParam{Log: zap.NewNop(), UsageSvc: usage, BillingConfig: fastRetry()})

	record, err := svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		SubscriptionID: 1, FeatureCode: "api_calls", Quantity: 5,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), record.Quantity)
	assert.Equal(t, 3, usage.calls)
}

func TestRecordUsage_GivesUpAfterMaxAttempts(t *testing.T) {
	usage := &flakyUsage{failures: 10}
	svc := NewService(ServiceParam{Log: zap.NewNop(), UsageSvc: usage, BillingConfig: fastRetry()})

	_, err := svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		SubscriptionID: 1, FeatureCode: "api_calls", Quantity: 5,
	})
	assert.True(t, errs.Is(err, errs.KindRepository))
	assert.Equal(t, 3, usage.calls)
}

// A serialization failure from postgres is classified as a repository
// error and retried against the real usage service.
func TestRecordUsage_RetriesPostgresSerializationFailure(t *testing.T) {
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer sqlDB.Close()

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)

	serialization := &pgconn.PgError{Code: "40001", Message: "could not serialize access"}
	for i := 0; i < 3; i++ {
		mock.ExpectQuery(`SELECT COUNT\(1\)`).WillReturnError(serialization)
	}

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	env := billingtest.NewEnv(t, start)
	usage := usageservice.NewService(usageservice.ServiceParam{
		DB: gdb, Log: zap.NewNop(), GenID: node, Clock: env.Clock,
		Repo: usagerepository.Provide(), Invoiced: invoicerepository.Provide(),
	})
	svc := NewService(ServiceParam{Log: zap.NewNop(), UsageSvc: usage, BillingConfig: fastRetry()})

	_, err = svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		SubscriptionID: 42, FeatureCode: "api_calls", Quantity: 1,
	})
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindRepository))
	var pgErr *pgconn.PgError
	assert.True(t, errors.As(err, &pgErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordUsage_ValidationIsNotRetried(t *testing.T) {
	f := setup(t)
	_, err := f.svc.RecordUsage(context.Background(), usagedomain.RecordUsageRequest{
		SubscriptionID: 1, FeatureCode: "api_calls", Quantity: -1,
	})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidQuantity)
}
