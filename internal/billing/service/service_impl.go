package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/backoff"
	billingdomain "github.com/smallbiznis/billingcore/internal/billing/domain"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/lock"
	obscontext "github.com/smallbiznis/billingcore/internal/observability/context"
	obslogger "github.com/smallbiznis/billingcore/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/internal/proration"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const rolloverBatchSize = 100

type ServiceParam struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Locker          lock.Locker
	UsageSvc        usagedomain.Service
	PlanSvc         plandomain.Service
	SubscriptionSvc subscriptiondomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	Publisher       events.Publisher
	BillingConfig   *config.BillingConfigHolder
	Metrics         *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID           *snowflake.Node
	clock           clock.Clock
	locker          lock.Locker
	usageSvc        usagedomain.Service
	planSvc         plandomain.Service
	subscriptionSvc subscriptiondomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	publisher       events.Publisher
	billingConfig   *config.BillingConfigHolder
	metrics         *obsmetrics.Metrics
}

func NewService(p ServiceParam) billingdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("billing.service"),

		genID:           p.GenID,
		clock:           p.Clock,
		locker:          p.Locker,
		usageSvc:        p.UsageSvc,
		planSvc:         p.PlanSvc,
		subscriptionSvc: p.SubscriptionSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		publisher:       p.Publisher,
		billingConfig:   p.BillingConfig,
		metrics:         p.Metrics,
	}
}

// withRepositoryRetry retries fn while it fails with a transient storage
// error.
func (s *Service) withRepositoryRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	policy := s.billingConfig.Get().RepositoryRetry
	return backoff.Retry(ctx, policy, func(err error) bool {
		return errs.Is(err, errs.KindRepository)
	}, fn)
}

func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	var record *usagedomain.UsageRecord
	err := s.withRepositoryRetry(ctx, func(ctx context.Context) error {
		var err error
		record, err = s.usageSvc.RecordUsage(ctx, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

func (s *Service) ChangePlan(ctx context.Context, req billingdomain.ChangePlanRequest) (*billingdomain.ChangePlanResult, error) {
	if req.SubscriptionID == 0 {
		return nil, billingdomain.ErrInvalidSubscription
	}
	ctx = obscontext.WithSubscriptionID(ctx, req.SubscriptionID.String())

	release, err := s.locker.Acquire(ctx, lock.SubscriptionKey(req.SubscriptionID))
	if err != nil {
		return nil, err
	}
	defer release()

	now := s.clock.Now()
	var (
		before, after *subscriptiondomain.Subscription
		pending       *invoicedomain.PendingProration
	)
	err = s.withRepositoryRetry(ctx, func(ctx context.Context) error {
		pending = nil
		return db.Classify(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var err error
			before, after, err = s.subscriptionSvc.ChangePlanTx(ctx, tx, req.SubscriptionID, req.PlanID, req.Quantity)
			if err != nil {
				return err
			}
			if before == after || before.Status == subscriptiondomain.SubscriptionStatusTrialing {
				return nil
			}

			oldPlan, err := s.planSvc.Get(ctx, before.PlanID)
			if err != nil {
				return err
			}
			newPlan, err := s.planSvc.Get(ctx, after.PlanID)
			if err != nil {
				return err
			}
			result, err := proration.Calculate(proration.Input{
				OldPlan:     *oldPlan,
				OldQuantity: before.Quantity,
				NewPlan:     *newPlan,
				NewQuantity: after.Quantity,
				At:          now,
				PeriodStart: before.CurrentPeriodStart,
				PeriodEnd:   before.CurrentPeriodEnd,
			})
			if err != nil {
				return err
			}
			if result.IsZero() {
				return nil
			}

			pending = &invoicedomain.PendingProration{
				ID:             s.genID.Generate(),
				SubscriptionID: after.ID,
				OldPlanID:      before.PlanID,
				OldQuantity:    before.Quantity,
				NewPlanID:      after.PlanID,
				NewQuantity:    after.Quantity,
				Currency:       newPlan.Currency,
				Fraction:       result.Fraction,
				Credit:         result.Credit,
				Charge:         result.Charge,
				Net:            result.Net,
				EffectiveAt:    now,
				CreatedAt:      now,
			}
			return s.invoiceSvc.RecordProrationTx(ctx, tx, pending)
		}))
	})
	if err != nil {
		return nil, err
	}

	if before != after {
		data := subscriptiondomain.EventData(*after, before.Status)
		data["previous_plan_id"] = before.PlanID.String()
		data["previous_quantity"] = before.Quantity
		if pending != nil {
			data["proration_credit"] = pending.Credit
			data["proration_charge"] = pending.Charge
			data["proration_net"] = pending.Net
			s.metrics.RecordProration(ctx, pending.Net)
		}
		s.publish(ctx, events.New(events.TypeSubscriptionUpdated, now, data))
	}

	return &billingdomain.ChangePlanResult{Subscription: after, Proration: pending}, nil
}

func (s *Service) RolloverCycle(ctx context.Context, subscriptionID snowflake.ID) (*billingdomain.RolloverResult, error) {
	if subscriptionID == 0 {
		return nil, billingdomain.ErrInvalidSubscription
	}
	ctx = obscontext.WithSubscriptionID(ctx, subscriptionID.String())

	release, err := s.locker.Acquire(ctx, lock.SubscriptionKey(subscriptionID))
	if err != nil {
		return nil, err
	}
	defer release()

	sub, err := s.subscriptionSvc.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	now := s.clock.Now()
	if sub.Status.Terminal() || sub.Status == subscriptiondomain.SubscriptionStatusUnpaid || sub.CurrentPeriodEnd.After(now) {
		return &billingdomain.RolloverResult{Outcome: billingdomain.RolloverSkipped, Subscription: sub}, nil
	}

	if sub.Status == subscriptiondomain.SubscriptionStatusTrialing {
		return s.endTrial(ctx, sub)
	}

	result := &billingdomain.RolloverResult{}
	period := invoicedomain.Period{Start: sub.CurrentPeriodStart, End: sub.CurrentPeriodEnd}
	invoice, err := s.invoiceSvc.GenerateFromUsage(ctx, sub.ID, period)
	if err != nil {
		return nil, fmt.Errorf("generate invoice: %w", err)
	}
	invoice, err = s.invoiceSvc.Finalize(ctx, invoice.ID)
	if err != nil {
		return nil, fmt.Errorf("finalize invoice: %w", err)
	}
	result.Invoice = invoice

	attempt, err := s.paymentSvc.ChargeInvoice(ctx, invoice.ID)
	switch {
	case errors.Is(err, paymentdomain.ErrInvoiceNotPayable):
	case err != nil:
		return nil, fmt.Errorf("charge invoice: %w", err)
	default:
		result.Payment = attempt
	}

	if sub.CancelAtPeriodEnd {
		sub, err = s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.EventCancel)
		if err != nil {
			return nil, err
		}
		result.Outcome = billingdomain.RolloverCanceled
		result.Subscription = sub
		s.logRollover(ctx, result)
		return result, nil
	}

	sub, err = s.renew(ctx, sub)
	if err != nil {
		return nil, err
	}
	result.Outcome = billingdomain.RolloverRenewed
	result.Subscription = sub
	s.logRollover(ctx, result)
	return result, nil
}

// endTrial activates a trialing subscription and opens its first paid
// period, or cancels it when cancellation was scheduled during the trial.
func (s *Service) endTrial(ctx context.Context, sub *subscriptiondomain.Subscription) (*billingdomain.RolloverResult, error) {
	var err error
	if sub.CancelAtPeriodEnd {
		sub, err = s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.EventCancel)
		if err != nil {
			return nil, err
		}
		result := &billingdomain.RolloverResult{Outcome: billingdomain.RolloverCanceled, Subscription: sub}
		s.logRollover(ctx, result)
		return result, nil
	}

	sub, err = s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.EventActivate)
	if err != nil {
		return nil, err
	}
	sub, err = s.renew(ctx, sub)
	if err != nil {
		return nil, err
	}
	result := &billingdomain.RolloverResult{Outcome: billingdomain.RolloverActivated, Subscription: sub}
	s.logRollover(ctx, result)
	return result, nil
}

func (s *Service) renew(ctx context.Context, sub *subscriptiondomain.Subscription) (*subscriptiondomain.Subscription, error) {
	plan, err := s.planSvc.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}
	return s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.EventRenew,
		subscriptiondomain.WithPeriodEnd(plan.PeriodEnd(sub.CurrentPeriodEnd)),
	)
}

func (s *Service) RolloverDue(ctx context.Context, now time.Time) (int, error) {
	failed := make(map[snowflake.ID]struct{})
	processed := 0
	var errsJoined error

	for {
		due, err := s.subscriptionSvc.ListDue(ctx, now, rolloverBatchSize+len(failed))
		if err != nil {
			return processed, errors.Join(errsJoined, err)
		}

		progressed := false
		for _, sub := range due {
			if _, seen := failed[sub.ID]; seen {
				continue
			}
			if err := ctx.Err(); err != nil {
				return processed, errors.Join(errsJoined, err)
			}
			progressed = true
			if _, err := s.RolloverCycle(ctx, sub.ID); err != nil {
				failed[sub.ID] = struct{}{}
				errsJoined = errors.Join(errsJoined, fmt.Errorf("subscription %s: %w", sub.ID, err))
				s.logger(ctx).Warn("rollover failed",
					zap.String("subscription_id", sub.ID.String()),
					zap.Error(err),
				)
				continue
			}
			processed++
		}
		if !progressed || len(due) < rolloverBatchSize+len(failed) {
			break
		}
	}
	return processed, errsJoined
}

func (s *Service) logRollover(ctx context.Context, result *billingdomain.RolloverResult) {
	fields := []zap.Field{
		zap.String("outcome", string(result.Outcome)),
		zap.String("status", string(result.Subscription.Status)),
		zap.Time("current_period_end", result.Subscription.CurrentPeriodEnd),
	}
	if result.Invoice != nil {
		fields = append(fields,
			zap.String("invoice_id", result.Invoice.ID.String()),
			zap.Int64("total", result.Invoice.Total),
		)
	}
	if result.Payment != nil {
		fields = append(fields, zap.String("payment_status", string(result.Payment.Status)))
	}
	s.logger(ctx).Info("subscription rolled over", fields...)
}

func (s *Service) logger(ctx context.Context) *zap.Logger {
	return obslogger.WithContext(ctx, s.log)
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if s.publisher == nil || len(evs) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.Warn("publish billing events failed", zap.Error(err))
	}
}
