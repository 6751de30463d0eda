package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/events"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      subscriptiondomain.Repository
	PlanSvc   plandomain.Service
	Publisher events.Publisher
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID     *snowflake.Node
	clock     clock.Clock
	repo      subscriptiondomain.Repository
	planSvc   plandomain.Service
	publisher events.Publisher
	metrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) subscriptiondomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("subscription.service"),

		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		planSvc:   p.PlanSvc,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	if req.CustomerID == 0 {
		return nil, subscriptiondomain.ErrInvalidCustomer
	}
	customerRef := strings.TrimSpace(req.CustomerRef)
	if customerRef == "" {
		customerRef = req.CustomerID.String()
	}
	customerType := req.CustomerType
	switch customerType {
	case "":
		customerType = subscriptiondomain.CustomerTypeIndividual
	case subscriptiondomain.CustomerTypeIndividual, subscriptiondomain.CustomerTypeBusiness:
	default:
		return nil, subscriptiondomain.ErrInvalidCustomerType
	}
	if req.PlanID == 0 {
		return nil, subscriptiondomain.ErrInvalidPlan
	}
	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}
	if quantity < 1 {
		return nil, subscriptiondomain.ErrInvalidQuantity
	}
	if req.TrialDays < 0 {
		return nil, subscriptiondomain.ErrInvalidTrial
	}

	plan, err := s.planSvc.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	if !plan.Active {
		return nil, subscriptiondomain.ErrInvalidPlan
	}

	now := s.clock.Now()
	subscription := &subscriptiondomain.Subscription{
		ID:                 s.genID.Generate(),
		CustomerID:         req.CustomerID,
		CustomerRef:        customerRef,
		BillingEmail:       strings.TrimSpace(req.BillingEmail),
		CustomerType:       customerType,
		CountryCode:        strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		StateCode:          strings.ToUpper(strings.TrimSpace(req.StateCode)),
		PlanID:             plan.ID,
		Quantity:           quantity,
		Status:             subscriptiondomain.SubscriptionStatusActive,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   plan.PeriodEnd(now),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		subscription.Status = subscriptiondomain.SubscriptionStatusTrialing
		subscription.TrialEnd = &trialEnd
		subscription.CurrentPeriodEnd = trialEnd
	}
	if ref := strings.TrimSpace(req.PaymentMethodRef); ref != "" {
		subscription.PaymentMethodRef = &ref
	}

	if err := s.repo.Insert(ctx, s.db, subscription); err != nil {
		return nil, db.Classify(err)
	}

	s.log.Info("subscription created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("plan_id", plan.ID.String()),
		zap.String("status", string(subscription.Status)),
	)
	s.publish(ctx, events.New(events.TypeSubscriptionCreated, now, subscriptiondomain.EventData(*subscription, "")))
	return subscription, nil
}

func (s *Service) GetByID(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	subscription, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, db.Classify(err)
	}
	if subscription == nil {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	return subscription, nil
}

func (s *Service) List(ctx context.Context, req subscriptiondomain.ListSubscriptionRequest) (subscriptiondomain.ListSubscriptionResponse, error) {
	if req.Status != "" && !req.Status.Valid() {
		return subscriptiondomain.ListSubscriptionResponse{}, subscriptiondomain.ErrInvalidStatus
	}
	limit := req.Limit()
	rows, err := s.repo.List(ctx, s.db, subscriptiondomain.ListFilter{
		CustomerID: req.CustomerID,
		Status:     req.Status,
		AfterID:    req.AfterID(),
		Limit:      limit + 1,
	})
	if err != nil {
		return subscriptiondomain.ListSubscriptionResponse{}, db.Classify(err)
	}

	items := make([]*subscriptiondomain.Subscription, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(sub *subscriptiondomain.Subscription) string {
		return sub.ID.String()
	})

	resp := subscriptiondomain.ListSubscriptionResponse{
		PageInfo:      *pageInfo,
		Subscriptions: make([]subscriptiondomain.Subscription, 0, len(items)),
	}
	for _, item := range items {
		resp.Subscriptions = append(resp.Subscriptions, *item)
	}
	return resp, nil
}

func (s *Service) ListDue(ctx context.Context, now time.Time, limit int) ([]subscriptiondomain.Subscription, error) {
	subscriptions, err := s.repo.ListDue(ctx, s.db, now, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	return subscriptions, nil
}

func (s *Service) Transition(
	ctx context.Context,
	id snowflake.ID,
	ev subscriptiondomain.TransitionEvent,
	opts ...subscriptiondomain.TransitionOption,
) (*subscriptiondomain.Subscription, error) {
	var (
		updated *subscriptiondomain.Subscription
		emitted []events.Event
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		updated, emitted, err = s.TransitionTx(ctx, tx, id, ev, opts...)
		return err
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	s.publish(ctx, emitted...)
	return updated, nil
}

func (s *Service) TransitionTx(
	ctx context.Context,
	tx *gorm.DB,
	id snowflake.ID,
	ev subscriptiondomain.TransitionEvent,
	opts ...subscriptiondomain.TransitionOption,
) (*subscriptiondomain.Subscription, []events.Event, error) {
	current, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, subscriptiondomain.ErrSubscriptionNotFound
	}

	next, emitted, err := subscriptiondomain.Transition(*current, ev, s.clock.Now(), opts...)
	if err != nil {
		return nil, nil, err
	}
	if len(emitted) == 0 {
		return current, nil, nil
	}

	ok, err := s.repo.Update(ctx, tx, &next)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, subscriptiondomain.ErrConcurrentModification
	}

	if current.Status != next.Status {
		s.metrics.RecordSubscriptionTransition(ctx, string(current.Status), string(next.Status))
	}
	s.log.Info("subscription transitioned",
		zap.String("subscription_id", next.ID.String()),
		zap.String("event", ev.String()),
		zap.String("from", string(current.Status)),
		zap.String("to", string(next.Status)),
	)
	return &next, emitted, nil
}

func (s *Service) ChangePlanTx(
	ctx context.Context,
	tx *gorm.DB,
	id snowflake.ID,
	planID snowflake.ID,
	quantity int64,
) (*subscriptiondomain.Subscription, *subscriptiondomain.Subscription, error) {
	if planID == 0 {
		return nil, nil, subscriptiondomain.ErrInvalidPlan
	}
	if quantity < 1 {
		return nil, nil, subscriptiondomain.ErrInvalidQuantity
	}

	current, err := s.repo.FindByIDForUpdate(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if current == nil {
		return nil, nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if current.Status.Terminal() {
		return nil, nil, subscriptiondomain.ErrSubscriptionCanceled
	}

	plan, err := s.planSvc.Get(ctx, planID)
	if err != nil {
		return nil, nil, err
	}
	if !plan.Active {
		return nil, nil, subscriptiondomain.ErrInvalidPlan
	}
	if current.PlanID == plan.ID && current.Quantity == quantity {
		return current, current, nil
	}

	next := *current
	next.PlanID = plan.ID
	next.Quantity = quantity
	next.Version++
	next.UpdatedAt = s.clock.Now()
	ok, err := s.repo.Update(ctx, tx, &next)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, subscriptiondomain.ErrConcurrentModification
	}

	s.log.Info("subscription plan changed",
		zap.String("subscription_id", next.ID.String()),
		zap.String("from_plan_id", current.PlanID.String()),
		zap.String("to_plan_id", next.PlanID.String()),
		zap.Int64("quantity", next.Quantity),
	)
	return current, &next, nil
}

// Cancel ends the subscription now, or flags it to end at the current
// period boundary.
func (s *Service) Cancel(ctx context.Context, id snowflake.ID, atPeriodEnd bool) (*subscriptiondomain.Subscription, error) {
	if atPeriodEnd {
		return s.Transition(ctx, id, subscriptiondomain.EventScheduleCancel)
	}
	return s.Transition(ctx, id, subscriptiondomain.EventCancel)
}

func (s *Service) Resume(ctx context.Context, id snowflake.ID) (*subscriptiondomain.Subscription, error) {
	return s.Transition(ctx, id, subscriptiondomain.EventResume)
}

// UpdatePaymentMethod stores the payment method used by the next charge
// attempt, including already scheduled retries.
func (s *Service) UpdatePaymentMethod(ctx context.Context, id snowflake.ID, ref string) (*subscriptiondomain.Subscription, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, subscriptiondomain.ErrInvalidPaymentMethod
	}

	var updated *subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		current, err := s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if current == nil {
			return subscriptiondomain.ErrSubscriptionNotFound
		}
		if current.Status.Terminal() {
			return subscriptiondomain.ErrSubscriptionCanceled
		}

		next := *current
		next.PaymentMethodRef = &ref
		next.Version++
		next.UpdatedAt = s.clock.Now()
		ok, err := s.repo.Update(ctx, tx, &next)
		if err != nil {
			return err
		}
		if !ok {
			return subscriptiondomain.ErrConcurrentModification
		}
		updated = &next
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}

	s.log.Info("payment method updated", zap.String("subscription_id", id.String()))
	s.publish(ctx, events.New(events.TypeSubscriptionUpdated, updated.UpdatedAt, subscriptiondomain.EventData(*updated, "")))
	return updated, nil
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if s.publisher == nil || len(evs) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.Warn("publish subscription events failed", zap.Error(err))
	}
}
