package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/clock"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/db/option"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"github.com/smallbiznis/billingcore/pkg/repository"
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
	Repo      usagedomain.Repository
	Invoiced  usagedomain.InvoicedPeriodChecker
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID    *snowflake.Node
	clock    clock.Clock
	repo     usagedomain.Repository
	store    repository.Repository[usagedomain.UsageRecord]
	invoiced usagedomain.InvoicedPeriodChecker
	metrics  *obsmetrics.Metrics
}

func NewService(p ServiceParam) usagedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("usage.service"),

		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		store:    repository.ProvideStore[usagedomain.UsageRecord](p.DB),
		invoiced: p.Invoiced,
		metrics:  p.Metrics,
	}
}

// RecordUsage appends a usage record. Timestamps outside the current
// period are accepted. A record landing in an already invoiced period is
// flagged late; any record no invoice has billed is picked up as catch-up
// by the next one, whether or not the flag was set.
func (s *Service) RecordUsage(ctx context.Context, req usagedomain.RecordUsageRequest) (*usagedomain.UsageRecord, error) {
	if req.SubscriptionID == 0 {
		return nil, usagedomain.ErrInvalidSubscription
	}
	featureCode := strings.TrimSpace(req.FeatureCode)
	if featureCode == "" {
		return nil, usagedomain.ErrInvalidFeature
	}
	if req.Quantity < 0 {
		return nil, usagedomain.ErrInvalidQuantity
	}

	idempotencyKey := strings.TrimSpace(req.IdempotencyKey)
	if idempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, idempotencyKey)
		if err != nil {
			return nil, db.Classify(err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	now := s.clock.Now()
	recordedAt := req.At.UTC()
	if req.At.IsZero() {
		recordedAt = now
	}

	late := false
	if s.invoiced != nil {
		covered, err := s.invoiced.HasInvoicedPeriod(ctx, s.db, req.SubscriptionID, recordedAt)
		if err != nil {
			return nil, db.Classify(err)
		}
		late = covered
	}

	record := &usagedomain.UsageRecord{
		ID:             s.genID.Generate(),
		SubscriptionID: req.SubscriptionID,
		FeatureCode:    featureCode,
		Quantity:       req.Quantity,
		RecordedAt:     recordedAt,
		Late:           late,
		CreatedAt:      now,
	}
	if idempotencyKey != "" {
		record.IdempotencyKey = &idempotencyKey
	}

	inserted, err := s.repo.Insert(ctx, s.db, record)
	if err != nil {
		return nil, db.Classify(err)
	}
	if !inserted && idempotencyKey != "" {
		existing, err := s.repo.FindByIdempotencyKey(ctx, s.db, idempotencyKey)
		if err != nil {
			return nil, db.Classify(err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	s.metrics.RecordUsage(ctx, featureCode, late)
	if late {
		s.log.Info("late usage recorded",
			zap.String("subscription_id", record.SubscriptionID.String()),
			zap.String("feature_code", featureCode),
			zap.Time("recorded_at", recordedAt),
		)
	}
	return record, nil
}

func (s *Service) TotalUsage(ctx context.Context, subscriptionID snowflake.ID, featureCode string, start, end time.Time) (int64, error) {
	if !end.After(start) {
		return 0, usagedomain.ErrInvalidPeriod
	}
	total, err := s.repo.SumQuantity(ctx, s.db, subscriptionID, strings.TrimSpace(featureCode), start, end)
	if err != nil {
		return 0, db.Classify(err)
	}
	return total, nil
}

func (s *Service) UnbilledUsage(ctx context.Context, subscriptionID snowflake.ID, before time.Time) ([]usagedomain.UsageRecord, error) {
	records, err := s.repo.ListUnbilled(ctx, s.db, subscriptionID, before)
	if err != nil {
		return nil, db.Classify(err)
	}
	return records, nil
}

func (s *Service) MarkBilled(ctx context.Context, ids []snowflake.ID, invoiceID snowflake.ID) error {
	return db.Classify(s.repo.MarkBilled(ctx, s.db, ids, invoiceID))
}

func (s *Service) List(ctx context.Context, req usagedomain.ListUsageRequest) (usagedomain.ListUsageResponse, error) {
	filter := &usagedomain.UsageRecord{
		SubscriptionID: req.SubscriptionID,
		FeatureCode:    strings.TrimSpace(req.FeatureCode),
	}
	limit := req.Limit()

	items, err := s.store.Find(ctx, filter,
		option.WithAfterID(req.AfterID()),
		option.WithOrder("id", false),
		option.WithLimit(limit+1),
	)
	if err != nil {
		return usagedomain.ListUsageResponse{}, db.Classify(err)
	}

	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(record *usagedomain.UsageRecord) string {
		return record.ID.String()
	})
	records := make([]usagedomain.UsageRecord, 0, len(items))
	for _, item := range items {
		records = append(records, *item)
	}
	return usagedomain.ListUsageResponse{
		PageInfo:     *pageInfo,
		UsageRecords: records,
	}, nil
}
