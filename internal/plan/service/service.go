package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/smallbiznis/billingcore/internal/clock"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  plandomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  plandomain.Repository
}

func New(p Params) plandomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("plan.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req plandomain.CreateRequest) (*plandomain.Plan, error) {
	code := slug.Make(strings.TrimSpace(req.Code))
	if code == "" {
		code = slug.Make(req.Name)
	}
	if code == "" {
		return nil, plandomain.ErrInvalidCode
	}

	now := s.clock.Now()
	plan := plandomain.Plan{
		ID:            s.genID.Generate(),
		Code:          code,
		Name:          strings.TrimSpace(req.Name),
		PricingType:   plandomain.PricingType(strings.ToUpper(strings.TrimSpace(string(req.PricingType)))),
		BasePrice:     req.BasePrice,
		Currency:      strings.ToUpper(strings.TrimSpace(req.Currency)),
		Interval:      plandomain.Interval(strings.ToUpper(strings.TrimSpace(string(req.Interval)))),
		IntervalCount: req.IntervalCount,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if plan.IntervalCount == 0 {
		plan.IntervalCount = 1
	}
	plan.Tiers = s.buildTiers(plan.ID, 0, req.Tiers)
	for i, f := range req.Features {
		featureID := s.genID.Generate()
		plan.Features = append(plan.Features, plandomain.Feature{
			ID:       featureID,
			PlanID:   plan.ID,
			Code:     slug.Make(f.Code),
			Name:     strings.TrimSpace(f.Name),
			Position: i,
			Tiers:    s.buildTiers(plan.ID, featureID, f.Tiers),
		})
	}

	if err := plandomain.ValidatePlan(plan); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByCode(ctx, tx, plan.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return plandomain.ErrDuplicateCode
		}
		return s.repo.Insert(ctx, tx, &plan)
	})
	if err != nil {
		return nil, db.Classify(err)
	}

	s.log.Info("plan created",
		zap.String("plan_id", plan.ID.String()),
		zap.String("code", plan.Code),
		zap.String("pricing_type", string(plan.PricingType)),
	)
	return &plan, nil
}

func (s *Service) buildTiers(planID, featureID snowflake.ID, in []plandomain.TierInput) []plandomain.PriceTier {
	if len(in) == 0 {
		return nil
	}
	out := make([]plandomain.PriceTier, 0, len(in))
	for i, t := range in {
		out = append(out, plandomain.PriceTier{
			ID:         s.genID.Generate(),
			PlanID:     planID,
			FeatureID:  featureID,
			Position:   i,
			UpTo:       t.UpTo,
			FlatFee:    t.FlatFee,
			PerUnitFee: t.PerUnitFee,
			IsInfinite: t.IsInfinite,
		})
	}
	return out
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*plandomain.Plan, error) {
	plan, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, db.Classify(err)
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	return plan, nil
}

func (s *Service) GetByCode(ctx context.Context, code string) (*plandomain.Plan, error) {
	plan, err := s.repo.FindByCode(ctx, s.db, slug.Make(code))
	if err != nil {
		return nil, db.Classify(err)
	}
	if plan == nil {
		return nil, plandomain.ErrNotFound
	}
	return plan, nil
}

func (s *Service) List(ctx context.Context) ([]plandomain.Plan, error) {
	plans, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, db.Classify(err)
	}
	return plans, nil
}
