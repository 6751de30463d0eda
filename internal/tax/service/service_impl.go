package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/clock"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Repo  taxdomain.Repository
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	repo  taxdomain.Repository
}

func NewService(p ServiceParam) taxdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("tax.service"),
		genID: p.GenID,
		clock: p.Clock,
		repo:  p.Repo,
	}
}

func (s *Service) Create(ctx context.Context, req taxdomain.CreateRequest) (*taxdomain.TaxRate, error) {
	now := s.clock.Now()
	rate := &taxdomain.TaxRate{
		ID:           s.genID.Generate(),
		Code:         strings.ToUpper(strings.TrimSpace(req.Code)),
		Name:         strings.TrimSpace(req.Name),
		CountryCode:  strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		StateCode:    strings.ToUpper(strings.TrimSpace(req.StateCode)),
		CustomerType: strings.ToUpper(strings.TrimSpace(req.CustomerType)),
		Mode:         normalizeTaxMode(req.Mode),
		Rate:         req.Rate,
		IsEnabled:    true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := rate.Validate(); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing, err := s.repo.FindByCode(ctx, tx, rate.Code)
		if err != nil {
			return err
		}
		if existing != nil {
			return taxdomain.ErrDuplicateCode
		}
		return s.repo.Insert(ctx, tx, rate)
	})
	if err != nil {
		return nil, db.Classify(err)
	}

	s.log.Info("tax rate created",
		zap.String("code", rate.Code),
		zap.String("country_code", rate.CountryCode),
		zap.String("rate", rate.Rate.String()),
	)
	return rate, nil
}

func (s *Service) List(ctx context.Context, req taxdomain.ListRequest) ([]taxdomain.TaxRate, error) {
	filter := taxdomain.ListRequest{
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		IsEnabled:   req.IsEnabled,
	}
	items, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return nil, db.Classify(err)
	}
	return items, nil
}

func (s *Service) Disable(ctx context.Context, id snowflake.ID) (*taxdomain.TaxRate, error) {
	var rate *taxdomain.TaxRate
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		rate, err = s.repo.FindByID(ctx, tx, id)
		if err != nil {
			return err
		}
		if rate == nil {
			return taxdomain.ErrNotFound
		}
		if !rate.IsEnabled {
			return nil
		}
		rate.IsEnabled = false
		rate.UpdatedAt = s.clock.Now()
		return s.repo.SetEnabled(ctx, tx, id, false, rate.UpdatedAt)
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	return rate, nil
}

func normalizeTaxMode(mode taxdomain.TaxMode) taxdomain.TaxMode {
	switch taxdomain.TaxMode(strings.ToUpper(strings.TrimSpace(string(mode)))) {
	case taxdomain.TaxModeInclusive:
		return taxdomain.TaxModeInclusive
	case taxdomain.TaxModeExclusive, "":
		return taxdomain.TaxModeExclusive
	default:
		return mode
	}
}
