// Package seed loads a starter plan catalog into an empty install.
package seed

import (
	"context"
	"errors"

	"github.com/smallbiznis/billingcore/internal/config"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("seed",
	fx.Invoke(registerSeed),
)

// DefaultPlans is the starter catalog: a flat plan, a per-seat plan, a
// volume-tiered plan and a metered plan.
func DefaultPlans() []plandomain.CreateRequest {
	return []plandomain.CreateRequest{
		{
			Code:        "starter",
			Name:        "Starter",
			PricingType: plandomain.PricingTypeFlat,
			BasePrice:   1000,
			Currency:    "USD",
			Interval:    plandomain.IntervalMonth,
		},
		{
			Code:        "team",
			Name:        "Team",
			PricingType: plandomain.PricingTypePerUnit,
			BasePrice:   800,
			Currency:    "USD",
			Interval:    plandomain.IntervalMonth,
		},
		{
			Code:        "business",
			Name:        "Business",
			PricingType: plandomain.PricingTypeTiered,
			Currency:    "USD",
			Interval:    plandomain.IntervalMonth,
			Tiers: []plandomain.TierInput{
				{UpTo: 10, PerUnitFee: 1000},
				{UpTo: 50, PerUnitFee: 800},
				{PerUnitFee: 600, IsInfinite: true},
			},
		},
		{
			Code:        "api",
			Name:        "API",
			PricingType: plandomain.PricingTypeUsageBased,
			BasePrice:   2000,
			Currency:    "USD",
			Interval:    plandomain.IntervalMonth,
			Features: []plandomain.FeatureInput{
				{
					Code: "api_calls",
					Name: "API calls",
					Tiers: []plandomain.TierInput{
						{UpTo: 10000},
						{PerUnitFee: 1, IsInfinite: true},
					},
				},
			},
		},
	}
}

// EnsurePlans creates every plan whose code does not exist yet and returns
// how many were created.
func EnsurePlans(ctx context.Context, svc plandomain.Service, plans []plandomain.CreateRequest) (int, error) {
	created := 0
	for _, req := range plans {
		_, err := svc.GetByCode(ctx, req.Code)
		if err == nil {
			continue
		}
		if !errors.Is(err, plandomain.ErrNotFound) {
			return created, err
		}
		if _, err := svc.Create(ctx, req); err != nil {
			return created, err
		}
		created++
	}
	return created, nil
}

func registerSeed(lc fx.Lifecycle, cfg config.Config, svc plandomain.Service, log *zap.Logger) {
	if !cfg.SeedDefaultPlans {
		return
	}
	log = log.Named("seed")
	if cfg.IsProduction() {
		log.Warn("default plan seeding is disabled in production")
		return
	}
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			n, err := EnsurePlans(ctx, svc, DefaultPlans())
			if err != nil {
				return err
			}
			log.Info("default plans seeded", zap.Int("created", n))
			return nil
		},
	})
}
