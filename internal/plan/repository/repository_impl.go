package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() plandomain.Repository {
	return &repo{}
}

const planColumns = `id, code, name, pricing_type, base_price, currency, billing_interval, interval_count, active, created_at, updated_at`

// Insert writes the plan with its tiers and features. Callers run it inside
// a transaction.
func (r *repo) Insert(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	db = db.WithContext(ctx)
	if err := db.Exec(
		`INSERT INTO plans (`+planColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		plan.ID,
		plan.Code,
		plan.Name,
		plan.PricingType,
		plan.BasePrice,
		plan.Currency,
		plan.Interval,
		plan.IntervalCount,
		plan.Active,
		plan.CreatedAt,
		plan.UpdatedAt,
	).Error; err != nil {
		return err
	}

	if err := insertTiers(db, plan.Tiers); err != nil {
		return err
	}
	for _, feature := range plan.Features {
		if err := db.Exec(
			`INSERT INTO plan_features (id, plan_id, code, name, position) VALUES (?, ?, ?, ?, ?)`,
			feature.ID,
			feature.PlanID,
			feature.Code,
			feature.Name,
			feature.Position,
		).Error; err != nil {
			return err
		}
		if err := insertTiers(db, feature.Tiers); err != nil {
			return err
		}
	}
	return nil
}

func insertTiers(db *gorm.DB, tiers []plandomain.PriceTier) error {
	for _, tier := range tiers {
		if err := db.Exec(
			`INSERT INTO plan_price_tiers (id, plan_id, feature_id, position, up_to, flat_fee, per_unit_fee, is_infinite)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			tier.ID,
			tier.PlanID,
			tier.FeatureID,
			tier.Position,
			tier.UpTo,
			tier.FlatFee,
			tier.PerUnitFee,
			tier.IsInfinite,
		).Error; err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE id = ?`,
		id,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	if err := r.loadChildren(ctx, db, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*plandomain.Plan, error) {
	var plan plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT `+planColumns+` FROM plans WHERE code = ?`,
		code,
	).Scan(&plan).Error
	if err != nil {
		return nil, err
	}
	if plan.ID == 0 {
		return nil, nil
	}
	if err := r.loadChildren(ctx, db, &plan); err != nil {
		return nil, err
	}
	return &plan, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB) ([]plandomain.Plan, error) {
	var plans []plandomain.Plan
	err := db.WithContext(ctx).Raw(
		`SELECT ` + planColumns + ` FROM plans ORDER BY id ASC`,
	).Scan(&plans).Error
	if err != nil {
		return nil, err
	}
	for i := range plans {
		if err := r.loadChildren(ctx, db, &plans[i]); err != nil {
			return nil, err
		}
	}
	return plans, nil
}

func (r *repo) loadChildren(ctx context.Context, db *gorm.DB, plan *plandomain.Plan) error {
	var tiers []plandomain.PriceTier
	if err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, feature_id, position, up_to, flat_fee, per_unit_fee, is_infinite
		 FROM plan_price_tiers WHERE plan_id = ? ORDER BY feature_id ASC, position ASC`,
		plan.ID,
	).Scan(&tiers).Error; err != nil {
		return err
	}

	var features []plandomain.Feature
	if err := db.WithContext(ctx).Raw(
		`SELECT id, plan_id, code, name, position FROM plan_features WHERE plan_id = ? ORDER BY position ASC`,
		plan.ID,
	).Scan(&features).Error; err != nil {
		return err
	}

	byFeature := make(map[snowflake.ID][]plandomain.PriceTier, len(features)+1)
	for _, tier := range tiers {
		byFeature[tier.FeatureID] = append(byFeature[tier.FeatureID], tier)
	}
	plan.Tiers = byFeature[0]
	for i := range features {
		features[i].Tiers = byFeature[features[i].ID]
	}
	plan.Features = features
	return nil
}
