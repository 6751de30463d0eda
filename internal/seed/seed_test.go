package seed

import (
	"context"
	"errors"
	"testing"

	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryPlans struct {
	plandomain.Service
	byCode map[string]plandomain.Plan
	err    error
}

func (m *memoryPlans) GetByCode(_ context.Context, code string) (*plandomain.Plan, error) {
	if m.err != nil {
		return nil, m.err
	}
	plan, ok := m.byCode[code]
	if !ok {
		return nil, plandomain.ErrNotFound
	}
	return &plan, nil
}

func (m *memoryPlans) Create(_ context.Context, req plandomain.CreateRequest) (*plandomain.Plan, error) {
	plan := plandomain.Plan{Code: req.Code, Name: req.Name, PricingType: req.PricingType}
	m.byCode[req.Code] = plan
	return &plan, nil
}

func TestEnsurePlansIsIdempotent(t *testing.T) {
	svc := &memoryPlans{byCode: map[string]plandomain.Plan{"starter": {Code: "starter"}}}
	ctx := context.Background()

	n, err := EnsurePlans(ctx, svc, DefaultPlans())
	require.NoError(t, err)
	assert.Equal(t, len(DefaultPlans())-1, n)

	n, err = EnsurePlans(ctx, svc, DefaultPlans())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, svc.byCode, len(DefaultPlans()))
}

func TestEnsurePlansStopsOnLookupFailure(t *testing.T) {
	boom := errors.New("connection refused")
	svc := &memoryPlans{byCode: map[string]plandomain.Plan{}, err: boom}

	_, err := EnsurePlans(context.Background(), svc, DefaultPlans())
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, svc.byCode)
}

func TestDefaultPlansAreValid(t *testing.T) {
	for _, req := range DefaultPlans() {
		plan := plandomain.Plan{
			Name:          req.Name,
			PricingType:   req.PricingType,
			BasePrice:     req.BasePrice,
			Currency:      req.Currency,
			Interval:      req.Interval,
			IntervalCount: 1,
		}
		for i, tier := range req.Tiers {
			plan.Tiers = append(plan.Tiers, plandomain.PriceTier{Position: i, UpTo: tier.UpTo, FlatFee: tier.FlatFee, PerUnitFee: tier.PerUnitFee, IsInfinite: tier.IsInfinite})
		}
		for _, f := range req.Features {
			feature := plandomain.Feature{Code: f.Code, Name: f.Name}
			for i, tier := range f.Tiers {
				feature.Tiers = append(feature.Tiers, plandomain.PriceTier{Position: i, UpTo: tier.UpTo, FlatFee: tier.FlatFee, PerUnitFee: tier.PerUnitFee, IsInfinite: tier.IsInfinite})
			}
			plan.Features = append(plan.Features, feature)
		}
		assert.NoError(t, plandomain.ValidatePlan(plan), req.Code)
	}
}
