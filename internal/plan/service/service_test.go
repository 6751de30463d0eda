package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/billingcore/internal/clock"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/internal/plan/repository"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) plandomain.Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&plandomain.Plan{}, &plandomain.PriceTier{}, &plandomain.Feature{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return New(Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repository.Provide(),
	})
}

func TestCreateTieredPlan(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, plandomain.CreateRequest{
		Name:        "Growth Seats",
		PricingType: "tiered",
		Currency:    "usd",
		Interval:    plandomain.IntervalMonth,
		Tiers: []plandomain.TierInput{
			{UpTo: 100, PerUnitFee: 1},
			{UpTo: 500, PerUnitFee: 2},
			{IsInfinite: true, PerUnitFee: 3},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "growth-seats", created.Code)
	assert.Equal(t, "USD", created.Currency)
	assert.Equal(t, plandomain.PricingTypeTiered, created.PricingType)
	assert.Equal(t, 1, created.IntervalCount)

	loaded, err := svc.Get(ctx, created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Tiers, 3)
	assert.Equal(t, int64(100), loaded.Tiers[0].UpTo)
	assert.Equal(t, int64(500), loaded.Tiers[1].UpTo)
	assert.True(t, loaded.Tiers[2].IsInfinite)
	assert.Empty(t, loaded.Features)
}

func TestCreateUsagePlanKeepsFeatureOrder(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	created, err := svc.Create(ctx, plandomain.CreateRequest{
		Code:        "metered",
		Name:        "Metered",
		PricingType: plandomain.PricingTypeUsageBased,
		BasePrice:   2000,
		Currency:    "EUR",
		Interval:    plandomain.IntervalMonth,
		Features: []plandomain.FeatureInput{
			{Code: "storage_gb", Name: "Storage", Tiers: []plandomain.TierInput{{IsInfinite: true, PerUnitFee: 10}}},
			{Code: "api_calls", Name: "API calls", Tiers: []plandomain.TierInput{{UpTo: 1000}, {IsInfinite: true, PerUnitFee: 1}}},
		},
	})
	require.NoError(t, err)

	loaded, err := svc.GetByCode(ctx, created.Code)
	require.NoError(t, err)
	require.Len(t, loaded.Features, 2)
	assert.Equal(t, "storage-gb", loaded.Features[0].Code)
	assert.Equal(t, "api-calls", loaded.Features[1].Code)
	assert.Len(t, loaded.Features[1].Tiers, 2)
	assert.Empty(t, loaded.Tiers)
}

func TestCreateRejectsDuplicateCode(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	req := plandomain.CreateRequest{
		Code:        "basic",
		Name:        "Basic",
		PricingType: plandomain.PricingTypeFlat,
		BasePrice:   500,
		Currency:    "USD",
		Interval:    plandomain.IntervalMonth,
	}
	_, err := svc.Create(ctx, req)
	require.NoError(t, err)

	_, err = svc.Create(ctx, req)
	assert.ErrorIs(t, err, plandomain.ErrDuplicateCode)
	assert.Equal(t, errs.KindConflict, errs.KindOf(err))
}

func TestGetUnknownPlan(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.Get(context.Background(), 42)
	assert.ErrorIs(t, err, plandomain.ErrNotFound)
}
