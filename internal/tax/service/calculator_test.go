package service

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingcore/internal/clock"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	"github.com/smallbiznis/billingcore/internal/tax/repository"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func rate(code string, mode taxdomain.TaxMode, value string) taxdomain.TaxRate {
	return taxdomain.TaxRate{Code: code, Name: code, Mode: mode, Rate: decimal.RequireFromString(value)}
}

func TestCompute(t *testing.T) {
	tests := []struct {
		name      string
		amount    int64
		rates     []taxdomain.TaxRate
		want      int64
		inclusive bool
	}{
		{"no rates", 1000, nil, 0, false},
		{"exclusive single", 1000, []taxdomain.TaxRate{rate("VAT", taxdomain.TaxModeExclusive, "0.2")}, 200, false},
		{"exclusive rounds half even", 1250, []taxdomain.TaxRate{rate("GST", taxdomain.TaxModeExclusive, "0.1")}, 125, false},
		{"half even tie goes down", 25, []taxdomain.TaxRate{rate("X", taxdomain.TaxModeExclusive, "0.1")}, 2, false},
		{"stacked state and country", 10000, []taxdomain.TaxRate{
			rate("US_CA", taxdomain.TaxModeExclusive, "0.0725"),
			rate("US_CA_LOCAL", taxdomain.TaxModeExclusive, "0.01"),
		}, 825, false},
		{"inclusive", 1200, []taxdomain.TaxRate{rate("VAT", taxdomain.TaxModeInclusive, "0.2")}, 200, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Compute(tt.amount, tt.rates)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.TaxAmount)
			assert.Equal(t, tt.inclusive, got.Inclusive)
			assert.Len(t, got.Breakdown, len(tt.rates))
		})
	}
}

func TestCompute_RejectsMixedModes(t *testing.T) {
	_, err := Compute(1000, []taxdomain.TaxRate{
		rate("A", taxdomain.TaxModeExclusive, "0.1"),
		rate("B", taxdomain.TaxModeInclusive, "0.1"),
	})
	assert.ErrorIs(t, err, taxdomain.ErrMixedTaxModes)
}

func setupTax(t *testing.T) (taxdomain.Service, taxdomain.Calculator) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&taxdomain.TaxRate{}))

	node, err := snowflake.NewNode(5)
	require.NoError(t, err)

	repo := repository.Provide()
	svc := NewService(ServiceParam{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: node,
		Clock: clock.NewFakeClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)),
		Repo:  repo,
	})
	calc := NewCalculator(CalculatorParam{DB: db, Log: zap.NewNop(), Repo: repo})
	return svc, calc
}

func TestCalculator_MatchesRegionAndCustomerType(t *testing.T) {
	svc, calc := setupTax(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, taxdomain.CreateRequest{Code: "us_ca", Name: "California", CountryCode: "us", StateCode: "ca", Mode: "exclusive", Rate: decimal.RequireFromString("0.0725")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, taxdomain.CreateRequest{Code: "us_ny", Name: "New York", CountryCode: "US", StateCode: "NY", Rate: decimal.RequireFromString("0.04")})
	require.NoError(t, err)
	_, err = svc.Create(ctx, taxdomain.CreateRequest{Code: "de_vat", Name: "VAT", CountryCode: "DE", CustomerType: "individual", Rate: decimal.RequireFromString("0.19")})
	require.NoError(t, err)

	got, err := calc.Calculate(ctx, taxdomain.TaxRequest{Amount: 10000, CountryCode: "US", StateCode: "CA"})
	require.NoError(t, err)
	assert.Equal(t, int64(725), got.TaxAmount)
	require.Len(t, got.Breakdown, 1)
	assert.Equal(t, "US_CA", got.Breakdown[0].Code)

	individual, err := calc.Calculate(ctx, taxdomain.TaxRequest{Amount: 10000, CountryCode: "DE", CustomerType: "INDIVIDUAL"})
	require.NoError(t, err)
	assert.Equal(t, int64(1900), individual.TaxAmount)

	business, err := calc.Calculate(ctx, taxdomain.TaxRequest{Amount: 10000, CountryCode: "DE", CustomerType: "BUSINESS"})
	require.NoError(t, err)
	assert.Zero(t, business.TaxAmount)

	none, err := calc.Calculate(ctx, taxdomain.TaxRequest{Amount: 10000})
	require.NoError(t, err)
	assert.Zero(t, none.TaxAmount)
}

func TestService_CreateValidatesAndDisables(t *testing.T) {
	svc, calc := setupTax(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, taxdomain.CreateRequest{Code: "BAD", Name: "Bad", CountryCode: "US", Rate: decimal.RequireFromString("1.5")})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidTaxRate)

	_, err = svc.Create(ctx, taxdomain.CreateRequest{Code: "BAD", Name: "Bad", CountryCode: "US", Mode: "weird", Rate: decimal.RequireFromString("0.1")})
	assert.ErrorIs(t, err, taxdomain.ErrInvalidTaxMode)

	created, err := svc.Create(ctx, taxdomain.CreateRequest{Code: "SG_GST", Name: "GST", CountryCode: "SG", Rate: decimal.RequireFromString("0.09")})
	require.NoError(t, err)

	_, err = svc.Create(ctx, taxdomain.CreateRequest{Code: "sg_gst", Name: "GST", CountryCode: "SG", Rate: decimal.RequireFromString("0.09")})
	assert.True(t, errs.Is(err, errs.KindConflict))

	disabled, err := svc.Disable(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, disabled.IsEnabled)

	got, err := calc.Calculate(ctx, taxdomain.TaxRequest{Amount: 1000, CountryCode: "SG"})
	require.NoError(t, err)
	assert.Zero(t, got.TaxAmount)

	_, err = svc.Disable(ctx, 42)
	assert.ErrorIs(t, err, taxdomain.ErrNotFound)
}
