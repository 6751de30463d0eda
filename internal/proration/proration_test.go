package proration

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	periodStart = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)
	periodEnd   = periodStart.AddDate(0, 0, 30)

	planA = plandomain.Plan{ID: 1, PricingType: plandomain.PricingTypeFlat, BasePrice: 1000, Currency: "USD"}
	planB = plandomain.Plan{ID: 2, PricingType: plandomain.PricingTypeFlat, BasePrice: 2000, Currency: "USD"}
)

func TestCalculate_UpgradeAtMidpoint(t *testing.T) {
	res, err := Calculate(Input{
		OldPlan:     planA,
		OldQuantity: 1,
		NewPlan:     planB,
		NewQuantity: 1,
		At:          periodStart.AddDate(0, 0, 15),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	require.NoError(t, err)

	assert.True(t, res.Fraction.Equal(decimal.RequireFromString("0.5")))
	assert.Equal(t, int64(500), res.Credit)
	assert.Equal(t, int64(1000), res.Charge)
	assert.Equal(t, int64(500), res.Net)
}

func TestCalculate_DowngradeIsNegative(t *testing.T) {
	res, err := Calculate(Input{
		OldPlan:     planB,
		OldQuantity: 1,
		NewPlan:     planA,
		NewQuantity: 1,
		At:          periodStart.AddDate(0, 0, 15),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(-500), res.Net)
}

func TestCalculate_IdenticalPlanIsExactlyZero(t *testing.T) {
	odd := plandomain.Plan{ID: 9, PricingType: plandomain.PricingTypePerUnit, BasePrice: 333, Currency: "USD"}
	for _, at := range []time.Time{
		periodStart,
		periodStart.Add(7 * time.Hour),
		periodStart.AddDate(0, 0, 11).Add(13 * time.Second),
		periodEnd,
	} {
		res, err := Calculate(Input{
			OldPlan:     odd,
			OldQuantity: 7,
			NewPlan:     odd,
			NewQuantity: 7,
			At:          at,
			PeriodStart: periodStart,
			PeriodEnd:   periodEnd,
		})
		require.NoError(t, err)
		assert.True(t, res.IsZero())
		assert.True(t, res.Fraction.IsZero())
	}
}

func TestCalculate_QuantityChangeOnSamePlan(t *testing.T) {
	seats := plandomain.Plan{ID: 3, PricingType: plandomain.PricingTypePerUnit, BasePrice: 1000, Currency: "USD"}
	res, err := Calculate(Input{
		OldPlan:     seats,
		OldQuantity: 2,
		NewPlan:     seats,
		NewQuantity: 5,
		At:          periodStart.AddDate(0, 0, 20),
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	})
	require.NoError(t, err)
	// 10 of 30 days remain: credit 2000/3, charge 5000/3.
	assert.Equal(t, int64(667), res.Credit)
	assert.Equal(t, int64(1667), res.Charge)
	assert.Equal(t, int64(1000), res.Net)
}

func TestFraction_Clamped(t *testing.T) {
	assert.True(t, Fraction(periodStart.Add(-time.Hour), periodStart, periodEnd).Equal(decimal.NewFromInt(1)))
	assert.True(t, Fraction(periodEnd.Add(time.Hour), periodStart, periodEnd).IsZero())
	assert.True(t, Fraction(periodStart, periodEnd, periodStart).IsZero())
}

func TestCalculate_RejectsEmptyPeriod(t *testing.T) {
	_, err := Calculate(Input{OldPlan: planA, NewPlan: planB, PeriodStart: periodStart, PeriodEnd: periodStart})
	assert.ErrorIs(t, err, ErrInvalidPeriod)
}
