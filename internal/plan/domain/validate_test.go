package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateTiers(t *testing.T) {
	tests := []struct {
		name    string
		tiers   []PriceTier
		wantErr bool
	}{
		{
			name: "valid graduated tiers",
			tiers: []PriceTier{
				{UpTo: 100, PerUnitFee: 1},
				{UpTo: 500, PerUnitFee: 2},
				{IsInfinite: true, PerUnitFee: 3},
			},
		},
		{name: "single infinite tier", tiers: []PriceTier{{IsInfinite: true, PerUnitFee: 5}}},
		{name: "empty", wantErr: true},
		{
			name:    "missing infinite tier",
			tiers:   []PriceTier{{UpTo: 100, PerUnitFee: 1}},
			wantErr: true,
		},
		{
			name: "infinite tier not last",
			tiers: []PriceTier{
				{IsInfinite: true},
				{UpTo: 100},
			},
			wantErr: true,
		},
		{
			name: "bounds not increasing",
			tiers: []PriceTier{
				{UpTo: 100},
				{UpTo: 100},
				{IsInfinite: true},
			},
			wantErr: true,
		},
		{
			name: "negative fee",
			tiers: []PriceTier{
				{UpTo: 10, PerUnitFee: -1},
				{IsInfinite: true},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTiers(tt.tiers)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTiers)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestValidatePlan(t *testing.T) {
	base := Plan{
		Name:          "Starter",
		PricingType:   PricingTypeFlat,
		BasePrice:     1000,
		Currency:      "USD",
		Interval:      IntervalMonth,
		IntervalCount: 1,
	}
	assert.NoError(t, ValidatePlan(base))

	lower := base
	lower.Currency = "usd"
	assert.ErrorIs(t, ValidatePlan(lower), ErrInvalidCurrency)

	usage := base
	usage.PricingType = PricingTypeUsageBased
	assert.ErrorIs(t, ValidatePlan(usage), ErrMissingFeatures)

	usage.Features = []Feature{
		{Code: "api_calls", Tiers: []PriceTier{{IsInfinite: true, PerUnitFee: 1}}},
		{Code: "api_calls", Tiers: []PriceTier{{IsInfinite: true, PerUnitFee: 1}}},
	}
	assert.ErrorIs(t, ValidatePlan(usage), ErrInvalidFeature)

	flatWithTiers := base
	flatWithTiers.Tiers = []PriceTier{{IsInfinite: true}}
	assert.ErrorIs(t, ValidatePlan(flatWithTiers), ErrInvalidTiers)
}
