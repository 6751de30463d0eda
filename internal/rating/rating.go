// Package rating turns quantities into charges using a plan's price
// schedule. Every function here is pure.
package rating

import (
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
)

// TierCharge is the share of a charge attributed to one tier.
type TierCharge struct {
	Position   int
	From       int64
	To         int64 // exclusive upper bound of the covered range; -1 when unbounded
	Units      int64
	FlatFee    int64
	PerUnitFee int64
	Amount     int64
}

// Breakdown walks tiers in order and returns the tiers that cover part of
// quantity. The flat fee is charged once, on the first covered tier that
// carries one.
func Breakdown(tiers []plandomain.PriceTier, quantity int64) []TierCharge {
	if quantity <= 0 || len(tiers) == 0 {
		return nil
	}

	var (
		out         []TierCharge
		lower       int64
		flatCharged bool
	)
	for _, tier := range tiers {
		if lower >= quantity {
			break
		}

		upper := quantity
		to := int64(-1)
		if !tier.IsInfinite {
			to = tier.UpTo
			if tier.UpTo < quantity {
				upper = tier.UpTo
			}
		}
		units := upper - lower
		if units <= 0 {
			continue
		}

		charge := TierCharge{
			Position:   tier.Position,
			From:       lower,
			To:         to,
			Units:      units,
			PerUnitFee: tier.PerUnitFee,
			Amount:     units * tier.PerUnitFee,
		}
		if !flatCharged && tier.FlatFee > 0 {
			charge.FlatFee = tier.FlatFee
			charge.Amount += tier.FlatFee
			flatCharged = true
		}
		out = append(out, charge)

		if tier.IsInfinite {
			break
		}
		lower = tier.UpTo
	}
	return out
}

// PriceForQuantity is non-decreasing in quantity for any tier list that
// passes plandomain.ValidateTiers.
func PriceForQuantity(tiers []plandomain.PriceTier, quantity int64) int64 {
	var total int64
	for _, c := range Breakdown(tiers, quantity) {
		total += c.Amount
	}
	return total
}

// PeriodCharge is the recurring charge of plan for one full period at the
// licensed quantity. Metered features are priced separately.
func PeriodCharge(plan plandomain.Plan, quantity int64) int64 {
	if quantity < 1 {
		quantity = 1
	}
	switch plan.PricingType {
	case plandomain.PricingTypePerUnit:
		return plan.BasePrice * quantity
	case plandomain.PricingTypeTiered:
		return plan.BasePrice + PriceForQuantity(plan.Tiers, quantity)
	case plandomain.PricingTypeFlat, plandomain.PricingTypeUsageBased:
		return plan.BasePrice
	default:
		return plan.BasePrice
	}
}

// FeatureCharge prices metered usage of a single plan feature.
func FeatureCharge(feature plandomain.Feature, usage int64) int64 {
	return PriceForQuantity(feature.Tiers, usage)
}
