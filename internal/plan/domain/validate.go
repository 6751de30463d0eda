package domain

import (
	"fmt"
	"strings"
)

// ValidateTiers checks that tiers are contiguous, strictly increasing by
// UpTo and end with exactly one infinite tier.
func ValidateTiers(tiers []PriceTier) error {
	if len(tiers) == 0 {
		return fmt.Errorf("%w: at least one tier is required", ErrInvalidTiers)
	}

	var prev int64
	for i, tier := range tiers {
		last := i == len(tiers)-1
		if tier.FlatFee < 0 || tier.PerUnitFee < 0 {
			return fmt.Errorf("%w: tier %d has a negative fee", ErrInvalidTiers, i)
		}
		if tier.IsInfinite {
			if !last {
				return fmt.Errorf("%w: only the last tier may be infinite", ErrInvalidTiers)
			}
			continue
		}
		if last {
			return fmt.Errorf("%w: the last tier must be infinite", ErrInvalidTiers)
		}
		if tier.UpTo <= prev {
			return fmt.Errorf("%w: tier %d up_to must exceed %d", ErrInvalidTiers, i, prev)
		}
		prev = tier.UpTo
	}
	return nil
}

func ValidatePlan(p Plan) error {
	if strings.TrimSpace(p.Name) == "" {
		return ErrInvalidName
	}
	if len(p.Currency) != 3 || strings.ToUpper(p.Currency) != p.Currency {
		return ErrInvalidCurrency
	}
	if p.BasePrice < 0 {
		return ErrInvalidBasePrice
	}
	switch p.Interval {
	case IntervalMonth, IntervalYear:
	default:
		return ErrInvalidInterval
	}
	if p.IntervalCount <= 0 {
		return ErrInvalidInterval
	}

	switch p.PricingType {
	case PricingTypeFlat, PricingTypePerUnit:
		if len(p.Tiers) > 0 {
			return fmt.Errorf("%w: %s plans do not take tiers", ErrInvalidTiers, p.PricingType)
		}
	case PricingTypeTiered:
		if err := ValidateTiers(p.Tiers); err != nil {
			return err
		}
	case PricingTypeUsageBased:
		if len(p.Features) == 0 {
			return ErrMissingFeatures
		}
	default:
		return ErrInvalidPricingType
	}

	seen := make(map[string]struct{}, len(p.Features))
	for _, f := range p.Features {
		code := strings.TrimSpace(f.Code)
		if code == "" {
			return ErrInvalidFeature
		}
		if _, dup := seen[code]; dup {
			return fmt.Errorf("%w: duplicate feature %q", ErrInvalidFeature, code)
		}
		seen[code] = struct{}{}
		if err := ValidateTiers(f.Tiers); err != nil {
			return fmt.Errorf("feature %q: %w", code, err)
		}
	}
	return nil
}
