package service

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/internal/rating"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"gorm.io/gorm"
)

// draft collects everything a new invoice consumes so the caller can
// persist it in one go.
type draft struct {
	lines      []invoicedomain.LineItem
	taxLines   []invoicedomain.TaxLine
	tax        taxdomain.TaxResult
	usageIDs   []snowflake.ID
	prorations []snowflake.ID
}

func (s *Service) buildDraft(
	ctx context.Context,
	tx *gorm.DB,
	sub *subscriptiondomain.Subscription,
	plan *plandomain.Plan,
	period invoicedomain.Period,
) (*draft, error) {
	plans := map[snowflake.ID]*plandomain.Plan{plan.ID: plan}
	loadPlan := func(id snowflake.ID) (*plandomain.Plan, error) {
		if p, ok := plans[id]; ok {
			return p, nil
		}
		p, err := s.planSvc.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		plans[id] = p
		return p, nil
	}

	prorations, err := s.repo.ListUnappliedProrations(ctx, tx, sub.ID, period.End)
	if err != nil {
		return nil, err
	}

	d := &draft{}

	// The recurring charge is priced at the plan in effect when the period
	// opened; later changes are settled by the proration lines.
	basePlan, baseQuantity := plan, sub.Quantity
	if len(prorations) > 0 && !prorations[0].EffectiveAt.Before(period.Start) {
		basePlan, err = loadPlan(prorations[0].OldPlanID)
		if err != nil {
			return nil, err
		}
		baseQuantity = prorations[0].OldQuantity
	}
	if line, ok := baseLine(basePlan, baseQuantity, period); ok {
		d.lines = append(d.lines, line)
	}

	// Only the records read here are stamped with this invoice. Anything
	// inserted after the read stays unbilled and is caught up next period.
	records, err := s.usageRepo.ListUnbilledInPeriod(ctx, tx, sub.ID, period.Start, period.End)
	if err != nil {
		return nil, err
	}
	usage := make(map[string]int64, len(plan.Features))
	for _, rec := range records {
		usage[rec.FeatureCode] += rec.Quantity
		d.usageIDs = append(d.usageIDs, rec.ID)
	}

	for _, feature := range plan.Features {
		quantity := usage[feature.Code]
		amount := rating.FeatureCharge(feature, quantity)
		d.lines = append(d.lines, invoicedomain.LineItem{
			Kind:        invoicedomain.LineKindUsage,
			Description: fmt.Sprintf("%s (%d units)", feature.Name, quantity),
			FeatureCode: feature.Code,
			Quantity:    quantity,
			UnitPrice:   unitPrice(amount, quantity),
			Amount:      amount,
			PeriodStart: timePtr(period.Start),
			PeriodEnd:   timePtr(period.End),
		})
	}

	catchUp, catchUpIDs, err := s.catchUpLines(ctx, tx, sub.ID, plan, period)
	if err != nil {
		return nil, err
	}
	d.lines = append(d.lines, catchUp...)
	d.usageIDs = append(d.usageIDs, catchUpIDs...)

	for _, p := range prorations {
		if p.Currency != plan.Currency {
			return nil, invoicedomain.ErrCurrencyMismatch
		}
		oldPlan, err := loadPlan(p.OldPlanID)
		if err != nil {
			return nil, err
		}
		newPlan, err := loadPlan(p.NewPlanID)
		if err != nil {
			return nil, err
		}
		effective := p.EffectiveAt
		if p.Credit != 0 {
			d.lines = append(d.lines, invoicedomain.LineItem{
				Kind:        invoicedomain.LineKindProration,
				Description: fmt.Sprintf("Unused time on %s x%d after %s", oldPlan.Name, p.OldQuantity, effective.Format(time.DateOnly)),
				Quantity:    1,
				UnitPrice:   -p.Credit,
				Amount:      -p.Credit,
				PeriodStart: timePtr(effective),
			})
		}
		if p.Charge != 0 {
			d.lines = append(d.lines, invoicedomain.LineItem{
				Kind:        invoicedomain.LineKindProration,
				Description: fmt.Sprintf("Remaining time on %s x%d after %s", newPlan.Name, p.NewQuantity, effective.Format(time.DateOnly)),
				Quantity:    1,
				UnitPrice:   p.Charge,
				Amount:      p.Charge,
				PeriodStart: timePtr(effective),
			})
		}
		d.prorations = append(d.prorations, p.ID)
	}

	subtotal := lo.SumBy(d.lines, func(l invoicedomain.LineItem) int64 { return l.Amount })
	if subtotal > 0 {
		d.tax, err = s.taxCalc.Calculate(ctx, taxdomain.TaxRequest{
			Amount:       subtotal,
			Currency:     plan.Currency,
			CountryCode:  sub.CountryCode,
			StateCode:    sub.StateCode,
			CustomerType: string(sub.CustomerType),
		})
		if err != nil {
			return nil, err
		}
	}
	return d, nil
}

func baseLine(plan *plandomain.Plan, quantity int64, period invoicedomain.Period) (invoicedomain.LineItem, bool) {
	amount := rating.PeriodCharge(*plan, quantity)
	if amount == 0 && plan.PricingType == plandomain.PricingTypeUsageBased {
		return invoicedomain.LineItem{}, false
	}
	line := invoicedomain.LineItem{
		Kind:        invoicedomain.LineKindBase,
		Description: plan.Name,
		Quantity:    1,
		UnitPrice:   amount,
		Amount:      amount,
		PeriodStart: timePtr(period.Start),
		PeriodEnd:   timePtr(period.End),
	}
	switch plan.PricingType {
	case plandomain.PricingTypePerUnit:
		line.Quantity = max(quantity, 1)
		line.UnitPrice = plan.BasePrice
	case plandomain.PricingTypeTiered:
		line.Description = fmt.Sprintf("%s (%d seats)", plan.Name, max(quantity, 1))
	}
	return line, true
}

type catchUpKey struct {
	featureCode string
	invoiceID   snowflake.ID
}

// catchUpLines prices unbilled usage from earlier periods: records that
// arrived after their period was invoiced or raced its generation. Each
// batch is charged at the margin of the original period's total so tier
// boundaries are respected.
func (s *Service) catchUpLines(
	ctx context.Context,
	tx *gorm.DB,
	subscriptionID snowflake.ID,
	plan *plandomain.Plan,
	period invoicedomain.Period,
) ([]invoicedomain.LineItem, []snowflake.ID, error) {
	records, err := s.usageRepo.ListUnbilled(ctx, tx, subscriptionID, period.Start)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	var (
		order    []catchUpKey
		batches  = map[catchUpKey][]usagedomain.UsageRecord{}
		covering = map[snowflake.ID]*invoicedomain.Invoice{}
		ids      = make([]snowflake.ID, 0, len(records))
	)
	for _, rec := range records {
		ids = append(ids, rec.ID)
		inv, err := s.repo.FindCovering(ctx, tx, subscriptionID, rec.RecordedAt)
		if err != nil {
			return nil, nil, err
		}
		key := catchUpKey{featureCode: rec.FeatureCode}
		if inv != nil {
			key.invoiceID = inv.ID
			covering[inv.ID] = inv
		}
		if _, seen := batches[key]; !seen {
			order = append(order, key)
		}
		batches[key] = append(batches[key], rec)
	}

	lines := make([]invoicedomain.LineItem, 0, len(order))
	for _, key := range order {
		batch := lo.SumBy(batches[key], func(r usagedomain.UsageRecord) int64 { return r.Quantity })
		feature, ok := plan.Feature(key.featureCode)
		name := key.featureCode
		if ok {
			name = feature.Name
		}

		line := invoicedomain.LineItem{
			Kind:        invoicedomain.LineKindCatchUp,
			FeatureCode: key.featureCode,
			Quantity:    batch,
		}
		inv := covering[key.invoiceID]
		switch {
		case !ok:
			line.Description = fmt.Sprintf("Late usage for %s (not in current plan)", name)
		case inv == nil:
			line.Amount = rating.FeatureCharge(feature, batch)
			line.Description = fmt.Sprintf("Late usage for %s", name)
		default:
			total, err := s.usageRepo.SumQuantity(ctx, tx, subscriptionID, key.featureCode, inv.PeriodStart, inv.PeriodEnd)
			if err != nil {
				return nil, nil, err
			}
			line.Amount = rating.FeatureCharge(feature, total) - rating.FeatureCharge(feature, total-batch)
			line.Description = fmt.Sprintf("Late usage for %s, %s to %s", name,
				inv.PeriodStart.Format(time.DateOnly), inv.PeriodEnd.Format(time.DateOnly))
			line.PeriodStart = timePtr(inv.PeriodStart)
			line.PeriodEnd = timePtr(inv.PeriodEnd)
		}
		line.UnitPrice = unitPrice(line.Amount, batch)
		lines = append(lines, line)
	}
	return lines, ids, nil
}

func unitPrice(amount, quantity int64) int64 {
	if quantity <= 0 || amount%quantity != 0 {
		return 0
	}
	return amount / quantity
}

func timePtr(t time.Time) *time.Time {
	return &t
}
