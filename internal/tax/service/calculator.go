package service

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CalculatorParam struct {
	fx.In

	DB   *gorm.DB
	Log  *zap.Logger
	Repo taxdomain.Repository
}

// RateTableCalculator applies every enabled rate matching the customer's
// region. Each line of the breakdown is rounded half-even to cents once.
type RateTableCalculator struct {
	db   *gorm.DB
	log  *zap.Logger
	repo taxdomain.Repository
}

func NewCalculator(p CalculatorParam) taxdomain.Calculator {
	return &RateTableCalculator{
		db:   p.DB,
		log:  p.Log.Named("tax.calculator"),
		repo: p.Repo,
	}
}

func (c *RateTableCalculator) Calculate(ctx context.Context, req taxdomain.TaxRequest) (taxdomain.TaxResult, error) {
	if req.Amount < 0 {
		return taxdomain.TaxResult{}, taxdomain.ErrInvalidAmount
	}
	country := strings.ToUpper(strings.TrimSpace(req.CountryCode))
	if req.Amount == 0 || country == "" {
		return taxdomain.TaxResult{}, nil
	}

	rates, err := c.repo.ListApplicable(ctx, c.db, country, strings.ToUpper(strings.TrimSpace(req.StateCode)), strings.ToUpper(strings.TrimSpace(req.CustomerType)))
	if err != nil {
		return taxdomain.TaxResult{}, db.Classify(err)
	}
	return Compute(req.Amount, rates)
}

// Compute applies rates to amount. All rates must share one mode.
func Compute(amount int64, rates []taxdomain.TaxRate) (taxdomain.TaxResult, error) {
	if amount <= 0 || len(rates) == 0 {
		return taxdomain.TaxResult{}, nil
	}

	mode := rates[0].Mode
	combined := decimal.Zero
	for _, rate := range rates {
		if rate.Mode != mode {
			return taxdomain.TaxResult{}, taxdomain.ErrMixedTaxModes
		}
		combined = combined.Add(rate.Rate)
	}

	base := decimal.NewFromInt(amount)
	divisor := decimal.NewFromInt(1)
	if mode == taxdomain.TaxModeInclusive {
		divisor = divisor.Add(combined)
	}

	result := taxdomain.TaxResult{
		Inclusive: mode == taxdomain.TaxModeInclusive,
		Breakdown: make([]taxdomain.TaxBreakdown, 0, len(rates)),
	}
	for _, rate := range rates {
		tax := base.Mul(rate.Rate).Div(divisor).RoundBank(0).IntPart()
		result.TaxAmount += tax
		result.Breakdown = append(result.Breakdown, taxdomain.TaxBreakdown{
			Code:   rate.Code,
			Name:   rate.Name,
			Mode:   rate.Mode,
			Rate:   rate.Rate,
			Amount: tax,
		})
	}
	return result, nil
}
