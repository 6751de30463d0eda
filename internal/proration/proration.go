// Package proration computes the credit and charge owed when a
// subscription changes plan or quantity before its period ends.
package proration

import (
	"time"

	"github.com/shopspring/decimal"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	"github.com/smallbiznis/billingcore/internal/rating"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

var (
	ErrInvalidPeriod    = errs.New(errs.KindValidation, "invalid_proration_period")
	ErrCurrencyMismatch = errs.New(errs.KindValidation, "proration_currency_mismatch")
)

type Input struct {
	OldPlan     plandomain.Plan
	OldQuantity int64
	NewPlan     plandomain.Plan
	NewQuantity int64
	At          time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
}

// Result amounts are in minor units. Net is Charge minus Credit and is
// negative when the customer is owed money.
type Result struct {
	Fraction decimal.Decimal
	Credit   int64
	Charge   int64
	Net      int64
}

func (r Result) IsZero() bool {
	return r.Credit == 0 && r.Charge == 0 && r.Net == 0
}

// Fraction is the share of [start, end) remaining at at, clamped to [0, 1].
func Fraction(at, start, end time.Time) decimal.Decimal {
	length := end.Sub(start)
	if length <= 0 {
		return decimal.Zero
	}
	remaining := end.Sub(at)
	if remaining <= 0 {
		return decimal.Zero
	}
	if remaining >= length {
		return decimal.NewFromInt(1)
	}
	return decimal.NewFromInt(int64(remaining)).Div(decimal.NewFromInt(int64(length)))
}

// Calculate prices the unused share of the old plan as a credit and the
// remaining share of the new plan as a charge. Each amount is rounded half
// to even exactly once.
func Calculate(in Input) (Result, error) {
	if !in.PeriodEnd.After(in.PeriodStart) {
		return Result{}, ErrInvalidPeriod
	}
	if in.OldPlan.ID == in.NewPlan.ID && in.OldQuantity == in.NewQuantity {
		return Result{Fraction: decimal.Zero}, nil
	}
	if in.OldPlan.Currency != "" && in.NewPlan.Currency != "" && in.OldPlan.Currency != in.NewPlan.Currency {
		return Result{}, ErrCurrencyMismatch
	}

	length := decimal.NewFromInt(int64(in.PeriodEnd.Sub(in.PeriodStart)))
	remaining := in.PeriodEnd.Sub(in.At)
	switch {
	case remaining < 0:
		remaining = 0
	case remaining > in.PeriodEnd.Sub(in.PeriodStart):
		remaining = in.PeriodEnd.Sub(in.PeriodStart)
	}
	rem := decimal.NewFromInt(int64(remaining))

	credit := prorate(rating.PeriodCharge(in.OldPlan, in.OldQuantity), rem, length)
	charge := prorate(rating.PeriodCharge(in.NewPlan, in.NewQuantity), rem, length)

	return Result{
		Fraction: Fraction(in.At, in.PeriodStart, in.PeriodEnd),
		Credit:   credit,
		Charge:   charge,
		Net:      charge - credit,
	}, nil
}

func prorate(amount int64, remaining, length decimal.Decimal) int64 {
	if amount == 0 || remaining.IsZero() {
		return 0
	}
	return decimal.NewFromInt(amount).Mul(remaining).Div(length).RoundBank(0).IntPart()
}
