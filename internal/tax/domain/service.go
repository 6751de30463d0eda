package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/billingcore/pkg/errs"
)

type TaxRequest struct {
	Amount       int64
	Currency     string
	CountryCode  string
	StateCode    string
	CustomerType string
}

type TaxBreakdown struct {
	Code   string          `json:"code"`
	Name   string          `json:"name"`
	Mode   TaxMode         `json:"mode"`
	Rate   decimal.Decimal `json:"rate"`
	Amount int64           `json:"amount"`
}

// TaxResult reports the tax owed on a request. When Inclusive is set the
// amount already contained TaxAmount.
type TaxResult struct {
	TaxAmount int64          `json:"tax_amount"`
	Inclusive bool           `json:"inclusive"`
	Breakdown []TaxBreakdown `json:"breakdown"`
}

// Calculator computes tax for an invoice subtotal.
type Calculator interface {
	Calculate(ctx context.Context, req TaxRequest) (TaxResult, error)
}

type Service interface {
	Create(ctx context.Context, req CreateRequest) (*TaxRate, error)
	List(ctx context.Context, req ListRequest) ([]TaxRate, error)
	Disable(ctx context.Context, id snowflake.ID) (*TaxRate, error)
}

type ListRequest struct {
	CountryCode string `form:"country_code"`
	IsEnabled   *bool  `form:"is_enabled"`
}

type CreateRequest struct {
	Code         string          `json:"code"`
	Name         string          `json:"name"`
	CountryCode  string          `json:"country_code"`
	StateCode    string          `json:"state_code"`
	CustomerType string          `json:"customer_type"`
	Mode         TaxMode         `json:"mode"`
	Rate         decimal.Decimal `json:"rate"`
}

var (
	ErrInvalidName    = errs.New(errs.KindValidation, "invalid_name")
	ErrInvalidCountry = errs.New(errs.KindValidation, "invalid_country")
	ErrInvalidTaxCode = errs.New(errs.KindValidation, "invalid_tax_code")
	ErrInvalidTaxMode = errs.New(errs.KindValidation, "invalid_tax_mode")
	ErrInvalidTaxRate = errs.New(errs.KindValidation, "invalid_tax_rate")
	ErrInvalidAmount  = errs.New(errs.KindValidation, "invalid_amount")
	ErrMixedTaxModes  = errs.New(errs.KindValidation, "mixed_tax_modes")
	ErrDuplicateCode  = errs.New(errs.KindConflict, "tax_code_exists")
	ErrNotFound       = errs.New(errs.KindNotFound, "tax_rate_not_found")
)
