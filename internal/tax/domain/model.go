package domain

import (
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// TaxMode represents how tax is applied to the invoice total.
type TaxMode string

const (
	TaxModeExclusive TaxMode = "EXCLUSIVE" // subtotal + tax
	TaxModeInclusive TaxMode = "INCLUSIVE" // total already includes tax
)

// TaxRate is one row of the rate table. Empty StateCode or CustomerType
// match any value.
type TaxRate struct {
	ID           snowflake.ID    `json:"id" gorm:"primaryKey"`
	Code         string          `json:"code" gorm:"type:text;not null;uniqueIndex"`
	Name         string          `json:"name" gorm:"type:text;not null"`
	CountryCode  string          `json:"country_code" gorm:"type:text;not null;index:idx_tax_rates_region,priority:1"`
	StateCode    string          `json:"state_code" gorm:"type:text;not null;default:'';index:idx_tax_rates_region,priority:2"`
	CustomerType string          `json:"customer_type" gorm:"type:text;not null;default:''"`
	Mode         TaxMode         `json:"mode" gorm:"type:text;not null"`
	Rate         decimal.Decimal `json:"rate" gorm:"type:numeric(9,6);not null"` // fraction, 0.2 for 20%
	IsEnabled    bool            `json:"is_enabled" gorm:"not null;default:true"`
	CreatedAt    time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt    time.Time       `json:"updated_at" gorm:"not null"`
}

func (TaxRate) TableName() string { return "tax_rates" }

func (t *TaxRate) Validate() error {
	if strings.TrimSpace(t.Code) == "" {
		return ErrInvalidTaxCode
	}
	if strings.TrimSpace(t.Name) == "" {
		return ErrInvalidName
	}
	if len(t.CountryCode) != 2 {
		return ErrInvalidCountry
	}
	if t.Mode != TaxModeExclusive && t.Mode != TaxModeInclusive {
		return ErrInvalidTaxMode
	}
	if t.Rate.IsNegative() || t.Rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return ErrInvalidTaxRate
	}
	return nil
}
