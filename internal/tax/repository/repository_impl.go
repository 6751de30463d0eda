package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	"github.com/smallbiznis/billingcore/pkg/db/option"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() taxdomain.Repository {
	return &repo{}
}

const rateColumns = `id, code, name, country_code, state_code, customer_type, mode, rate, is_enabled, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, rate *taxdomain.TaxRate) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO tax_rates (`+rateColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rate.ID,
		rate.Code,
		rate.Name,
		rate.CountryCode,
		rate.StateCode,
		rate.CustomerType,
		rate.Mode,
		rate.Rate,
		rate.IsEnabled,
		rate.CreatedAt,
		rate.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*taxdomain.TaxRate, error) {
	return r.findOne(ctx, db, `id = ?`, id)
}

func (r *repo) FindByCode(ctx context.Context, db *gorm.DB, code string) (*taxdomain.TaxRate, error) {
	return r.findOne(ctx, db, `code = ?`, code)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, where string, arg any) (*taxdomain.TaxRate, error) {
	var rate taxdomain.TaxRate
	err := db.WithContext(ctx).Raw(
		`SELECT `+rateColumns+` FROM tax_rates WHERE `+where,
		arg,
	).Scan(&rate).Error
	if err != nil {
		return nil, err
	}
	if rate.ID == 0 {
		return nil, nil
	}
	return &rate, nil
}

func (r *repo) ListApplicable(ctx context.Context, db *gorm.DB, country, state, customerType string) ([]taxdomain.TaxRate, error) {
	var rates []taxdomain.TaxRate
	err := db.WithContext(ctx).Raw(
		`SELECT `+rateColumns+`
		 FROM tax_rates
		 WHERE is_enabled = ?
		   AND country_code = ?
		   AND (state_code = '' OR state_code = ?)
		   AND (customer_type = '' OR customer_type = ?)
		 ORDER BY state_code ASC, id ASC`,
		true,
		country,
		state,
		customerType,
	).Scan(&rates).Error
	if err != nil {
		return nil, err
	}
	return rates, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter taxdomain.ListRequest) ([]taxdomain.TaxRate, error) {
	var rates []taxdomain.TaxRate
	stmt := db.WithContext(ctx).Model(&taxdomain.TaxRate{})
	if filter.CountryCode != "" {
		stmt = option.WithWhere("country_code = ?", filter.CountryCode).Apply(stmt)
	}
	if filter.IsEnabled != nil {
		stmt = option.WithWhere("is_enabled = ?", *filter.IsEnabled).Apply(stmt)
	}
	stmt = option.WithOrder("id", false).Apply(stmt)

	if err := stmt.Find(&rates).Error; err != nil {
		return nil, err
	}
	return rates, nil
}

func (r *repo) SetEnabled(ctx context.Context, db *gorm.DB, id snowflake.ID, enabled bool, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE tax_rates SET is_enabled = ?, updated_at = ? WHERE id = ?`,
		enabled,
		now,
		id,
	).Error
}
