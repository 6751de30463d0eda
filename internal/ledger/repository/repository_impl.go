package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	ledgerdomain "github.com/smallbiznis/billingcore/internal/ledger/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() ledgerdomain.Repository {
	return &repo{}
}

const adjustmentColumns = `id, customer_id, currency, amount, type, invoice_id, description, idempotency_key, created_at`

func (r *repo) InsertAdjustment(ctx context.Context, db *gorm.DB, adjustment *ledgerdomain.CreditAdjustment) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(adjustment)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*ledgerdomain.CreditAdjustment, error) {
	var adjustment ledgerdomain.CreditAdjustment
	err := db.WithContext(ctx).Raw(
		`SELECT `+adjustmentColumns+` FROM credit_adjustments WHERE idempotency_key = ?`,
		key,
	).Scan(&adjustment).Error
	if err != nil {
		return nil, err
	}
	if adjustment.ID == 0 {
		return nil, nil
	}
	return &adjustment, nil
}

func (r *repo) ListAdjustments(ctx context.Context, db *gorm.DB, customerID snowflake.ID, afterID int64, limit int) ([]ledgerdomain.CreditAdjustment, error) {
	var adjustments []ledgerdomain.CreditAdjustment
	err := db.WithContext(ctx).Raw(
		`SELECT `+adjustmentColumns+`
		 FROM credit_adjustments
		 WHERE customer_id = ? AND id > ?
		 ORDER BY id ASC
		 LIMIT ?`,
		customerID,
		afterID,
		limit,
	).Scan(&adjustments).Error
	if err != nil {
		return nil, err
	}
	return adjustments, nil
}

func (r *repo) SumAdjustments(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(amount), 0) FROM credit_adjustments WHERE customer_id = ? AND currency = ?`,
		customerID,
		currency,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) EnsureBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string, now time.Time) error {
	return db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&ledgerdomain.CustomerBalance{
			CustomerID: customerID,
			Currency:   currency,
			UpdatedAt:  now,
		}).Error
}

func (r *repo) LockBalance(ctx context.Context, tx *gorm.DB, customerID snowflake.ID, currency string) (int64, error) {
	var balance int64
	err := tx.WithContext(ctx).Raw(
		`SELECT balance FROM customer_balances WHERE customer_id = ? AND currency = ?`+db.ForUpdate(tx),
		customerID,
		currency,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}

func (r *repo) SetBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string, balance int64, now time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE customer_balances SET balance = ?, updated_at = ? WHERE customer_id = ? AND currency = ?`,
		balance,
		now,
		customerID,
		currency,
	).Error
}

func (r *repo) GetBalance(ctx context.Context, db *gorm.DB, customerID snowflake.ID, currency string) (int64, error) {
	var balance int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(MAX(balance), 0) FROM customer_balances WHERE customer_id = ? AND currency = ?`,
		customerID,
		currency,
	).Scan(&balance).Error
	if err != nil {
		return 0, err
	}
	return balance, nil
}
