package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() usagedomain.Repository {
	return &repo{}
}

const usageColumns = `id, subscription_id, feature_code, quantity, recorded_at, idempotency_key, late, billed_invoice_id, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *usagedomain.UsageRecord) (bool, error) {
	tx := db.WithContext(ctx)
	if record.IdempotencyKey != nil {
		tx = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		})
	}
	result := tx.Create(record)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*usagedomain.UsageRecord, error) {
	var record usagedomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+` FROM usage_records WHERE idempotency_key = ?`,
		key,
	).Scan(&record).Error
	if err != nil {
		return nil, err
	}
	if record.ID == 0 {
		return nil, nil
	}
	return &record, nil
}

func (r *repo) SumQuantity(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, featureCode string, start, end time.Time) (int64, error) {
	var total int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(quantity), 0)
		 FROM usage_records
		 WHERE subscription_id = ?
		   AND feature_code = ?
		   AND recorded_at >= ?
		   AND recorded_at < ?`,
		subscriptionID,
		featureCode,
		start,
		end,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) ListUnbilledInPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, start, end time.Time) ([]usagedomain.UsageRecord, error) {
	var records []usagedomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+`
		 FROM usage_records
		 WHERE subscription_id = ?
		   AND billed_invoice_id IS NULL
		   AND recorded_at >= ?
		   AND recorded_at < ?
		 ORDER BY recorded_at ASC, id ASC`,
		subscriptionID,
		start,
		end,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) ListUnbilled(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, before time.Time) ([]usagedomain.UsageRecord, error) {
	var records []usagedomain.UsageRecord
	err := db.WithContext(ctx).Raw(
		`SELECT `+usageColumns+`
		 FROM usage_records
		 WHERE subscription_id = ?
		   AND billed_invoice_id IS NULL
		   AND recorded_at < ?
		 ORDER BY recorded_at ASC, id ASC`,
		subscriptionID,
		before,
	).Scan(&records).Error
	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *repo) MarkBilled(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE usage_records SET billed_invoice_id = ? WHERE id IN ? AND billed_invoice_id IS NULL`,
		invoiceID,
		ids,
	).Error
}

func (r *repo) ReleaseBilled(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID, periodStart, periodEnd time.Time) error {
	return db.WithContext(ctx).Exec(
		`UPDATE usage_records SET billed_invoice_id = NULL
		 WHERE billed_invoice_id = ? AND (recorded_at < ? OR recorded_at >= ?)`,
		invoiceID,
		periodStart,
		periodEnd,
	).Error
}
