package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const attemptColumns = `id, invoice_id, subscription_id, attempt_number, status, amount, currency,
	scheduled_at, executed_at, payment_method_ref, transaction_id, last_error, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, attempt *domain.PaymentAttempt) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "invoice_id"}, {Name: "attempt_number"}},
			DoNothing: true,
		}).
		Create(attempt)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.PaymentAttempt, error) {
	return r.find(ctx, db, id, "")
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.PaymentAttempt, error) {
	return r.find(ctx, tx, id, db.ForUpdate(tx))
}

func (r *repo) find(ctx context.Context, conn *gorm.DB, id snowflake.ID, suffix string) (*domain.PaymentAttempt, error) {
	var attempt domain.PaymentAttempt
	err := conn.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+`
		 FROM payment_attempts
		 WHERE id = ?
		 LIMIT 1`+suffix,
		id,
	).Scan(&attempt).Error
	if err != nil {
		return nil, err
	}
	if attempt.ID == 0 {
		return nil, nil
	}
	return &attempt, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, attempt *domain.PaymentAttempt) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET status = ?,
		     amount = ?,
		     executed_at = ?,
		     payment_method_ref = ?,
		     transaction_id = ?,
		     last_error = ?,
		     updated_at = ?
		 WHERE id = ?`,
		attempt.Status,
		attempt.Amount,
		attempt.ExecutedAt,
		attempt.PaymentMethodRef,
		attempt.TransactionID,
		attempt.LastError,
		attempt.UpdatedAt,
		attempt.ID,
	).Error
}

func (r *repo) ListByInvoice(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]domain.PaymentAttempt, error) {
	var attempts []domain.PaymentAttempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+`
		 FROM payment_attempts
		 WHERE invoice_id = ?
		 ORDER BY attempt_number ASC`,
		invoiceID,
	).Scan(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repo) ListScheduled(ctx context.Context, db *gorm.DB, limit int) ([]domain.PaymentAttempt, error) {
	if limit <= 0 {
		limit = 500
	}
	var attempts []domain.PaymentAttempt
	err := db.WithContext(ctx).Raw(
		`SELECT `+attemptColumns+`
		 FROM payment_attempts
		 WHERE status = ?
		 ORDER BY scheduled_at ASC, id ASC
		 LIMIT ?`,
		domain.AttemptStatusScheduled,
		limit,
	).Scan(&attempts).Error
	if err != nil {
		return nil, err
	}
	return attempts, nil
}

func (r *repo) SetScheduledPaymentMethod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, ref string) (int64, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE payment_attempts
		 SET payment_method_ref = ?
		 WHERE subscription_id = ? AND status = ?`,
		ref,
		subscriptionID,
		domain.AttemptStatusScheduled,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
