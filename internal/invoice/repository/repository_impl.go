package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() invoicedomain.Repository {
	return &repo{}
}

const invoiceColumns = `id, invoice_number, sequence, subscription_id, customer_id, status,
	period_start, period_end, currency, subtotal, tax_amount, tax_inclusive, total,
	paid_amount, credit_carried, payment_reference, due_date, finalized_at, paid_at,
	voided_at, created_at, updated_at`

const lineColumns = `id, invoice_id, position, kind, description, feature_code, quantity,
	unit_price, amount, period_start, period_end, created_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "subscription_id"}, {Name: "period_start"}},
			DoNothing: true,
		}).
		Create(invoice)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) InsertLines(ctx context.Context, db *gorm.DB, lines []invoicedomain.LineItem) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) InsertTaxLines(ctx context.Context, db *gorm.DB, lines []invoicedomain.TaxLine) error {
	if len(lines) == 0 {
		return nil
	}
	return db.WithContext(ctx).Create(&lines).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, tx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`+db.ForUpdate(tx), id)
}

func (r *repo) FindBySubscriptionPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, periodStart time.Time) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+` FROM invoices WHERE subscription_id = ? AND period_start = ?`,
		subscriptionID, periodStart,
	)
}

func (r *repo) FindCovering(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) (*invoicedomain.Invoice, error) {
	return r.findOne(ctx, db,
		`SELECT `+invoiceColumns+`
		 FROM invoices
		 WHERE subscription_id = ? AND status <> ? AND period_start <= ? AND period_end > ?
		 ORDER BY period_start DESC
		 LIMIT 1`,
		subscriptionID, invoicedomain.InvoiceStatusVoid, at, at,
	)
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == 0 {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) HasInvoicedPeriod(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, at time.Time) (bool, error) {
	var count int64
	err := db.WithContext(ctx).Raw(
		`SELECT COUNT(1)
		 FROM invoices
		 WHERE subscription_id = ? AND status <> ? AND period_start <= ? AND period_end > ?`,
		subscriptionID,
		invoicedomain.InvoiceStatusVoid,
		at,
		at,
	).Scan(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *repo) Update(ctx context.Context, db *gorm.DB, invoice *invoicedomain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET invoice_number = ?, sequence = ?, status = ?, paid_amount = ?,
		     payment_reference = ?, due_date = ?, finalized_at = ?, paid_at = ?,
		     voided_at = ?, updated_at = ?
		 WHERE id = ?`,
		invoice.InvoiceNumber,
		invoice.Sequence,
		invoice.Status,
		invoice.PaidAmount,
		invoice.PaymentReference,
		invoice.DueDate,
		invoice.FinalizedAt,
		invoice.PaidAt,
		invoice.VoidedAt,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) NextSequence(ctx context.Context, db *gorm.DB) (int64, error) {
	var next int64
	err := db.WithContext(ctx).Raw(`SELECT COALESCE(MAX(sequence), 0) + 1 FROM invoices`).Scan(&next).Error
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (r *repo) List(ctx context.Context, db *gorm.DB, filter invoicedomain.ListFilter) ([]invoicedomain.Invoice, error) {
	var invoices []invoicedomain.Invoice
	stmt := db.WithContext(ctx).Model(&invoicedomain.Invoice{}).Where("id > ?", filter.AfterID)
	if filter.SubscriptionID != 0 {
		stmt = stmt.Where("subscription_id = ?", filter.SubscriptionID)
	}
	if filter.CustomerID != 0 {
		stmt = stmt.Where("customer_id = ?", filter.CustomerID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if err := stmt.Order("id ASC").Limit(filter.Limit).Find(&invoices).Error; err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) ListLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.LineItem, error) {
	var lines []invoicedomain.LineItem
	err := db.WithContext(ctx).Raw(
		`SELECT `+lineColumns+` FROM invoice_line_items WHERE invoice_id = ? ORDER BY position ASC`,
		invoiceID,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) ListTaxLines(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) ([]invoicedomain.TaxLine, error) {
	var lines []invoicedomain.TaxLine
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, tax_code, tax_name, tax_mode, tax_rate, amount, created_at
		 FROM invoice_tax_lines
		 WHERE invoice_id = ?
		 ORDER BY id ASC`,
		invoiceID,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	return lines, nil
}

func (r *repo) InsertProration(ctx context.Context, db *gorm.DB, proration *invoicedomain.PendingProration) error {
	return db.WithContext(ctx).Create(proration).Error
}

func (r *repo) ListUnappliedProrations(ctx context.Context, db *gorm.DB, subscriptionID snowflake.ID, before time.Time) ([]invoicedomain.PendingProration, error) {
	var prorations []invoicedomain.PendingProration
	err := db.WithContext(ctx).Raw(
		`SELECT id, subscription_id, old_plan_id, old_quantity, new_plan_id, new_quantity,
		        currency, fraction, credit, charge, net, effective_at, applied_invoice_id, created_at
		 FROM pending_prorations
		 WHERE subscription_id = ? AND applied_invoice_id IS NULL AND effective_at < ?
		 ORDER BY effective_at ASC, id ASC`,
		subscriptionID,
		before,
	).Scan(&prorations).Error
	if err != nil {
		return nil, err
	}
	return prorations, nil
}

func (r *repo) MarkProrationsApplied(ctx context.Context, db *gorm.DB, ids []snowflake.ID, invoiceID snowflake.ID) error {
	if len(ids) == 0 {
		return nil
	}
	return db.WithContext(ctx).Exec(
		`UPDATE pending_prorations SET applied_invoice_id = ? WHERE id IN ? AND applied_invoice_id IS NULL`,
		invoiceID,
		ids,
	).Error
}

func (r *repo) ReleaseProrations(ctx context.Context, db *gorm.DB, invoiceID snowflake.ID) error {
	return db.WithContext(ctx).Exec(
		`UPDATE pending_prorations SET applied_invoice_id = NULL WHERE applied_invoice_id = ?`,
		invoiceID,
	).Error
}
