package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/invoice/format"
	"github.com/smallbiznis/billingcore/internal/invoice/render"
	ledgerdomain "github.com/smallbiznis/billingcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	plandomain "github.com/smallbiznis/billingcore/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	taxdomain "github.com/smallbiznis/billingcore/internal/tax/domain"
	usagedomain "github.com/smallbiznis/billingcore/internal/usage/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            invoicedomain.Repository
	UsageRepo       usagedomain.Repository
	SubscriptionSvc subscriptiondomain.Service
	PlanSvc         plandomain.Service
	TaxCalc         taxdomain.Calculator
	Ledger          ledgerdomain.Service
	Publisher       events.Publisher
	Renderer        render.Renderer
	BillingConfig   *config.BillingConfigHolder
	Metrics         *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID           *snowflake.Node
	clock           clock.Clock
	repo            invoicedomain.Repository
	usageRepo       usagedomain.Repository
	subscriptionSvc subscriptiondomain.Service
	planSvc         plandomain.Service
	taxCalc         taxdomain.Calculator
	ledger          ledgerdomain.Service
	publisher       events.Publisher
	renderer        render.Renderer
	billingConfig   *config.BillingConfigHolder
	metrics         *obsmetrics.Metrics
}

func NewService(p ServiceParam) invoicedomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("invoice.service"),

		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		usageRepo:       p.UsageRepo,
		subscriptionSvc: p.SubscriptionSvc,
		planSvc:         p.PlanSvc,
		taxCalc:         p.TaxCalc,
		ledger:          p.Ledger,
		publisher:       p.Publisher,
		renderer:        p.Renderer,
		billingConfig:   p.BillingConfig,
		metrics:         p.Metrics,
	}
}

func (s *Service) GenerateFromUsage(ctx context.Context, subscriptionID snowflake.ID, period invoicedomain.Period) (*invoicedomain.Invoice, error) {
	if subscriptionID == 0 {
		return nil, invoicedomain.ErrInvalidSubscription
	}
	period = invoicedomain.Period{Start: period.Start.UTC(), End: period.End.UTC()}
	if !period.Valid() {
		return nil, invoicedomain.ErrInvalidPeriod
	}

	existing, err := s.repo.FindBySubscriptionPeriod(ctx, s.db, subscriptionID, period.Start)
	if err != nil {
		return nil, db.Classify(err)
	}
	if existing != nil {
		return s.withLines(ctx, existing)
	}

	sub, err := s.subscriptionSvc.GetByID(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planSvc.Get(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	var (
		invoice *invoicedomain.Invoice
		created bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		found, err := s.repo.FindBySubscriptionPeriod(ctx, tx, subscriptionID, period.Start)
		if err != nil {
			return err
		}
		if found != nil {
			invoice = found
			return nil
		}

		d, err := s.buildDraft(ctx, tx, sub, plan, period)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		candidate := &invoicedomain.Invoice{
			ID:             s.genID.Generate(),
			SubscriptionID: sub.ID,
			CustomerID:     sub.CustomerID,
			Status:         invoicedomain.InvoiceStatusDraft,
			PeriodStart:    period.Start,
			PeriodEnd:      period.End,
			Currency:       plan.Currency,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		candidate.Subtotal = lo.SumBy(d.lines, func(l invoicedomain.LineItem) int64 { return l.Amount })
		candidate.TaxAmount = d.tax.TaxAmount
		candidate.TaxInclusive = d.tax.Inclusive
		candidate.Total = candidate.Subtotal
		if !d.tax.Inclusive {
			candidate.Total += d.tax.TaxAmount
		}
		if candidate.Total < 0 {
			candidate.CreditCarried = -candidate.Total
			candidate.Total = 0
		}

		inserted, err := s.repo.Insert(ctx, tx, candidate)
		if err != nil {
			return err
		}
		if !inserted {
			invoice, err = s.repo.FindBySubscriptionPeriod(ctx, tx, subscriptionID, period.Start)
			return err
		}

		for i := range d.lines {
			d.lines[i].ID = s.genID.Generate()
			d.lines[i].InvoiceID = candidate.ID
			d.lines[i].Position = i + 1
			d.lines[i].CreatedAt = now
		}
		for _, b := range d.tax.Breakdown {
			d.taxLines = append(d.taxLines, invoicedomain.TaxLine{
				ID:        s.genID.Generate(),
				InvoiceID: candidate.ID,
				TaxCode:   b.Code,
				TaxName:   b.Name,
				TaxMode:   string(b.Mode),
				TaxRate:   b.Rate,
				Amount:    b.Amount,
				CreatedAt: now,
			})
		}
		if err := s.repo.InsertLines(ctx, tx, d.lines); err != nil {
			return err
		}
		if err := s.repo.InsertTaxLines(ctx, tx, d.taxLines); err != nil {
			return err
		}
		if err := s.usageRepo.MarkBilled(ctx, tx, d.usageIDs, candidate.ID); err != nil {
			return err
		}
		if err := s.repo.MarkProrationsApplied(ctx, tx, d.prorations, candidate.ID); err != nil {
			return err
		}

		candidate.Lines = d.lines
		candidate.TaxLines = d.taxLines
		invoice = candidate
		created = true
		return nil
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	if !created {
		return s.withLines(ctx, invoice)
	}

	s.metrics.RecordInvoiceTransition(ctx, "", string(invoicedomain.InvoiceStatusDraft))
	s.log.Info("invoice generated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("subscription_id", invoice.SubscriptionID.String()),
		zap.Int("lines", len(invoice.Lines)),
		zap.Int64("total", invoice.Total),
	)
	s.publish(ctx, events.New(events.TypeInvoiceCreated, invoice.CreatedAt, invoiceData(invoice, nil)))
	return invoice, nil
}

func (s *Service) Finalize(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	var evs []events.Event
	invoice, err := s.mutate(ctx, id, func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (bool, error) {
		if invoice.Status != invoicedomain.InvoiceStatusDraft {
			return false, nil
		}

		seq, err := s.repo.NextSequence(ctx, tx)
		if err != nil {
			return false, err
		}
		number, err := format.InvoiceNumber(format.DefaultInvoiceNumberTemplate, now, seq)
		if err != nil {
			return false, err
		}
		due := now.AddDate(0, 0, s.billingConfig.Get().InvoiceDueDays)

		invoice.Sequence = seq
		invoice.InvoiceNumber = &number
		invoice.Status = invoicedomain.InvoiceStatusPending
		invoice.FinalizedAt = &now
		invoice.DueDate = &due
		evs = append(evs, events.New(events.TypeInvoiceFinalized, now, invoiceData(invoice, map[string]any{
			"previous_status": string(invoicedomain.InvoiceStatusDraft),
		})))

		if invoice.CreditCarried > 0 {
			if _, err := s.ledger.IssueCreditTx(ctx, tx, ledgerdomain.AdjustRequest{
				CustomerID:     invoice.CustomerID,
				Currency:       invoice.Currency,
				Amount:         invoice.CreditCarried,
				Description:    "credit from invoice " + number,
				IdempotencyKey: "invoice:" + invoice.ID.String() + ":carry",
			}); err != nil {
				return false, err
			}
		}
		if invoice.Total == 0 {
			invoice.Status = invoicedomain.InvoiceStatusPaid
			invoice.PaidAt = &now
			evs = append(evs, events.New(events.TypeInvoicePaid, now, invoiceData(invoice, nil)))
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evs...)
	return invoice, nil
}

// ApplyCredit pays down the invoice from the customer's credit balance.
// The invoice row and the balance row stay locked for the whole operation.
func (s *Service) ApplyCredit(ctx context.Context, id snowflake.ID, amount int64) (*invoicedomain.Invoice, error) {
	if amount <= 0 {
		return nil, invoicedomain.ErrInvalidAmount
	}

	var evs []events.Event
	invoice, err := s.mutate(ctx, id, func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (bool, error) {
		if !invoice.Status.CreditEligible() {
			return false, invoicedomain.ErrInvoiceNotEligible
		}

		// The balance check runs first; rejecting the amount afterwards
		// rolls the debit back with the transaction.
		adjustment, err := s.ledger.ApplyToInvoiceTx(ctx, tx, ledgerdomain.ApplyToInvoiceRequest{
			CustomerID: invoice.CustomerID,
			Currency:   invoice.Currency,
			InvoiceID:  invoice.ID,
			Amount:     amount,
			Key:        fmt.Sprintf("invoice:%s:credit:%d", invoice.ID, invoice.PaidAmount),
		})
		if err != nil {
			return false, err
		}
		if amount > invoice.AmountDue() {
			return false, invoicedomain.ErrInvalidAmount
		}

		evs = append(evs, events.New(events.TypeCreditApplied, now, map[string]any{
			"adjustment_id": adjustment.ID.String(),
			"invoice_id":    invoice.ID.String(),
			"customer_id":   invoice.CustomerID.String(),
			"amount":        amount,
			"currency":      invoice.Currency,
		}))
		evs = append(evs, s.applyPayment(invoice, amount, now)...)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evs...)
	return invoice, nil
}

func (s *Service) RecordPayment(ctx context.Context, id snowflake.ID, amount int64, transactionID string) (*invoicedomain.Invoice, error) {
	if amount <= 0 {
		return nil, invoicedomain.ErrInvalidAmount
	}
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, invoicedomain.ErrInvalidTransactionID
	}

	var evs []events.Event
	invoice, err := s.mutate(ctx, id, func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (bool, error) {
		if invoice.PaymentReference != nil && *invoice.PaymentReference == transactionID {
			return false, nil
		}
		if !invoice.Status.Payable() {
			return false, invoicedomain.ErrInvoiceNotEligible
		}
		if amount > invoice.AmountDue() {
			return false, invoicedomain.ErrInvalidAmount
		}
		invoice.PaymentReference = &transactionID
		evs = s.applyPayment(invoice, amount, now)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evs...)
	return invoice, nil
}

func (s *Service) applyPayment(invoice *invoicedomain.Invoice, amount int64, now time.Time) []events.Event {
	previous := invoice.Status
	invoice.PaidAmount += amount
	if invoice.AmountDue() == 0 {
		invoice.Status = invoicedomain.InvoiceStatusPaid
		invoice.PaidAt = &now
		return []events.Event{events.New(events.TypeInvoicePaid, now, invoiceData(invoice, map[string]any{
			"previous_status": string(previous),
		}))}
	}
	invoice.Status = invoicedomain.InvoiceStatusPartiallyPaid
	return []events.Event{events.New(events.TypeInvoicePartiallyPaid, now, invoiceData(invoice, nil))}
}

func (s *Service) MarkFailed(ctx context.Context, id snowflake.ID, reason string) (*invoicedomain.Invoice, error) {
	var evs []events.Event
	invoice, err := s.mutate(ctx, id, func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (bool, error) {
		if invoice.Status == invoicedomain.InvoiceStatusFailed {
			return false, nil
		}
		if !invoicedomain.CanTransition(invoice.Status, invoicedomain.InvoiceStatusFailed) {
			return false, invoicedomain.ErrInvalidTransition
		}
		extra := map[string]any{"previous_status": string(invoice.Status)}
		if reason = strings.TrimSpace(reason); reason != "" {
			extra["reason"] = reason
		}
		invoice.Status = invoicedomain.InvoiceStatusFailed
		evs = append(evs, events.New(events.TypeInvoicePaymentFailed, now, invoiceData(invoice, extra)))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evs...)
	return invoice, nil
}

// Void cancels a draft or unpaid pending invoice. Catch-up usage and
// prorations it consumed go back to the pool for the next invoice.
func (s *Service) Void(ctx context.Context, id snowflake.ID, reason string) (*invoicedomain.Invoice, error) {
	var evs []events.Event
	invoice, err := s.mutate(ctx, id, func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (bool, error) {
		if invoice.Status == invoicedomain.InvoiceStatusVoid {
			return false, nil
		}
		if !invoicedomain.CanTransition(invoice.Status, invoicedomain.InvoiceStatusVoid) || invoice.PaidAmount > 0 {
			return false, invoicedomain.ErrInvalidTransition
		}
		if err := s.usageRepo.ReleaseBilled(ctx, tx, invoice.ID, invoice.PeriodStart, invoice.PeriodEnd); err != nil {
			return false, err
		}
		if err := s.repo.ReleaseProrations(ctx, tx, invoice.ID); err != nil {
			return false, err
		}

		extra := map[string]any{"previous_status": string(invoice.Status)}
		if reason = strings.TrimSpace(reason); reason != "" {
			extra["reason"] = reason
		}
		invoice.Status = invoicedomain.InvoiceStatusVoid
		invoice.VoidedAt = &now
		evs = append(evs, events.New(events.TypeInvoiceVoided, now, invoiceData(invoice, extra)))
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	s.publish(ctx, evs...)
	return invoice, nil
}

type mutation func(tx *gorm.DB, invoice *invoicedomain.Invoice, now time.Time) (bool, error)

// mutate runs fn against the locked invoice and persists it when fn
// reports a change.
func (s *Service) mutate(ctx context.Context, id snowflake.ID, fn mutation) (*invoicedomain.Invoice, error) {
	if id == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}

	var (
		invoice  *invoicedomain.Invoice
		previous invoicedomain.InvoiceStatus
		changed  bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.repo.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if invoice == nil {
			return invoicedomain.ErrInvoiceNotFound
		}
		previous = invoice.Status

		now := s.clock.Now()
		changed, err = fn(tx, invoice, now)
		if err != nil || !changed {
			return err
		}
		invoice.UpdatedAt = now
		return s.repo.Update(ctx, tx, invoice)
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	if changed && previous != invoice.Status {
		s.metrics.RecordInvoiceTransition(ctx, string(previous), string(invoice.Status))
		s.log.Info("invoice status changed",
			zap.String("invoice_id", invoice.ID.String()),
			zap.String("from", string(previous)),
			zap.String("to", string(invoice.Status)),
		)
	}
	return s.withLines(ctx, invoice)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	if id == 0 {
		return nil, invoicedomain.ErrInvalidInvoiceID
	}
	invoice, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, db.Classify(err)
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return s.withLines(ctx, invoice)
}

func (s *Service) withLines(ctx context.Context, invoice *invoicedomain.Invoice) (*invoicedomain.Invoice, error) {
	lines, err := s.repo.ListLines(ctx, s.db, invoice.ID)
	if err != nil {
		return nil, db.Classify(err)
	}
	taxLines, err := s.repo.ListTaxLines(ctx, s.db, invoice.ID)
	if err != nil {
		return nil, db.Classify(err)
	}
	invoice.Lines = lines
	invoice.TaxLines = taxLines
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoiceRequest) (invoicedomain.ListInvoiceResponse, error) {
	filter := invoicedomain.ListFilter{
		SubscriptionID: req.SubscriptionID,
		CustomerID:     req.CustomerID,
		AfterID:        req.AfterID(),
		Limit:          req.Limit() + 1,
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}

	rows, err := s.repo.List(ctx, s.db, filter)
	if err != nil {
		return invoicedomain.ListInvoiceResponse{}, db.Classify(err)
	}

	items := make([]*invoicedomain.Invoice, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Limit(), func(inv *invoicedomain.Invoice) string {
		return inv.ID.String()
	})

	resp := invoicedomain.ListInvoiceResponse{
		PageInfo: *pageInfo,
		Invoices: make([]invoicedomain.Invoice, 0, len(items)),
	}
	for _, item := range items {
		resp.Invoices = append(resp.Invoices, *item)
	}
	return resp, nil
}

func (s *Service) RenderHTML(ctx context.Context, id snowflake.ID) ([]byte, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.renderer.RenderHTML(*invoice)
}

func (s *Service) RecordProrationTx(ctx context.Context, tx *gorm.DB, proration *invoicedomain.PendingProration) error {
	if proration.SubscriptionID == 0 {
		return invoicedomain.ErrInvalidSubscription
	}
	if proration.ID == 0 {
		proration.ID = s.genID.Generate()
	}
	if proration.CreatedAt.IsZero() {
		proration.CreatedAt = s.clock.Now()
	}
	return s.repo.InsertProration(ctx, tx, proration)
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if s.publisher == nil || len(evs) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.Warn("publish invoice events failed", zap.Error(err))
	}
}

func invoiceData(invoice *invoicedomain.Invoice, extra map[string]any) map[string]any {
	data := map[string]any{
		"invoice_id":      invoice.ID.String(),
		"subscription_id": invoice.SubscriptionID.String(),
		"customer_id":     invoice.CustomerID.String(),
		"status":          string(invoice.Status),
		"currency":        invoice.Currency,
		"total":           invoice.Total,
		"paid_amount":     invoice.PaidAmount,
		"amount_due":      invoice.AmountDue(),
		"period_start":    invoice.PeriodStart.Format(time.RFC3339),
		"period_end":      invoice.PeriodEnd.Format(time.RFC3339),
	}
	if invoice.InvoiceNumber != nil {
		data["invoice_number"] = *invoice.InvoiceNumber
	}
	for key, value := range extra {
		data[key] = value
	}
	return data
}
