package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/events"
	ledgerdomain "github.com/smallbiznis/billingcore/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ServiceParam struct {
	fx.In

	DB        *gorm.DB
	Log       *zap.Logger
	GenID     *snowflake.Node
	Clock     clock.Clock
	Repo      ledgerdomain.Repository
	Publisher events.Publisher
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db        *gorm.DB
	log       *zap.Logger
	genID     *snowflake.Node
	clock     clock.Clock
	repo      ledgerdomain.Repository
	publisher events.Publisher
	metrics   *obsmetrics.Metrics
}

func NewService(p ServiceParam) ledgerdomain.Service {
	return &Service{
		db:        p.DB,
		log:       p.Log.Named("ledger.service"),
		genID:     p.GenID,
		clock:     p.Clock,
		repo:      p.Repo,
		publisher: p.Publisher,
		metrics:   p.Metrics,
	}
}

func (s *Service) IssueCredit(ctx context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.CreditAdjustment, error) {
	adjustment, inserted, err := s.adjust(ctx, req, ledgerdomain.AdjustmentTypeCredit, 1)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.publish(ctx, events.New(events.TypeCreditIssued, adjustment.CreatedAt, adjustmentData(adjustment)))
	}
	return adjustment, nil
}

func (s *Service) IssueCreditTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.AdjustRequest) (*ledgerdomain.CreditAdjustment, error) {
	adjustment, err := s.buildAdjustment(req, ledgerdomain.AdjustmentTypeCredit, 1)
	if err != nil {
		return nil, err
	}
	result, inserted, err := s.post(ctx, tx, adjustment)
	if err != nil {
		return nil, err
	}
	if inserted {
		s.metrics.RecordCreditAdjustment(ctx, string(ledgerdomain.AdjustmentTypeCredit))
	}
	return result, nil
}

func (s *Service) Debit(ctx context.Context, req ledgerdomain.AdjustRequest) (*ledgerdomain.CreditAdjustment, error) {
	adjustment, _, err := s.adjust(ctx, req, ledgerdomain.AdjustmentTypeDebit, -1)
	return adjustment, err
}

func (s *Service) adjust(
	ctx context.Context,
	req ledgerdomain.AdjustRequest,
	adjustmentType ledgerdomain.AdjustmentType,
	sign int64,
) (*ledgerdomain.CreditAdjustment, bool, error) {
	adjustment, err := s.buildAdjustment(req, adjustmentType, sign)
	if err != nil {
		return nil, false, err
	}

	var (
		result   *ledgerdomain.CreditAdjustment
		inserted bool
	)
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result, inserted, err = s.post(ctx, tx, adjustment)
		return err
	})
	if err != nil {
		return nil, false, db.Classify(err)
	}
	if inserted {
		s.metrics.RecordCreditAdjustment(ctx, string(adjustmentType))
		s.log.Info("credit adjusted",
			zap.String("customer_id", adjustment.CustomerID.String()),
			zap.String("type", string(adjustmentType)),
			zap.Int64("amount", adjustment.Amount),
		)
	}
	return result, inserted, nil
}

func (s *Service) buildAdjustment(
	req ledgerdomain.AdjustRequest,
	adjustmentType ledgerdomain.AdjustmentType,
	sign int64,
) (*ledgerdomain.CreditAdjustment, error) {
	if req.CustomerID == 0 {
		return nil, ledgerdomain.ErrInvalidCustomer
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		return nil, ledgerdomain.ErrInvalidIdempotencyKey
	}
	return &ledgerdomain.CreditAdjustment{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		Currency:       currency,
		Amount:         sign * req.Amount,
		Type:           adjustmentType,
		Description:    strings.TrimSpace(req.Description),
		IdempotencyKey: key,
		CreatedAt:      s.clock.Now(),
	}, nil
}

func (s *Service) ApplyToInvoiceTx(ctx context.Context, tx *gorm.DB, req ledgerdomain.ApplyToInvoiceRequest) (*ledgerdomain.CreditAdjustment, error) {
	if req.CustomerID == 0 {
		return nil, ledgerdomain.ErrInvalidCustomer
	}
	currency, err := normalizeCurrency(req.Currency)
	if err != nil {
		return nil, err
	}
	if req.Amount <= 0 {
		return nil, ledgerdomain.ErrInvalidAmount
	}
	key := strings.TrimSpace(req.Key)
	if key == "" {
		return nil, ledgerdomain.ErrInvalidIdempotencyKey
	}

	invoiceID := req.InvoiceID
	adjustment, inserted, err := s.post(ctx, tx, &ledgerdomain.CreditAdjustment{
		ID:             s.genID.Generate(),
		CustomerID:     req.CustomerID,
		Currency:       currency,
		Amount:         -req.Amount,
		Type:           ledgerdomain.AdjustmentTypeInvoicePayment,
		InvoiceID:      &invoiceID,
		Description:    "credit applied to invoice " + invoiceID.String(),
		IdempotencyKey: key,
		CreatedAt:      s.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		s.metrics.RecordCreditAdjustment(ctx, string(ledgerdomain.AdjustmentTypeInvoicePayment))
	}
	return adjustment, nil
}

// post locks the cached balance, rejects debits that would overdraw it and
// writes the adjustment together with the new balance. A reused key
// returns the stored adjustment without touching the balance.
func (s *Service) post(ctx context.Context, tx *gorm.DB, adjustment *ledgerdomain.CreditAdjustment) (*ledgerdomain.CreditAdjustment, bool, error) {
	existing, err := s.repo.FindByIdempotencyKey(ctx, tx, adjustment.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		if existing.CustomerID != adjustment.CustomerID || existing.Amount != adjustment.Amount {
			return nil, false, ledgerdomain.ErrIdempotencyMismatch
		}
		return existing, false, nil
	}

	if err := s.repo.EnsureBalance(ctx, tx, adjustment.CustomerID, adjustment.Currency, adjustment.CreatedAt); err != nil {
		return nil, false, err
	}
	balance, err := s.repo.LockBalance(ctx, tx, adjustment.CustomerID, adjustment.Currency)
	if err != nil {
		return nil, false, err
	}
	if balance+adjustment.Amount < 0 {
		return nil, false, ledgerdomain.ErrInsufficientCredit
	}

	inserted, err := s.repo.InsertAdjustment(ctx, tx, adjustment)
	if err != nil {
		return nil, false, err
	}
	if !inserted {
		stored, err := s.repo.FindByIdempotencyKey(ctx, tx, adjustment.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return stored, false, nil
	}

	if err := s.repo.SetBalance(ctx, tx, adjustment.CustomerID, adjustment.Currency, balance+adjustment.Amount, adjustment.CreatedAt); err != nil {
		return nil, false, err
	}
	return adjustment, true, nil
}

func (s *Service) Balance(ctx context.Context, customerID snowflake.ID, currency string) (int64, error) {
	currency, err := normalizeCurrency(currency)
	if err != nil {
		return 0, err
	}
	balance, err := s.repo.GetBalance(ctx, s.db, customerID, currency)
	if err != nil {
		return 0, db.Classify(err)
	}
	return balance, nil
}

func (s *Service) Reconcile(ctx context.Context, customerID snowflake.ID, currency string) (int64, error) {
	currency, err := normalizeCurrency(currency)
	if err != nil {
		return 0, err
	}

	var authoritative int64
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := s.clock.Now()
		if err := s.repo.EnsureBalance(ctx, tx, customerID, currency, now); err != nil {
			return err
		}
		cached, err := s.repo.LockBalance(ctx, tx, customerID, currency)
		if err != nil {
			return err
		}
		authoritative, err = s.repo.SumAdjustments(ctx, tx, customerID, currency)
		if err != nil {
			return err
		}
		if cached == authoritative {
			return nil
		}
		s.log.Warn("customer balance drift repaired",
			zap.String("customer_id", customerID.String()),
			zap.String("currency", currency),
			zap.Int64("cached", cached),
			zap.Int64("ledger", authoritative),
		)
		return s.repo.SetBalance(ctx, tx, customerID, currency, authoritative, now)
	})
	if err != nil {
		return 0, db.Classify(err)
	}
	return authoritative, nil
}

func (s *Service) ListAdjustments(ctx context.Context, req ledgerdomain.ListAdjustmentsRequest) (ledgerdomain.ListAdjustmentsResponse, error) {
	if req.CustomerID == 0 {
		return ledgerdomain.ListAdjustmentsResponse{}, ledgerdomain.ErrInvalidCustomer
	}
	limit := req.Limit()
	rows, err := s.repo.ListAdjustments(ctx, s.db, req.CustomerID, req.AfterID(), limit+1)
	if err != nil {
		return ledgerdomain.ListAdjustmentsResponse{}, db.Classify(err)
	}

	items := make([]*ledgerdomain.CreditAdjustment, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, limit, func(a *ledgerdomain.CreditAdjustment) string {
		return a.ID.String()
	})

	resp := ledgerdomain.ListAdjustmentsResponse{
		PageInfo:    *pageInfo,
		Adjustments: make([]ledgerdomain.CreditAdjustment, 0, len(items)),
	}
	for _, item := range items {
		resp.Adjustments = append(resp.Adjustments, *item)
	}
	return resp, nil
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.Warn("publish ledger events failed", zap.Error(err))
	}
}

func normalizeCurrency(currency string) (string, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if len(currency) != 3 {
		return "", ledgerdomain.ErrInvalidCurrency
	}
	return currency, nil
}

func adjustmentData(a *ledgerdomain.CreditAdjustment) map[string]any {
	data := map[string]any{
		"adjustment_id": a.ID.String(),
		"customer_id":   a.CustomerID.String(),
		"currency":      a.Currency,
		"amount":        a.Amount,
		"type":          string(a.Type),
	}
	if a.InvoiceID != nil {
		data["invoice_id"] = a.InvoiceID.String()
	}
	return data
}
