package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/backoff"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	invoicedomain "github.com/smallbiznis/billingcore/internal/invoice/domain"
	"github.com/smallbiznis/billingcore/internal/lock"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/billingcore/internal/payment/domain"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	subscriptiondomain "github.com/smallbiznis/billingcore/internal/subscription/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/errs"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TaskKind identifies payment retries in the scheduler queue.
const TaskKind scheduler.Kind = "payment_attempt"

type ServiceParam struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Repo            paymentdomain.Repository
	Gateway         paymentdomain.Gateway
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Locker          lock.Locker
	Publisher       events.Publisher
	BillingConfig   *config.BillingConfigHolder
	Queue           scheduler.Enqueuer  `optional:"true"`
	Metrics         *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID           *snowflake.Node
	clock           clock.Clock
	repo            paymentdomain.Repository
	gateway         paymentdomain.Gateway
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	locker          lock.Locker
	publisher       events.Publisher
	billingConfig   *config.BillingConfigHolder
	queue           scheduler.Enqueuer
	metrics         *obsmetrics.Metrics
}

func NewService(p ServiceParam) paymentdomain.Service {
	return &Service{
		db:  p.DB,
		log: p.Log.Named("payment.service"),

		genID:           p.GenID,
		clock:           p.Clock,
		repo:            p.Repo,
		gateway:         p.Gateway,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		locker:          p.Locker,
		publisher:       p.Publisher,
		billingConfig:   p.BillingConfig,
		queue:           p.Queue,
		metrics:         p.Metrics,
	}
}

func (s *Service) policy() backoff.Policy {
	return s.billingConfig.Get().PaymentRetry
}

func (s *Service) ChargeInvoice(ctx context.Context, invoiceID snowflake.ID) (*paymentdomain.PaymentAttempt, error) {
	if invoiceID == 0 {
		return nil, paymentdomain.ErrInvalidInvoice
	}

	release, err := s.locker.Acquire(ctx, lock.InvoiceKey(invoiceID))
	if err != nil {
		return nil, err
	}
	defer release()

	invoice, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if !invoice.Status.Payable() || invoice.AmountDue() == 0 {
		return nil, paymentdomain.ErrInvoiceNotPayable
	}

	attempts, err := s.repo.ListByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, db.Classify(err)
	}
	for i := range attempts {
		if attempts[i].Status == paymentdomain.AttemptStatusScheduled {
			return &attempts[i], nil
		}
	}

	now := s.clock.Now()
	attempt := &paymentdomain.PaymentAttempt{
		ID:             s.genID.Generate(),
		InvoiceID:      invoice.ID,
		SubscriptionID: invoice.SubscriptionID,
		AttemptNumber:  len(attempts),
		Status:         paymentdomain.AttemptStatusScheduled,
		Amount:         invoice.AmountDue(),
		Currency:       invoice.Currency,
		ScheduledAt:    now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	inserted, err := s.repo.Insert(ctx, s.db, attempt)
	if err != nil {
		return nil, db.Classify(err)
	}
	if !inserted {
		return nil, errs.New(errs.KindConflict, "payment_attempt_exists")
	}
	return s.execute(ctx, attempt)
}

func (s *Service) ExecuteAttempt(ctx context.Context, attemptID snowflake.ID) (*paymentdomain.PaymentAttempt, error) {
	attempt, err := s.repo.FindByID(ctx, s.db, attemptID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if attempt == nil {
		return nil, paymentdomain.ErrAttemptNotFound
	}

	release, err := s.locker.Acquire(ctx, lock.InvoiceKey(attempt.InvoiceID))
	if err != nil {
		return nil, err
	}
	defer release()

	// Another worker may have run it while we waited for the lock.
	attempt, err = s.repo.FindByID(ctx, s.db, attemptID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if attempt.Status != paymentdomain.AttemptStatusScheduled {
		return attempt, nil
	}
	if attempt.ScheduledAt.After(s.clock.Now()) {
		return nil, paymentdomain.ErrAttemptNotDue
	}
	return s.execute(ctx, attempt)
}

func (s *Service) execute(ctx context.Context, attempt *paymentdomain.PaymentAttempt) (*paymentdomain.PaymentAttempt, error) {
	invoice, err := s.invoiceSvc.Get(ctx, attempt.InvoiceID)
	if err != nil {
		return nil, err
	}
	sub, err := s.subscriptionSvc.GetByID(ctx, attempt.SubscriptionID)
	if err != nil {
		return nil, err
	}

	log := s.log.With(
		zap.String("attempt_id", attempt.ID.String()),
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("subscription_id", sub.ID.String()),
		zap.Int("attempt", attempt.AttemptNumber),
	)

	if reason := cancelReason(invoice, sub); reason != "" {
		now := s.clock.Now()
		attempt.Status = paymentdomain.AttemptStatusCanceled
		attempt.LastError = &reason
		attempt.ExecutedAt = &now
		attempt.UpdatedAt = now
		if err := s.repo.Update(ctx, s.db, attempt); err != nil {
			return nil, db.Classify(err)
		}
		s.metrics.RecordPaymentAttempt(ctx, "canceled")
		log.Info("payment attempt canceled", zap.String("reason", reason))
		return attempt, nil
	}

	amount := invoice.AmountDue()
	result, chargeErr := s.gateway.Charge(ctx, paymentdomain.ChargeRequest{
		CustomerRef:      sub.CustomerRef,
		Amount:           amount,
		Currency:         invoice.Currency,
		PaymentMethodRef: paymentMethod(attempt, sub),
		IdempotencyKey:   fmt.Sprintf("invoice_%s_attempt_%d", invoice.ID, attempt.AttemptNumber),
		Metadata: map[string]string{
			"invoice_id":      invoice.ID.String(),
			"subscription_id": sub.ID.String(),
		},
	})
	if chargeErr != nil && !errs.Is(chargeErr, errs.KindGateway) {
		log.Warn("charge did not complete, attempt stays scheduled", zap.Error(chargeErr))
		return nil, chargeErr
	}

	attempt.Amount = amount
	if chargeErr == nil {
		return s.succeed(ctx, log, attempt, invoice, sub, result)
	}
	return s.fail(ctx, log, attempt, invoice, sub, chargeErr)
}

func (s *Service) succeed(
	ctx context.Context,
	log *zap.Logger,
	attempt *paymentdomain.PaymentAttempt,
	invoice *invoicedomain.Invoice,
	sub *subscriptiondomain.Subscription,
	result paymentdomain.ChargeResult,
) (*paymentdomain.PaymentAttempt, error) {
	// RecordPayment is idempotent by transaction id, so a crash before the
	// attempt update is repaired by the next run.
	if _, err := s.invoiceSvc.RecordPayment(ctx, invoice.ID, attempt.Amount, result.TransactionID); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	txnID := result.TransactionID
	attempt.Status = paymentdomain.AttemptStatusSucceeded
	attempt.TransactionID = &txnID
	attempt.LastError = nil
	attempt.ExecutedAt = &now
	attempt.UpdatedAt = now
	if err := s.repo.Update(ctx, s.db, attempt); err != nil {
		return nil, db.Classify(err)
	}

	if sub.Status == subscriptiondomain.SubscriptionStatusPastDue {
		if _, err := s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.EventPaymentRecovered); err != nil {
			log.Warn("recover subscription failed", zap.Error(err))
		}
	}

	s.metrics.RecordPaymentAttempt(ctx, "succeeded")
	log.Info("payment succeeded", zap.String("transaction_id", txnID), zap.Int64("amount", attempt.Amount))
	s.publish(ctx, events.New(events.TypePaymentSucceeded, now, attemptData(attempt, sub, map[string]any{
		"transaction_id": txnID,
	})))
	return attempt, nil
}

func (s *Service) fail(
	ctx context.Context,
	log *zap.Logger,
	attempt *paymentdomain.PaymentAttempt,
	invoice *invoicedomain.Invoice,
	sub *subscriptiondomain.Subscription,
	chargeErr error,
) (*paymentdomain.PaymentAttempt, error) {
	reason := chargeErr.Error()
	if _, err := s.invoiceSvc.MarkFailed(ctx, invoice.ID, reason); err != nil {
		return nil, err
	}

	if sub.Status == subscriptiondomain.SubscriptionStatusActive {
		updated, err := s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.EventPaymentFailed)
		if err != nil {
			return nil, err
		}
		sub = updated
	}

	now := s.clock.Now()
	policy := s.policy()
	attempt.LastError = &reason
	attempt.ExecutedAt = &now
	attempt.UpdatedAt = now

	if policy.Exhausted(attempt.AttemptNumber) {
		attempt.Status = paymentdomain.AttemptStatusExhausted
		if err := s.repo.Update(ctx, s.db, attempt); err != nil {
			return nil, db.Classify(err)
		}
		s.metrics.RecordPaymentAttempt(ctx, "exhausted")
		log.Warn("payment retries exhausted", zap.String("error", reason))

		// Only the PAST_DUE → UNPAID edge emits, so a manual charge after
		// exhaustion does not announce it again.
		if sub.Status == subscriptiondomain.SubscriptionStatusPastDue {
			if _, err := s.subscriptionSvc.Transition(ctx, sub.ID, subscriptiondomain.EventRetriesExhausted); err != nil {
				return nil, err
			}
			s.publish(ctx, events.New(events.TypePaymentRetriesExhausted, now, attemptData(attempt, sub, map[string]any{
				"error": reason,
			})))
		}
		return attempt, nil
	}

	attempt.Status = paymentdomain.AttemptStatusFailed
	next := &paymentdomain.PaymentAttempt{
		ID:               s.genID.Generate(),
		InvoiceID:        attempt.InvoiceID,
		SubscriptionID:   attempt.SubscriptionID,
		AttemptNumber:    attempt.AttemptNumber + 1,
		Status:           paymentdomain.AttemptStatusScheduled,
		Currency:         attempt.Currency,
		ScheduledAt:      now.Add(policy.Delay(attempt.AttemptNumber)),
		PaymentMethodRef: attempt.PaymentMethodRef,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Update(ctx, tx, attempt); err != nil {
			return err
		}
		_, err := s.repo.Insert(ctx, tx, next)
		return err
	})
	if err != nil {
		return nil, db.Classify(err)
	}
	if s.queue != nil {
		s.queue.Enqueue(scheduler.Task{Kind: TaskKind, ID: next.ID, At: next.ScheduledAt})
	}

	s.metrics.RecordPaymentAttempt(ctx, "failed")
	log.Info("payment failed, retry scheduled",
		zap.String("error", reason),
		zap.Time("next_attempt_at", next.ScheduledAt),
	)
	s.publish(ctx, events.New(events.TypePaymentFailed, now, attemptData(attempt, sub, map[string]any{
		"error":           reason,
		"next_attempt_at": next.ScheduledAt.UTC().Format(time.RFC3339),
	})))
	return attempt, nil
}

func (s *Service) UpdatePaymentMethod(ctx context.Context, subscriptionID snowflake.ID, ref string) error {
	ref = strings.TrimSpace(ref)
	if _, err := s.subscriptionSvc.UpdatePaymentMethod(ctx, subscriptionID, ref); err != nil {
		return err
	}
	n, err := s.repo.SetScheduledPaymentMethod(ctx, s.db, subscriptionID, ref)
	if err != nil {
		return db.Classify(err)
	}
	s.log.Info("payment method swapped",
		zap.String("subscription_id", subscriptionID.String()),
		zap.Int64("scheduled_attempts", n),
	)
	return nil
}

func (s *Service) Refund(ctx context.Context, invoiceID snowflake.ID, amount int64) (*paymentdomain.RefundResult, error) {
	if invoiceID == 0 {
		return nil, paymentdomain.ErrInvalidInvoice
	}
	if amount <= 0 {
		return nil, paymentdomain.ErrInvalidAmount
	}

	invoice, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.PaymentReference == nil || invoice.PaidAmount == 0 {
		return nil, paymentdomain.ErrNothingToRefund
	}
	if amount > invoice.PaidAmount {
		return nil, paymentdomain.ErrInvalidAmount
	}

	txnID := *invoice.PaymentReference
	result, err := s.gateway.Refund(ctx, txnID, amount, fmt.Sprintf("refund_%s_%s_%d", invoice.ID, txnID, amount))
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	s.log.Info("payment refunded",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("refund_id", result.RefundID),
		zap.Int64("amount", amount),
	)
	s.publish(ctx, events.New(events.TypePaymentRefunded, now, map[string]any{
		"invoice_id":      invoice.ID.String(),
		"subscription_id": invoice.SubscriptionID.String(),
		"transaction_id":  txnID,
		"refund_id":       result.RefundID,
		"amount":          amount,
		"currency":        invoice.Currency,
	}))
	return &result, nil
}

func (s *Service) ListAttempts(ctx context.Context, invoiceID snowflake.ID) ([]paymentdomain.PaymentAttempt, error) {
	if invoiceID == 0 {
		return nil, paymentdomain.ErrInvalidInvoice
	}
	attempts, err := s.repo.ListByInvoice(ctx, s.db, invoiceID)
	if err != nil {
		return nil, db.Classify(err)
	}
	return attempts, nil
}

func (s *Service) ScheduledAttempts(ctx context.Context, limit int) ([]paymentdomain.PaymentAttempt, error) {
	attempts, err := s.repo.ListScheduled(ctx, s.db, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	return attempts, nil
}

func (s *Service) publish(ctx context.Context, evs ...events.Event) {
	if s.publisher == nil || len(evs) == 0 {
		return
	}
	if err := s.publisher.Publish(ctx, evs...); err != nil {
		s.log.Warn("publish payment events failed", zap.Error(err))
	}
}

func cancelReason(invoice *invoicedomain.Invoice, sub *subscriptiondomain.Subscription) string {
	switch {
	case invoice.Status == invoicedomain.InvoiceStatusVoid:
		return "invoice_void"
	case !invoice.Status.Payable(), invoice.AmountDue() == 0:
		return "invoice_settled"
	case sub.Status.Terminal():
		return "subscription_canceled"
	}
	return ""
}

func paymentMethod(attempt *paymentdomain.PaymentAttempt, sub *subscriptiondomain.Subscription) string {
	if attempt.PaymentMethodRef != nil && *attempt.PaymentMethodRef != "" {
		return *attempt.PaymentMethodRef
	}
	if sub.PaymentMethodRef != nil {
		return *sub.PaymentMethodRef
	}
	return ""
}

func attemptData(attempt *paymentdomain.PaymentAttempt, sub *subscriptiondomain.Subscription, extra map[string]any) map[string]any {
	data := map[string]any{
		"attempt_id":      attempt.ID.String(),
		"attempt_number":  attempt.AttemptNumber,
		"invoice_id":      attempt.InvoiceID.String(),
		"subscription_id": attempt.SubscriptionID.String(),
		"customer_id":     sub.CustomerID.String(),
		"amount":          attempt.Amount,
		"currency":        attempt.Currency,
	}
	if sub.BillingEmail != "" {
		data["billing_email"] = sub.BillingEmail
	}
	for k, v := range extra {
		data[k] = v
	}
	return data
}
