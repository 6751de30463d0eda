package service

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/samber/lo"
	"github.com/smallbiznis/billingcore/internal/clock"
	"github.com/smallbiznis/billingcore/internal/config"
	"github.com/smallbiznis/billingcore/internal/events"
	"github.com/smallbiznis/billingcore/internal/lock"
	obsmetrics "github.com/smallbiznis/billingcore/internal/observability/metrics"
	"github.com/smallbiznis/billingcore/internal/scheduler"
	webhookdomain "github.com/smallbiznis/billingcore/internal/webhook/domain"
	"github.com/smallbiznis/billingcore/pkg/db"
	"github.com/smallbiznis/billingcore/pkg/db/pagination"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const TaskKind scheduler.Kind = "webhook_delivery"

const (
	userAgent        = "billingcore-webhooks/1.0"
	maxResponseBytes = 64 << 10
)

type ServiceParam struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          webhookdomain.Repository
	Locker        lock.Locker
	BillingConfig *config.BillingConfigHolder
	Client        *http.Client        `optional:"true"`
	Queue         scheduler.Enqueuer  `optional:"true"`
	Metrics       *obsmetrics.Metrics `optional:"true"`
}

var _ webhookdomain.Service = (*Service)(nil)

type Service struct {
	db  *gorm.DB
	log *zap.Logger

	genID         *snowflake.Node
	clock         clock.Clock
	repo          webhookdomain.Repository
	locker        lock.Locker
	billingConfig *config.BillingConfigHolder
	client        *http.Client
	queue         scheduler.Enqueuer
	metrics       *obsmetrics.Metrics
}

func NewService(p ServiceParam) *Service {
	client := p.Client
	if client == nil {
		client = &http.Client{}
	}
	return &Service{
		db:  p.DB,
		log: p.Log.Named("webhook.service"),

		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		locker:        p.Locker,
		billingConfig: p.BillingConfig,
		client:        client,
		queue:         p.Queue,
		metrics:       p.Metrics,
	}
}

func (s *Service) RegisterEndpoint(ctx context.Context, req webhookdomain.RegisterEndpointRequest) (*webhookdomain.WebhookEndpoint, error) {
	rawURL := strings.TrimSpace(req.URL)
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, webhookdomain.ErrInvalidURL
	}

	eventTypes := lo.Uniq(lo.Map(req.EventTypes, func(t string, _ int) string {
		return strings.TrimSpace(t)
	}))
	for _, t := range eventTypes {
		if t == "*" {
			continue
		}
		if _, err := events.ParseType(t); err != nil {
			return nil, fmt.Errorf("%w: %s", webhookdomain.ErrInvalidEventType, t)
		}
	}

	secret := strings.TrimSpace(req.Secret)
	if secret == "" {
		if secret, err = newSecret(); err != nil {
			return nil, err
		}
	}

	now := s.clock.Now()
	endpoint := &webhookdomain.WebhookEndpoint{
		ID:          s.genID.Generate(),
		URL:         rawURL,
		EventTypes:  eventTypes,
		Secret:      secret,
		Description: strings.TrimSpace(req.Description),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.InsertEndpoint(ctx, s.db, endpoint); err != nil {
		return nil, db.Classify(err)
	}

	s.log.Info("webhook endpoint registered",
		zap.String("endpoint_id", endpoint.ID.String()),
		zap.Strings("event_types", eventTypes),
	)
	return endpoint, nil
}

func (s *Service) DisableEndpoint(ctx context.Context, id snowflake.ID) (*webhookdomain.WebhookEndpoint, error) {
	if id == 0 {
		return nil, webhookdomain.ErrInvalidEndpoint
	}
	endpoint, err := s.repo.FindEndpoint(ctx, s.db, id)
	if err != nil {
		return nil, db.Classify(err)
	}
	if endpoint == nil {
		return nil, webhookdomain.ErrEndpointNotFound
	}
	if !endpoint.IsActive {
		return endpoint, nil
	}

	endpoint.IsActive = false
	endpoint.UpdatedAt = s.clock.Now()
	if err := s.repo.UpdateEndpoint(ctx, s.db, endpoint); err != nil {
		return nil, db.Classify(err)
	}
	s.log.Info("webhook endpoint disabled", zap.String("endpoint_id", id.String()))
	return endpoint, nil
}

func (s *Service) ListEndpoints(ctx context.Context) ([]webhookdomain.WebhookEndpoint, error) {
	endpoints, err := s.repo.ListEndpoints(ctx, s.db, false)
	if err != nil {
		return nil, db.Classify(err)
	}
	return endpoints, nil
}

// Handle lets the service subscribe to the event bus.
func (s *Service) Handle(ctx context.Context, ev events.Event) error {
	_, err := s.Dispatch(ctx, ev)
	return err
}

func (s *Service) Dispatch(ctx context.Context, ev events.Event) ([]webhookdomain.WebhookDelivery, error) {
	endpoints, err := s.repo.ListEndpoints(ctx, s.db, true)
	if err != nil {
		return nil, db.Classify(err)
	}
	endpoints = lo.Filter(endpoints, func(e webhookdomain.WebhookEndpoint, _ int) bool {
		return e.Subscribes(ev.Type)
	})
	if len(endpoints) == 0 {
		return nil, nil
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event %s: %w", ev.ID, err)
	}

	now := s.clock.Now()
	deliveries := make([]webhookdomain.WebhookDelivery, 0, len(endpoints))
	for _, endpoint := range endpoints {
		delivery := webhookdomain.WebhookDelivery{
			ID:            s.genID.Generate(),
			EndpointID:    endpoint.ID,
			EventID:       ev.ID,
			EventType:     ev.Type.String(),
			Payload:       payload,
			Status:        webhookdomain.DeliveryStatusPending,
			NextAttemptAt: &now,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		inserted, err := s.repo.InsertDelivery(ctx, s.db, &delivery)
		if err != nil {
			return deliveries, db.Classify(err)
		}
		if !inserted {
			continue
		}
		s.enqueue(delivery.ID, now)
		deliveries = append(deliveries, delivery)
	}

	s.log.Debug("event dispatched",
		zap.String("event_id", ev.ID),
		zap.Stringer("event_type", ev.Type),
		zap.Int("deliveries", len(deliveries)),
	)
	return deliveries, nil
}

func (s *Service) Attempt(ctx context.Context, deliveryID snowflake.ID) (*webhookdomain.WebhookDelivery, error) {
	if deliveryID == 0 {
		return nil, webhookdomain.ErrInvalidDelivery
	}
	release, err := s.locker.Acquire(ctx, lock.DeliveryKey(deliveryID))
	if err != nil {
		return nil, err
	}
	defer release()

	delivery, err := s.repo.FindDelivery(ctx, s.db, deliveryID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if delivery == nil {
		return nil, webhookdomain.ErrDeliveryNotFound
	}
	if delivery.Status.Final() || delivery.NextAttemptAt == nil {
		return delivery, nil
	}
	now := s.clock.Now()
	if delivery.NextAttemptAt.After(now) {
		return nil, webhookdomain.ErrDeliveryNotDue
	}

	log := s.log.With(
		zap.String("delivery_id", delivery.ID.String()),
		zap.String("endpoint_id", delivery.EndpointID.String()),
		zap.String("event_id", delivery.EventID),
	)

	endpoint, err := s.repo.FindEndpoint(ctx, s.db, delivery.EndpointID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if endpoint == nil || !endpoint.IsActive {
		// Parked until someone calls RetryDelivery.
		reason := "endpoint_inactive"
		delivery.NextAttemptAt = nil
		delivery.LastError = &reason
		delivery.UpdatedAt = now
		if err := s.repo.UpdateDelivery(ctx, s.db, delivery); err != nil {
			return nil, db.Classify(err)
		}
		log.Info("delivery parked, endpoint inactive")
		return delivery, nil
	}

	code, sendErr := s.send(ctx, endpoint, delivery, now)
	now = s.clock.Now()
	delivery.AttemptCount++
	delivery.UpdatedAt = now
	delivery.LastResponseCode = nil
	if code > 0 {
		delivery.LastResponseCode = &code
	}

	switch classify(code, sendErr) {
	case outcomeDelivered:
		delivery.Status = webhookdomain.DeliveryStatusSuccess
		delivery.NextAttemptAt = nil
		delivery.LastError = nil
		delivery.DeliveredAt = &now
	case outcomeRejected:
		reason := fmt.Sprintf("endpoint rejected payload with status %d", code)
		delivery.Status = webhookdomain.DeliveryStatusDeadLettered
		delivery.NextAttemptAt = nil
		delivery.LastError = &reason
	default:
		reason := failureReason(code, sendErr)
		delivery.LastError = &reason
		policy := s.billingConfig.Get().WebhookRetry
		if policy.Exhausted(delivery.AttemptCount) {
			delivery.Status = webhookdomain.DeliveryStatusDeadLettered
			delivery.NextAttemptAt = nil
		} else {
			next := now.Add(policy.Delay(delivery.AttemptCount - 1))
			delivery.Status = webhookdomain.DeliveryStatusFailed
			delivery.NextAttemptAt = &next
		}
	}

	if err := s.repo.UpdateDelivery(ctx, s.db, delivery); err != nil {
		return nil, db.Classify(err)
	}
	if delivery.Status == webhookdomain.DeliveryStatusFailed {
		s.enqueue(delivery.ID, *delivery.NextAttemptAt)
	}

	s.metrics.RecordWebhookDelivery(ctx, string(delivery.Status))
	fields := []zap.Field{
		zap.String("status", string(delivery.Status)),
		zap.Int("attempt_count", delivery.AttemptCount),
		zap.Int("response_code", code),
	}
	switch delivery.Status {
	case webhookdomain.DeliveryStatusSuccess:
		log.Info("webhook delivered", fields...)
	case webhookdomain.DeliveryStatusDeadLettered:
		log.Warn("webhook dead-lettered", append(fields, zap.Stringp("error", delivery.LastError))...)
	default:
		log.Info("webhook delivery failed, retry scheduled",
			append(fields, zap.Timep("next_attempt_at", delivery.NextAttemptAt), zap.Stringp("error", delivery.LastError))...)
	}
	return delivery, nil
}

func (s *Service) send(ctx context.Context, endpoint *webhookdomain.WebhookEndpoint, delivery *webhookdomain.WebhookDelivery, now time.Time) (int, error) {
	timeout := s.billingConfig.Get().WebhookTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	body := []byte(delivery.Payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(webhookdomain.EventIDHeader, delivery.EventID)
	req.Header.Set(webhookdomain.EventTypeHeader, delivery.EventType)
	req.Header.Set(webhookdomain.TimestampHeader, strconv.FormatInt(now.Unix(), 10))
	req.Header.Set(webhookdomain.SignatureHeader, webhookdomain.Sign(endpoint.Secret, body))

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
	return resp.StatusCode, nil
}

func (s *Service) RetryDelivery(ctx context.Context, deliveryID snowflake.ID) (*webhookdomain.WebhookDelivery, error) {
	if deliveryID == 0 {
		return nil, webhookdomain.ErrInvalidDelivery
	}
	release, err := s.locker.Acquire(ctx, lock.DeliveryKey(deliveryID))
	if err != nil {
		return nil, err
	}
	defer release()

	delivery, err := s.repo.FindDelivery(ctx, s.db, deliveryID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if delivery == nil {
		return nil, webhookdomain.ErrDeliveryNotFound
	}
	if delivery.Status == webhookdomain.DeliveryStatusSuccess {
		return nil, webhookdomain.ErrDeliveryAlreadySucceeded
	}

	now := s.clock.Now()
	delivery.Status = webhookdomain.DeliveryStatusPending
	delivery.AttemptCount = 0
	delivery.NextAttemptAt = &now
	delivery.LastError = nil
	delivery.UpdatedAt = now
	if err := s.repo.UpdateDelivery(ctx, s.db, delivery); err != nil {
		return nil, db.Classify(err)
	}
	s.enqueue(delivery.ID, now)

	s.log.Info("webhook delivery requeued", zap.String("delivery_id", delivery.ID.String()))
	return delivery, nil
}

func (s *Service) GetDelivery(ctx context.Context, deliveryID snowflake.ID) (*webhookdomain.WebhookDelivery, error) {
	if deliveryID == 0 {
		return nil, webhookdomain.ErrInvalidDelivery
	}
	delivery, err := s.repo.FindDelivery(ctx, s.db, deliveryID)
	if err != nil {
		return nil, db.Classify(err)
	}
	if delivery == nil {
		return nil, webhookdomain.ErrDeliveryNotFound
	}
	return delivery, nil
}

func (s *Service) ListDeliveries(ctx context.Context, req webhookdomain.ListDeliveriesRequest) (webhookdomain.ListDeliveriesResponse, error) {
	filter := webhookdomain.DeliveryFilter{
		EndpointID: req.EndpointID,
		EventID:    strings.TrimSpace(req.EventID),
		AfterID:    req.AfterID(),
		Limit:      req.Limit() + 1,
	}
	if req.Status != nil {
		filter.Status = *req.Status
	}

	rows, err := s.repo.ListDeliveries(ctx, s.db, filter)
	if err != nil {
		return webhookdomain.ListDeliveriesResponse{}, db.Classify(err)
	}

	items := make([]*webhookdomain.WebhookDelivery, 0, len(rows))
	for i := range rows {
		items = append(items, &rows[i])
	}
	items, pageInfo := pagination.BuildCursorPageInfo(items, req.Limit(), func(d *webhookdomain.WebhookDelivery) string {
		return d.ID.String()
	})

	return webhookdomain.ListDeliveriesResponse{
		PageInfo: *pageInfo,
		Deliveries: lo.Map(items, func(d *webhookdomain.WebhookDelivery, _ int) webhookdomain.WebhookDelivery {
			return *d
		}),
	}, nil
}

func (s *Service) ScheduledDeliveries(ctx context.Context, limit int) ([]webhookdomain.WebhookDelivery, error) {
	deliveries, err := s.repo.ListScheduled(ctx, s.db, limit)
	if err != nil {
		return nil, db.Classify(err)
	}
	return deliveries, nil
}

func (s *Service) enqueue(id snowflake.ID, at time.Time) {
	if s.queue != nil {
		s.queue.Enqueue(scheduler.Task{Kind: TaskKind, ID: id, At: at})
	}
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeDelivered
	outcomeRejected
)

// classify maps a response to what happens next: 2xx delivered, 4xx other
// than 429 rejected for good, everything else (5xx, 429, transport errors
// and timeouts) retried.
func classify(code int, err error) outcome {
	switch {
	case err != nil:
		return outcomeRetry
	case code >= 200 && code < 300:
		return outcomeDelivered
	case code >= 400 && code < 500 && code != http.StatusTooManyRequests:
		return outcomeRejected
	default:
		return outcomeRetry
	}
}

func failureReason(code int, err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case err != nil:
		return err.Error()
	default:
		return fmt.Sprintf("endpoint responded with status %d", code)
	}
}

func newSecret() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate webhook secret: %w", err)
	}
	return "whsec_" + hex.EncodeToString(buf), nil
}
