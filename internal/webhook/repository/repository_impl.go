package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/webhook/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const deliveryColumns = `id, endpoint_id, event_id, event_type, payload, status, attempt_count,
	next_attempt_at, last_response_code, last_error, delivered_at, created_at, updated_at`

func (r *repo) InsertEndpoint(ctx context.Context, db *gorm.DB, endpoint *domain.WebhookEndpoint) error {
	return db.WithContext(ctx).Create(endpoint).Error
}

func (r *repo) FindEndpoint(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookEndpoint, error) {
	var endpoint domain.WebhookEndpoint
	err := db.WithContext(ctx).Raw(
		`SELECT id, url, event_types, secret, description, is_active, created_at, updated_at
		 FROM webhook_endpoints
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&endpoint).Error
	if err != nil {
		return nil, err
	}
	if endpoint.ID == 0 {
		return nil, nil
	}
	return &endpoint, nil
}

func (r *repo) UpdateEndpoint(ctx context.Context, db *gorm.DB, endpoint *domain.WebhookEndpoint) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_endpoints
		 SET url = ?, event_types = ?, description = ?, is_active = ?, updated_at = ?
		 WHERE id = ?`,
		endpoint.URL,
		endpoint.EventTypes,
		endpoint.Description,
		endpoint.IsActive,
		endpoint.UpdatedAt,
		endpoint.ID,
	).Error
}

func (r *repo) ListEndpoints(ctx context.Context, db *gorm.DB, activeOnly bool) ([]domain.WebhookEndpoint, error) {
	var endpoints []domain.WebhookEndpoint
	stmt := db.WithContext(ctx).Model(&domain.WebhookEndpoint{})
	if activeOnly {
		stmt = stmt.Where("is_active = ?", true)
	}
	if err := stmt.Order("id ASC").Find(&endpoints).Error; err != nil {
		return nil, err
	}
	return endpoints, nil
}

func (r *repo) InsertDelivery(ctx context.Context, db *gorm.DB, delivery *domain.WebhookDelivery) (bool, error) {
	res := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "endpoint_id"}, {Name: "event_id"}},
			DoNothing: true,
		}).
		Create(delivery)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindDelivery(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.WebhookDelivery, error) {
	var delivery domain.WebhookDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliveryColumns+`
		 FROM webhook_deliveries
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&delivery).Error
	if err != nil {
		return nil, err
	}
	if delivery.ID == 0 {
		return nil, nil
	}
	return &delivery, nil
}

func (r *repo) UpdateDelivery(ctx context.Context, db *gorm.DB, delivery *domain.WebhookDelivery) error {
	return db.WithContext(ctx).Exec(
		`UPDATE webhook_deliveries
		 SET status = ?,
		     attempt_count = ?,
		     next_attempt_at = ?,
		     last_response_code = ?,
		     last_error = ?,
		     delivered_at = ?,
		     updated_at = ?
		 WHERE id = ?`,
		delivery.Status,
		delivery.AttemptCount,
		delivery.NextAttemptAt,
		delivery.LastResponseCode,
		delivery.LastError,
		delivery.DeliveredAt,
		delivery.UpdatedAt,
		delivery.ID,
	).Error
}

func (r *repo) ListDeliveries(ctx context.Context, db *gorm.DB, filter domain.DeliveryFilter) ([]domain.WebhookDelivery, error) {
	var deliveries []domain.WebhookDelivery
	stmt := db.WithContext(ctx).Model(&domain.WebhookDelivery{}).Where("id > ?", filter.AfterID)
	if filter.EndpointID != 0 {
		stmt = stmt.Where("endpoint_id = ?", filter.EndpointID)
	}
	if filter.EventID != "" {
		stmt = stmt.Where("event_id = ?", filter.EventID)
	}
	if filter.Status != "" {
		stmt = stmt.Where("status = ?", filter.Status)
	}
	if err := stmt.Order("id ASC").Limit(filter.Limit).Find(&deliveries).Error; err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (r *repo) ListScheduled(ctx context.Context, db *gorm.DB, limit int) ([]domain.WebhookDelivery, error) {
	if limit <= 0 {
		limit = 500
	}
	var deliveries []domain.WebhookDelivery
	err := db.WithContext(ctx).Raw(
		`SELECT `+deliveryColumns+`
		 FROM webhook_deliveries
		 WHERE status IN (?, ?) AND next_attempt_at IS NOT NULL
		 ORDER BY next_attempt_at ASC, id ASC
		 LIMIT ?`,
		domain.DeliveryStatusPending,
		domain.DeliveryStatusFailed,
		limit,
	).Scan(&deliveries).Error
	if err != nil {
		return nil, err
	}
	return deliveries, nil
}
