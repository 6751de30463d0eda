package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/billingcore/internal/events"
	"gorm.io/datatypes"
)

type DeliveryStatus string

const (
	DeliveryStatusPending      DeliveryStatus = "PENDING"
	DeliveryStatusSuccess      DeliveryStatus = "SUCCESS"
	DeliveryStatusFailed       DeliveryStatus = "FAILED"
	DeliveryStatusDeadLettered DeliveryStatus = "DEAD_LETTERED"
)

// Final reports whether the delivery lifecycle has ended.
func (s DeliveryStatus) Final() bool {
	return s == DeliveryStatusSuccess || s == DeliveryStatusDeadLettered
}

type WebhookEndpoint struct {
	ID          snowflake.ID                `json:"id" gorm:"primaryKey"`
	URL         string                      `json:"url" gorm:"type:text;not null"`
	EventTypes  datatypes.JSONSlice[string] `json:"event_types" gorm:"type:jsonb;not null"`
	Secret      string                      `json:"-" gorm:"type:text;not null"`
	Description string                      `json:"description,omitempty" gorm:"type:text"`
	IsActive    bool                        `json:"is_active" gorm:"not null;default:true;index"`
	CreatedAt   time.Time                   `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time                   `json:"updated_at" gorm:"not null"`
}

func (WebhookEndpoint) TableName() string { return "webhook_endpoints" }

// Subscribes reports whether the endpoint wants events of type t. An empty
// list subscribes to everything.
func (e WebhookEndpoint) Subscribes(t events.Type) bool {
	if len(e.EventTypes) == 0 {
		return true
	}
	name := t.String()
	for _, et := range e.EventTypes {
		if et == name || et == "*" {
			return true
		}
	}
	return false
}

// WebhookDelivery is one event bound for one endpoint. The (endpoint, event)
// pair is unique, so redispatching an event never double-sends.
type WebhookDelivery struct {
	ID               snowflake.ID   `json:"id" gorm:"primaryKey"`
	EndpointID       snowflake.ID   `json:"endpoint_id" gorm:"not null;uniqueIndex:ux_webhook_deliveries_endpoint_event,priority:1"`
	EventID          string         `json:"event_id" gorm:"type:text;not null;uniqueIndex:ux_webhook_deliveries_endpoint_event,priority:2"`
	EventType        string         `json:"event_type" gorm:"type:text;not null"`
	Payload          datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	Status           DeliveryStatus `json:"status" gorm:"type:text;not null;index"`
	AttemptCount     int            `json:"attempt_count" gorm:"not null;default:0"`
	NextAttemptAt    *time.Time     `json:"next_attempt_at,omitempty" gorm:"index"`
	LastResponseCode *int           `json:"last_response_code,omitempty"`
	LastError        *string        `json:"last_error,omitempty" gorm:"type:text"`
	DeliveredAt      *time.Time     `json:"delivered_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at" gorm:"not null"`
	UpdatedAt        time.Time      `json:"updated_at" gorm:"not null"`
}

func (WebhookDelivery) TableName() string { return "webhook_deliveries" }
