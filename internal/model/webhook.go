package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// WebhookSubscription is a tenant-owned registration of a URL, a signing
// secret, and the event names it wants to be notified on.
type WebhookSubscription struct {
	ID              uuid.UUID  `json:"id"`
	TenantID        uuid.UUID  `json:"tenant_id"`
	URL             string     `json:"url"`
	Secret          string     `json:"-"`
	Events          []string   `json:"events"`
	Active          bool       `json:"active"`
	FailureCount    int        `json:"failure_count"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// SubscribedTo reports whether the subscription's event set contains event.
func (s *WebhookSubscription) SubscribedTo(event string) bool {
	for _, e := range s.Events {
		if e == event {
			return true
		}
	}
	return false
}

// DeliveryOutcome classifies a webhook delivery attempt.
type DeliveryOutcome string

const (
	DeliverySucceeded DeliveryOutcome = "succeeded"
	DeliveryFailed    DeliveryOutcome = "failed"
)

// WebhookDelivery is the append-only audit record of one delivery attempt.
// Attempts for the same logical event share EventID; Attempt is the ordinal.
type WebhookDelivery struct {
	ID             uuid.UUID       `json:"id"`
	SubscriptionID uuid.UUID       `json:"subscription_id"`
	EventID        uuid.UUID       `json:"event_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Outcome        DeliveryOutcome `json:"outcome"`
	StatusCode     *int            `json:"status_code,omitempty"`
	Error          string          `json:"error,omitempty"`
	LatencyMS      int64           `json:"latency_ms"`
	Attempt        int             `json:"attempt"`
	CreatedAt      time.Time       `json:"created_at"`
}
