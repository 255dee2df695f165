package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/scope"
)

// APIKey is a directly-presented bearer credential. The plaintext secret is
// returned once at issuance; only its SHA-256 hash is stored.
type APIKey struct {
	ID                 uuid.UUID  `json:"id"`
	TenantID           uuid.UUID  `json:"tenant_id"`
	ActorID            *uuid.UUID `json:"actor_id,omitempty"`
	Name               string     `json:"name"`
	KeyHash            string     `json:"-"`
	KeyPrefix          string     `json:"key_prefix"`
	Scopes             scope.Set  `json:"scopes"`
	RateLimitPerMinute int        `json:"rate_limit_per_minute"`
	RateLimitPerDay    int        `json:"rate_limit_per_day"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RevokedAt          *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt         *time.Time `json:"last_used_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Revoked reports whether the key has been revoked.
func (k *APIKey) Revoked() bool {
	return k.RevokedAt != nil
}

// Expired reports whether the key's optional expiry has passed.
func (k *APIKey) Expired(now time.Time) bool {
	return k.ExpiresAt != nil && now.After(*k.ExpiresAt)
}
