package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/scope"
)

// OAuthApplication is a registered OAuth 2.0 client.
type OAuthApplication struct {
	ID                 uuid.UUID `json:"id"`
	TenantID           uuid.UUID `json:"tenant_id"`
	Name               string    `json:"name"`
	Description        string    `json:"description,omitempty"`
	ClientID           string    `json:"client_id"`
	ClientSecretHash   string    `json:"-"`
	ClientSecretPrefix string    `json:"client_secret_prefix"`
	RedirectURIs       []string  `json:"redirect_uris"`
	Scopes             scope.Set `json:"scopes"`
	Active             bool      `json:"active"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// RedirectURIRegistered reports whether uri exactly matches a registered URI.
func (a *OAuthApplication) RedirectURIRegistered(uri string) bool {
	for _, r := range a.RedirectURIs {
		if r == uri {
			return true
		}
	}
	return false
}

// AuthorizationCode is a short-lived, single-use grant bound to one
// application, user, redirect URI, and approved scope subset.
type AuthorizationCode struct {
	ID            uuid.UUID  `json:"id"`
	ApplicationID uuid.UUID  `json:"application_id"`
	TenantID      uuid.UUID  `json:"tenant_id"`
	UserID        uuid.UUID  `json:"user_id"`
	CodeHash      string     `json:"-"`
	RedirectURI   string     `json:"redirect_uri"`
	Scopes        scope.Set  `json:"scopes"`
	ExpiresAt     time.Time  `json:"expires_at"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// OAuthToken is an issued access/refresh pair. Each half is hashed
// independently; one revocation timestamp covers both.
type OAuthToken struct {
	ID                uuid.UUID  `json:"id"`
	ApplicationID     uuid.UUID  `json:"application_id"`
	TenantID          uuid.UUID  `json:"tenant_id"`
	UserID            uuid.UUID  `json:"user_id"`
	AccessTokenHash   string     `json:"-"`
	AccessTokenPrefix string     `json:"access_token_prefix"`
	RefreshTokenHash  string     `json:"-"`
	Scopes            scope.Set  `json:"scopes"`
	AccessExpiresAt   time.Time  `json:"access_expires_at"`
	RefreshExpiresAt  time.Time  `json:"refresh_expires_at"`
	RevokedAt         *time.Time `json:"revoked_at,omitempty"`
	LastUsedAt        *time.Time `json:"last_used_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Revoked reports whether the pair has been revoked.
func (t *OAuthToken) Revoked() bool {
	return t.RevokedAt != nil
}

// AccessExpired reports whether the access half has expired.
func (t *OAuthToken) AccessExpired(now time.Time) bool {
	return now.After(t.AccessExpiresAt)
}

// RefreshExpired reports whether the refresh half has expired.
func (t *OAuthToken) RefreshExpired(now time.Time) bool {
	return now.After(t.RefreshExpiresAt)
}
