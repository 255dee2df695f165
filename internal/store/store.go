package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/scope"
)

// Sentinel errors shared by all Store implementations.
var (
	ErrNotFound    = errors.New("record not found")
	ErrCodeUsed    = errors.New("authorization code already used")
	ErrCodeExpired = errors.New("authorization code expired")
)

// APIKeyStore defines operations for API key credentials.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *model.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error)
	GetAPIKeyByID(ctx context.Context, tenantID, id uuid.UUID) (*model.APIKey, error)
	ListAPIKeys(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*model.APIKey, int, error)
	UpdateAPIKey(ctx context.Context, tenantID, id uuid.UUID, updates APIKeyUpdates) error
	RevokeAPIKey(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error
	RegenerateAPIKey(ctx context.Context, tenantID, id uuid.UUID, keyHash, keyPrefix string) error
	DeleteAPIKey(ctx context.Context, tenantID, id uuid.UUID) error
	TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error
}

type APIKeyUpdates struct {
	Name               *string    `json:"name,omitempty"`
	Scopes             scope.Set  `json:"scopes,omitempty"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerDay    *int       `json:"rate_limit_per_day,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// OAuthStore defines operations for applications, codes and token pairs.
type OAuthStore interface {
	CreateApplication(ctx context.Context, app *model.OAuthApplication) error
	GetApplicationByClientID(ctx context.Context, clientID string) (*model.OAuthApplication, error)
	GetApplicationByID(ctx context.Context, tenantID, id uuid.UUID) (*model.OAuthApplication, error)
	ListApplications(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*model.OAuthApplication, int, error)
	UpdateApplication(ctx context.Context, tenantID, id uuid.UUID, updates ApplicationUpdates) error
	SetApplicationSecret(ctx context.Context, tenantID, id uuid.UUID, secretHash, secretPrefix string) error

	CreateAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) error
	// ConsumeAuthorizationCode atomically marks the code used. Concurrent
	// calls for the same code yield exactly one success; losers get
	// ErrCodeUsed. Expired codes yield ErrCodeExpired, unknown hashes
	// ErrNotFound.
	ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) (*model.AuthorizationCode, error)

	CreateToken(ctx context.Context, token *model.OAuthToken) error
	GetTokenByAccessHash(ctx context.Context, hash string) (*model.OAuthToken, error)
	GetTokenByRefreshHash(ctx context.Context, hash string) (*model.OAuthToken, error)
	RotateAccessToken(ctx context.Context, id uuid.UUID, accessHash, accessPrefix string, expiresAt time.Time) error
	RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error
	RevokeApplicationTokens(ctx context.Context, applicationID uuid.UUID, at time.Time) error
	TouchToken(ctx context.Context, id uuid.UUID, at time.Time) error
}

type ApplicationUpdates struct {
	Name         *string   `json:"name,omitempty"`
	Description  *string   `json:"description,omitempty"`
	RedirectURIs []string  `json:"redirect_uris,omitempty"`
	Scopes       scope.Set `json:"scopes,omitempty"`
	Active       *bool     `json:"active,omitempty"`
}

// DeniedWindow identifies which sliding window rejected an admission.
type DeniedWindow int

const (
	DeniedNone DeniedWindow = iota
	DeniedMinute
	DeniedDay
)

// AdmitParams carries one rate-limit admission attempt.
type AdmitParams struct {
	CredentialID uuid.UUID
	TenantID     uuid.UUID
	Endpoint     string
	Method       string
	PerMinute    int
	PerDay       int
	Now          time.Time
}

// AdmitResult reports the counts observed before this request was recorded.
type AdmitResult struct {
	Allowed     bool
	DeniedBy    DeniedWindow
	MinuteCount int
	DayCount    int
	UsageID     uuid.UUID
}

// UsageStore defines operations over the append-only usage log.
type UsageStore interface {
	// AdmitUsage counts the trailing-minute and trailing-day windows and, if
	// both are under their caps, appends the usage row — atomically with
	// respect to concurrent admissions for the same credential.
	AdmitUsage(ctx context.Context, p AdmitParams) (AdmitResult, error)
	FinishUsage(ctx context.Context, id uuid.UUID, statusCode int, latencyMS int64) error
	CountUsageSince(ctx context.Context, credentialID uuid.UUID, since time.Time) (int, error)
	DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// WebhookStore defines operations for subscriptions and delivery attempts.
type WebhookStore interface {
	CreateSubscription(ctx context.Context, sub *model.WebhookSubscription) error
	GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*model.WebhookSubscription, error)
	GetSubscriptionAny(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*model.WebhookSubscription, int, error)
	ListActiveSubscriptions(ctx context.Context, tenantID uuid.UUID, event string) ([]*model.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, tenantID, id uuid.UUID, updates SubscriptionUpdates) error
	// SetSubscriptionActive toggles the active flag; the inactive→active
	// transition resets the failure counter. Setting the current state is a
	// no-op.
	SetSubscriptionActive(ctx context.Context, tenantID, id uuid.UUID, active bool) error
	DeleteSubscription(ctx context.Context, tenantID, id uuid.UUID) error

	RecordDelivery(ctx context.Context, d *model.WebhookDelivery) error
	// MarkDeliveryResult updates subscription health: success resets the
	// failure counter and stamps last-triggered; failure increments it.
	MarkDeliveryResult(ctx context.Context, subscriptionID uuid.UUID, success bool, at time.Time) error
	ListDeliveries(ctx context.Context, tenantID, subscriptionID uuid.UUID, page, limit int) ([]*model.WebhookDelivery, int, error)
	// ListRetryableDeliveries returns the latest failed attempt per event id
	// with attempt < maxAttempts.
	ListRetryableDeliveries(ctx context.Context, maxAttempts, limit int) ([]*model.WebhookDelivery, error)
	DeleteDeliveriesBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type SubscriptionUpdates struct {
	URL    *string  `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
}

// RecordStore is the tenant-scoped generic CRUD/query backend. Every query
// is filtered by tenant id; cross-tenant access is structurally impossible.
type RecordStore interface {
	CreateRecord(ctx context.Context, tenantID uuid.UUID, entity string, fields map[string]any) (*model.Record, error)
	GetRecord(ctx context.Context, tenantID uuid.UUID, entity string, id uuid.UUID) (*model.Record, error)
	UpdateRecord(ctx context.Context, tenantID uuid.UUID, entity string, id uuid.UUID, fields map[string]any) (*model.Record, error)
	DeleteRecord(ctx context.Context, tenantID uuid.UUID, entity string, id uuid.UUID) error
	ListRecords(ctx context.Context, tenantID uuid.UUID, entity string, q model.ListQuery) ([]*model.Record, int, error)
	SearchRecords(ctx context.Context, tenantID uuid.UUID, entity, term string, searchFields []string, page, limit int) ([]*model.Record, int, error)
}

// Store combines every persistence concern of the gateway.
type Store interface {
	APIKeyStore
	OAuthStore
	UsageStore
	WebhookStore
	RecordStore
	Ping(ctx context.Context) error
}
