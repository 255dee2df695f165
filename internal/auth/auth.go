// Package auth resolves bearer credentials to an authenticated principal and
// enforces scope-based authorization. Both credential classes (API keys and
// OAuth access tokens) resolve to the same Context, so downstream code never
// branches on credential type.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crm-api-gateway/internal/credential"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
)

// CredentialKind identifies which credential class authenticated the request.
type CredentialKind string

const (
	KindAPIKey     CredentialKind = "api_key"
	KindOAuthToken CredentialKind = "oauth_token"
)

// Context is the authenticated principal attached to a request.
type Context struct {
	TenantID     uuid.UUID
	ActorID      *uuid.UUID
	CredentialID uuid.UUID
	Kind         CredentialKind
	Scopes       scope.Set

	// Effective rate limits for this credential.
	PerMinute int
	PerDay    int
}

// Authorize returns a forbidden error unless the principal holds the exact
// {namespace}:{operation} scope. Write does not imply read: a write-only
// credential cannot read.
func (c *Context) Authorize(ns scope.Namespace, op scope.Operation) error {
	required := scope.Scope{Namespace: ns, Operation: op}
	if !c.Scopes.Has(required) {
		return service.NewForbidden("forbidden",
			"credential lacks the "+required.String()+" scope")
	}
	return nil
}

type Authenticator struct {
	store store.Store

	// Defaults applied to OAuth tokens, which carry no per-credential limits.
	defaultPerMinute int
	defaultPerDay    int

	now func() time.Time
}

func NewAuthenticator(s store.Store, defaultPerMinute, defaultPerDay int) *Authenticator {
	return &Authenticator{
		store:            s,
		defaultPerMinute: defaultPerMinute,
		defaultPerDay:    defaultPerDay,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

var (
	errMissing = service.NewUnauthorized("unauthorized", "missing or malformed Authorization header")
	errUnknown = service.NewUnauthorized("unauthorized", "invalid credential")
	errExpired = service.NewUnauthorized("expired", "credential has expired")
	errRevoked = service.NewUnauthorized("revoked", "credential has been revoked")
)

// Authenticate resolves the Authorization header to a principal. The error
// code distinguishes unknown, expired, and revoked credentials; the message
// never echoes the presented secret.
func (a *Authenticator) Authenticate(ctx context.Context, header string) (*Context, error) {
	secret, ok := bearerToken(header)
	if !ok {
		return nil, errMissing
	}

	switch {
	case strings.HasPrefix(secret, credential.PrefixAPIKey):
		return a.authenticateAPIKey(ctx, secret)
	case strings.HasPrefix(secret, credential.PrefixAccessToken):
		return a.authenticateToken(ctx, secret)
	default:
		return nil, errUnknown
	}
}

func (a *Authenticator) authenticateAPIKey(ctx context.Context, secret string) (*Context, error) {
	key, err := a.store.GetAPIKeyByHash(ctx, credential.Hash(secret))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errUnknown
		}
		return nil, service.NewInternal("internal_error", "credential lookup failed")
	}

	now := a.now()
	if key.Revoked() {
		return nil, errRevoked
	}
	if key.Expired(now) {
		return nil, errExpired
	}

	if err := a.store.TouchAPIKey(ctx, key.ID, now); err != nil {
		log.Warn().Err(err).Str("key_id", key.ID.String()).Msg("touch api key failed")
	}

	return &Context{
		TenantID:     key.TenantID,
		ActorID:      key.ActorID,
		CredentialID: key.ID,
		Kind:         KindAPIKey,
		Scopes:       key.Scopes,
		PerMinute:    key.RateLimitPerMinute,
		PerDay:       key.RateLimitPerDay,
	}, nil
}

func (a *Authenticator) authenticateToken(ctx context.Context, secret string) (*Context, error) {
	token, err := a.store.GetTokenByAccessHash(ctx, credential.Hash(secret))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errUnknown
		}
		return nil, service.NewInternal("internal_error", "credential lookup failed")
	}

	now := a.now()
	if token.Revoked() {
		return nil, errRevoked
	}
	if token.AccessExpired(now) {
		return nil, errExpired
	}

	if err := a.store.TouchToken(ctx, token.ID, now); err != nil {
		log.Warn().Err(err).Str("token_id", token.ID.String()).Msg("touch token failed")
	}

	userID := token.UserID
	return &Context{
		TenantID:     token.TenantID,
		ActorID:      &userID,
		CredentialID: token.ID,
		Kind:         KindOAuthToken,
		Scopes:       token.Scopes,
		PerMinute:    a.defaultPerMinute,
		PerDay:       a.defaultPerDay,
	}, nil
}

func bearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
