// Package oauth implements the authorization-code flow: application
// registration, code issuance, the code-for-tokens exchange, access token
// refresh, and revocation.
package oauth

import (
	"context"
	"crypto/hmac"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/credential"
	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
)

const (
	CodeTTL         = 10 * time.Minute
	AccessTokenTTL  = time.Hour
	RefreshTokenTTL = 30 * 24 * time.Hour
)

type Service struct {
	store store.Store
	now   func() time.Time
}

func NewService(s store.Store) *Service {
	return &Service{store: s, now: func() time.Time { return time.Now().UTC() }}
}

// AuthorizeRequest carries the query parameters of GET /oauth/authorize.
type AuthorizeRequest struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}

// ValidateAuthorizeRequest checks the request against the registered
// application. Each failure mode gets its own error code so the authorize
// endpoint can report precisely what was wrong.
func (s *Service) ValidateAuthorizeRequest(ctx context.Context, req AuthorizeRequest) (*model.OAuthApplication, scope.Set, error) {
	app, err := s.store.GetApplicationByClientID(ctx, req.ClientID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, nil, service.NewBadRequest("unknown_client", "unknown client_id")
		}
		return nil, nil, service.NewInternal("internal_error", "application lookup failed")
	}
	if !app.Active {
		return nil, nil, service.NewBadRequest("application_inactive", "application is deactivated")
	}
	if !app.RedirectURIRegistered(req.RedirectURI) {
		return nil, nil, service.NewBadRequest("redirect_uri_mismatch", "redirect_uri is not registered for this application")
	}
	if req.ResponseType != "code" {
		return nil, nil, service.NewBadRequest("unsupported_response_type", "response_type must be code")
	}

	requested, err := scope.ParseSpaceJoined(req.Scope)
	if err != nil {
		return nil, nil, service.NewBadRequest("invalid_scope", err.Error())
	}
	if len(requested) == 0 {
		// Omitted scope defaults to everything the application registered.
		requested = app.Scopes
	}
	if !requested.Subset(app.Scopes) {
		return nil, nil, service.NewBadRequest("invalid_scope", "requested scope exceeds the application's registered scopes")
	}
	return app, requested, nil
}

// IssueCode creates a single-use authorization code bound to the application,
// user, redirect URI and approved scopes. The plaintext code is returned once.
func (s *Service) IssueCode(ctx context.Context, app *model.OAuthApplication, userID uuid.UUID, redirectURI string, scopes scope.Set) (string, error) {
	plaintext, err := credential.Generate(credential.PrefixAuthCode)
	if err != nil {
		return "", fmt.Errorf("generate authorization code: %w", err)
	}

	code := &model.AuthorizationCode{
		ApplicationID: app.ID,
		TenantID:      app.TenantID,
		UserID:        userID,
		CodeHash:      credential.Hash(plaintext),
		RedirectURI:   redirectURI,
		Scopes:        scopes,
		ExpiresAt:     s.now().Add(CodeTTL),
	}
	if err := s.store.CreateAuthorizationCode(ctx, code); err != nil {
		return "", fmt.Errorf("persist authorization code: %w", err)
	}
	return plaintext, nil
}

// TokenResponse is the token endpoint's success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope"`
}

var (
	errInvalidClient = service.NewUnauthorized("invalid_client", "client authentication failed")
	errInvalidGrant  = service.NewBadRequest("invalid_grant", "grant is invalid, expired, or already used")
)

// Exchange trades an authorization code for a token pair. The code is
// consumed before the grant bindings are checked, so a failed exchange still
// burns it.
func (s *Service) Exchange(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*TokenResponse, error) {
	app, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	grant, err := s.store.ConsumeAuthorizationCode(ctx, credential.Hash(code), s.now())
	if err != nil {
		switch err {
		case store.ErrNotFound, store.ErrCodeUsed, store.ErrCodeExpired:
			return nil, errInvalidGrant
		default:
			return nil, service.NewInternal("internal_error", "code consumption failed")
		}
	}
	if grant.ApplicationID != app.ID || grant.RedirectURI != redirectURI {
		return nil, errInvalidGrant
	}

	return s.issueTokenPair(ctx, app, grant.UserID, grant.Scopes)
}

// Refresh rotates the access half of a token pair. The refresh token itself
// is left in place until its own expiry.
func (s *Service) Refresh(ctx context.Context, clientID, clientSecret, refreshToken string) (*TokenResponse, error) {
	app, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return nil, err
	}

	token, err := s.store.GetTokenByRefreshHash(ctx, credential.Hash(refreshToken))
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errInvalidGrant
		}
		return nil, service.NewInternal("internal_error", "token lookup failed")
	}

	now := s.now()
	if token.ApplicationID != app.ID || token.Revoked() || token.RefreshExpired(now) {
		return nil, errInvalidGrant
	}

	access, err := credential.Generate(credential.PrefixAccessToken)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	expiresAt := now.Add(AccessTokenTTL)
	if err := s.store.RotateAccessToken(ctx, token.ID, credential.Hash(access), credential.DisplayPrefix(access), expiresAt); err != nil {
		return nil, fmt.Errorf("rotate access token: %w", err)
	}

	return &TokenResponse{
		AccessToken: access,
		TokenType:   "Bearer",
		ExpiresIn:   int(AccessTokenTTL.Seconds()),
		Scope:       token.Scopes.SpaceJoined(),
	}, nil
}

// Revoke invalidates the pair the presented token belongs to. Per RFC 7009 an
// unknown token is not an error.
func (s *Service) Revoke(ctx context.Context, clientID, clientSecret, presented string) error {
	app, err := s.authenticateClient(ctx, clientID, clientSecret)
	if err != nil {
		return err
	}

	hash := credential.Hash(presented)
	token, err := s.store.GetTokenByAccessHash(ctx, hash)
	if err == store.ErrNotFound {
		token, err = s.store.GetTokenByRefreshHash(ctx, hash)
	}
	if err != nil {
		if err == store.ErrNotFound {
			return nil
		}
		return service.NewInternal("internal_error", "token lookup failed")
	}
	if token.ApplicationID != app.ID {
		return nil
	}

	if err := s.store.RevokeToken(ctx, token.ID, s.now()); err != nil && err != store.ErrNotFound {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// RegisterApplication creates an OAuth client. The plaintext client secret is
// returned once alongside the stored application.
func (s *Service) RegisterApplication(ctx context.Context, tenantID uuid.UUID, name, description string, redirectURIs []string, scopes scope.Set) (*model.OAuthApplication, string, error) {
	if name == "" {
		return nil, "", service.NewValidation("invalid application", map[string]any{"name": "name is required"})
	}
	if len(redirectURIs) == 0 {
		return nil, "", service.NewValidation("invalid application", map[string]any{"redirect_uris": "at least one redirect URI is required"})
	}
	for _, raw := range redirectURIs {
		u, err := url.Parse(raw)
		if err != nil || !u.IsAbs() || u.Fragment != "" {
			return nil, "", service.NewValidation("invalid application", map[string]any{
				"redirect_uris": fmt.Sprintf("%q must be an absolute URI without a fragment", raw),
			})
		}
	}

	clientID, err := credential.Generate(credential.PrefixClientID)
	if err != nil {
		return nil, "", fmt.Errorf("generate client id: %w", err)
	}
	secret, err := credential.Generate(credential.PrefixClientSecret)
	if err != nil {
		return nil, "", fmt.Errorf("generate client secret: %w", err)
	}

	app := &model.OAuthApplication{
		TenantID:           tenantID,
		Name:               name,
		Description:        description,
		ClientID:           clientID,
		ClientSecretHash:   credential.Hash(secret),
		ClientSecretPrefix: credential.DisplayPrefix(secret),
		RedirectURIs:       redirectURIs,
		Scopes:             scopes,
		Active:             true,
	}
	if err := s.store.CreateApplication(ctx, app); err != nil {
		return nil, "", fmt.Errorf("persist application: %w", err)
	}
	return app, secret, nil
}

// RegenerateSecret replaces the client secret and revokes every token the
// application has issued.
func (s *Service) RegenerateSecret(ctx context.Context, tenantID, id uuid.UUID) (string, error) {
	app, err := s.store.GetApplicationByID(ctx, tenantID, id)
	if err != nil {
		if err == store.ErrNotFound {
			return "", service.NewNotFound("not_found", "application not found")
		}
		return "", service.NewInternal("internal_error", "application lookup failed")
	}

	secret, err := credential.Generate(credential.PrefixClientSecret)
	if err != nil {
		return "", fmt.Errorf("generate client secret: %w", err)
	}
	if err := s.store.SetApplicationSecret(ctx, tenantID, app.ID, credential.Hash(secret), credential.DisplayPrefix(secret)); err != nil {
		return "", fmt.Errorf("persist client secret: %w", err)
	}
	if err := s.store.RevokeApplicationTokens(ctx, app.ID, s.now()); err != nil {
		return "", fmt.Errorf("revoke application tokens: %w", err)
	}
	return secret, nil
}

func (s *Service) authenticateClient(ctx context.Context, clientID, clientSecret string) (*model.OAuthApplication, error) {
	app, err := s.store.GetApplicationByClientID(ctx, clientID)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, errInvalidClient
		}
		return nil, service.NewInternal("internal_error", "application lookup failed")
	}
	if !app.Active {
		return nil, errInvalidClient
	}
	if !hmac.Equal([]byte(app.ClientSecretHash), []byte(credential.Hash(clientSecret))) {
		return nil, errInvalidClient
	}
	return app, nil
}

func (s *Service) issueTokenPair(ctx context.Context, app *model.OAuthApplication, userID uuid.UUID, scopes scope.Set) (*TokenResponse, error) {
	access, err := credential.Generate(credential.PrefixAccessToken)
	if err != nil {
		return nil, fmt.Errorf("generate access token: %w", err)
	}
	refresh, err := credential.Generate(credential.PrefixRefreshToken)
	if err != nil {
		return nil, fmt.Errorf("generate refresh token: %w", err)
	}

	now := s.now()
	token := &model.OAuthToken{
		ApplicationID:     app.ID,
		TenantID:          app.TenantID,
		UserID:            userID,
		AccessTokenHash:   credential.Hash(access),
		AccessTokenPrefix: credential.DisplayPrefix(access),
		RefreshTokenHash:  credential.Hash(refresh),
		Scopes:            scopes,
		AccessExpiresAt:   now.Add(AccessTokenTTL),
		RefreshExpiresAt:  now.Add(RefreshTokenTTL),
	}
	if err := s.store.CreateToken(ctx, token); err != nil {
		return nil, fmt.Errorf("persist token pair: %w", err)
	}

	return &TokenResponse{
		AccessToken:  access,
		TokenType:    "Bearer",
		ExpiresIn:    int(AccessTokenTTL.Seconds()),
		RefreshToken: refresh,
		Scope:        scopes.SpaceJoined(),
	}, nil
}
