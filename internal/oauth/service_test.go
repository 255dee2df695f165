package oauth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
	"github.com/crm-api-gateway/internal/store/memory"
)

type fixture struct {
	svc    *Service
	mem    *memory.Store
	app    *model.OAuthApplication
	secret string
	userID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	mem := memory.New()
	svc := NewService(mem)
	app, secret, err := svc.RegisterApplication(context.Background(), uuid.New(),
		"Sync Bridge", "syncs contacts nightly",
		[]string{"https://example.com/callback"},
		scope.Set{
			{Namespace: scope.Contacts, Operation: scope.Read},
			{Namespace: scope.Deals, Operation: scope.Write},
		})
	if err != nil {
		t.Fatal(err)
	}
	return &fixture{svc: svc, mem: mem, app: app, secret: secret, userID: uuid.New()}
}

func (f *fixture) authorize(t *testing.T, scopeStr string) string {
	t.Helper()

	req := AuthorizeRequest{
		ClientID:     f.app.ClientID,
		RedirectURI:  "https://example.com/callback",
		ResponseType: "code",
		Scope:        scopeStr,
	}
	app, scopes, err := f.svc.ValidateAuthorizeRequest(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	code, err := f.svc.IssueCode(context.Background(), app, f.userID, req.RedirectURI, scopes)
	if err != nil {
		t.Fatal(err)
	}
	return code
}

func wantCode(t *testing.T, err error, code string) {
	t.Helper()

	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *service.Error, got %T: %v", err, err)
	}
	if svcErr.Code != code {
		t.Fatalf("code = %s, want %s", svcErr.Code, code)
	}
}

func TestValidateAuthorizeRequestErrors(t *testing.T) {
	f := newFixture(t)

	base := AuthorizeRequest{
		ClientID:     f.app.ClientID,
		RedirectURI:  "https://example.com/callback",
		ResponseType: "code",
	}

	cases := []struct {
		name   string
		mutate func(*AuthorizeRequest)
		code   string
	}{
		{"unknown client", func(r *AuthorizeRequest) { r.ClientID = "app_nope" }, "unknown_client"},
		{"bad redirect", func(r *AuthorizeRequest) { r.RedirectURI = "https://evil.example/cb" }, "redirect_uri_mismatch"},
		{"bad response type", func(r *AuthorizeRequest) { r.ResponseType = "token" }, "unsupported_response_type"},
		{"scope beyond app", func(r *AuthorizeRequest) { r.Scope = "leads:write" }, "invalid_scope"},
		{"malformed scope", func(r *AuthorizeRequest) { r.Scope = "contacts" }, "invalid_scope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			_, _, err := f.svc.ValidateAuthorizeRequest(context.Background(), req)
			wantCode(t, err, tc.code)
		})
	}
}

func TestValidateAuthorizeRequestInactiveApp(t *testing.T) {
	f := newFixture(t)

	inactive := false
	if err := f.mem.UpdateApplication(context.Background(), f.app.TenantID, f.app.ID,
		store.ApplicationUpdates{Active: &inactive}); err != nil {
		t.Fatal(err)
	}

	_, _, err := f.svc.ValidateAuthorizeRequest(context.Background(), AuthorizeRequest{
		ClientID:     f.app.ClientID,
		RedirectURI:  "https://example.com/callback",
		ResponseType: "code",
	})
	wantCode(t, err, "application_inactive")
}

func TestExchangeHappyPath(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	resp, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.TokenType != "Bearer" {
		t.Errorf("token_type = %s, want Bearer", resp.TokenType)
	}
	if resp.ExpiresIn != 3600 {
		t.Errorf("expires_in = %d, want 3600", resp.ExpiresIn)
	}
	if resp.AccessToken == "" || resp.RefreshToken == "" {
		t.Error("expected both token halves")
	}
	if resp.Scope != "contacts:read" {
		t.Errorf("scope = %q, want contacts:read", resp.Scope)
	}
}

func TestExchangeRejectsReusedCode(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	if _, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback"); err != nil {
		t.Fatal(err)
	}
	_, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback")
	wantCode(t, err, "invalid_grant")
}

func TestExchangeWrongRedirectBurnsCode(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	_, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/other")
	wantCode(t, err, "invalid_grant")

	// The failed exchange consumed the code; a correct retry must also fail.
	_, err = f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback")
	wantCode(t, err, "invalid_grant")
}

func TestExchangeRejectsWrongSecret(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	_, err := f.svc.Exchange(context.Background(), f.app.ClientID, "ccs_wrong", code, "https://example.com/callback")
	wantCode(t, err, "invalid_client")
}

func TestConcurrentExchangeSingleWinner(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback"); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("wins = %d, want exactly 1", wins)
	}
}

func TestRefreshRotatesAccessOnly(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	first, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback")
	if err != nil {
		t.Fatal(err)
	}

	refreshed, err := f.svc.Refresh(context.Background(), f.app.ClientID, f.secret, first.RefreshToken)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if refreshed.AccessToken == first.AccessToken {
		t.Error("expected a new access token")
	}
	if refreshed.RefreshToken != "" {
		t.Error("refresh must not mint a new refresh token")
	}

	// The same refresh token keeps working until its own expiry.
	if _, err := f.svc.Refresh(context.Background(), f.app.ClientID, f.secret, first.RefreshToken); err != nil {
		t.Errorf("second refresh failed: %v", err)
	}
}

func TestRefreshRejectsRevokedPair(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	resp, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback")
	if err != nil {
		t.Fatal(err)
	}
	if err := f.svc.Revoke(context.Background(), f.app.ClientID, f.secret, resp.AccessToken); err != nil {
		t.Fatal(err)
	}

	_, err = f.svc.Refresh(context.Background(), f.app.ClientID, f.secret, resp.RefreshToken)
	wantCode(t, err, "invalid_grant")
}

func TestRevokeUnknownTokenIsNoop(t *testing.T) {
	f := newFixture(t)

	if err := f.svc.Revoke(context.Background(), f.app.ClientID, f.secret, "cat_unknown"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestExpiredCodeRejected(t *testing.T) {
	f := newFixture(t)

	f.svc.now = func() time.Time { return time.Now().UTC().Add(-CodeTTL - time.Minute) }
	code := f.authorize(t, "contacts:read")
	f.svc.now = func() time.Time { return time.Now().UTC() }

	_, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback")
	wantCode(t, err, "invalid_grant")
}

func TestRegisterApplicationValidation(t *testing.T) {
	svc := NewService(memory.New())
	tenant := uuid.New()

	cases := []struct {
		name string
		app  string
		uris []string
	}{
		{"missing name", "", []string{"https://example.com/cb"}},
		{"no redirect uris", "App", nil},
		{"relative redirect uri", "App", []string{"/callback"}},
		{"fragment in redirect uri", "App", []string{"https://example.com/cb#frag"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := svc.RegisterApplication(context.Background(), tenant, tc.app, "", tc.uris, nil)
			wantCode(t, err, "validation_error")
		})
	}
}

func TestRegenerateSecretRevokesTokens(t *testing.T) {
	f := newFixture(t)
	code := f.authorize(t, "contacts:read")

	resp, err := f.svc.Exchange(context.Background(), f.app.ClientID, f.secret, code, "https://example.com/callback")
	if err != nil {
		t.Fatal(err)
	}

	newSecret, err := f.svc.RegenerateSecret(context.Background(), f.app.TenantID, f.app.ID)
	if err != nil {
		t.Fatal(err)
	}
	if newSecret == f.secret {
		t.Error("expected a fresh secret")
	}

	// The old secret no longer authenticates the client.
	_, err = f.svc.Refresh(context.Background(), f.app.ClientID, f.secret, resp.RefreshToken)
	wantCode(t, err, "invalid_client")

	// Tokens issued before the rotation are revoked.
	_, err = f.svc.Refresh(context.Background(), f.app.ClientID, newSecret, resp.RefreshToken)
	wantCode(t, err, "invalid_grant")
}
