package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/credential"
	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store/memory"
)

func seedAPIKey(t *testing.T, mem *memory.Store, mutate func(*model.APIKey)) (string, *model.APIKey) {
	t.Helper()

	secret, err := credential.Generate(credential.PrefixAPIKey)
	if err != nil {
		t.Fatal(err)
	}
	key := &model.APIKey{
		TenantID:           uuid.New(),
		Name:               "test key",
		KeyHash:            credential.Hash(secret),
		KeyPrefix:          credential.DisplayPrefix(secret),
		Scopes:             scope.Set{{Namespace: scope.Contacts, Operation: scope.Read}},
		RateLimitPerMinute: 100,
		RateLimitPerDay:    10000,
	}
	if mutate != nil {
		mutate(key)
	}
	if err := mem.CreateAPIKey(context.Background(), key); err != nil {
		t.Fatal(err)
	}
	return secret, key
}

func errCode(t *testing.T, err error) string {
	t.Helper()

	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		t.Fatalf("expected *service.Error, got %T: %v", err, err)
	}
	return svcErr.Code
}

func TestAuthenticateAPIKey(t *testing.T) {
	mem := memory.New()
	secret, key := seedAPIKey(t, mem, nil)
	a := NewAuthenticator(mem, 60, 5000)

	got, err := a.Authenticate(context.Background(), "Bearer "+secret)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.TenantID != key.TenantID {
		t.Errorf("tenant = %s, want %s", got.TenantID, key.TenantID)
	}
	if got.Kind != KindAPIKey {
		t.Errorf("kind = %s, want %s", got.Kind, KindAPIKey)
	}
	if got.PerMinute != 100 || got.PerDay != 10000 {
		t.Errorf("limits = %d/%d, want the key's own limits", got.PerMinute, got.PerDay)
	}

	stored, err := mem.GetAPIKeyByID(context.Background(), key.TenantID, key.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastUsedAt == nil {
		t.Error("expected last_used_at to be stamped")
	}
}

func TestAuthenticateRejectsBadHeaders(t *testing.T) {
	a := NewAuthenticator(memory.New(), 60, 5000)

	for _, header := range []string{"", "Bearer", "Bearer ", "Basic dXNlcg==", "crk_raw-without-scheme"} {
		if _, err := a.Authenticate(context.Background(), header); err == nil {
			t.Errorf("header %q: expected error", header)
		} else if code := errCode(t, err); code != "unauthorized" {
			t.Errorf("header %q: code = %s, want unauthorized", header, code)
		}
	}
}

func TestAuthenticateUnknownKey(t *testing.T) {
	a := NewAuthenticator(memory.New(), 60, 5000)

	secret, _ := credential.Generate(credential.PrefixAPIKey)
	_, err := a.Authenticate(context.Background(), "Bearer "+secret)
	if code := errCode(t, err); code != "unauthorized" {
		t.Errorf("code = %s, want unauthorized", code)
	}
}

func TestAuthenticateRevokedKey(t *testing.T) {
	mem := memory.New()
	now := time.Now().UTC()
	secret, _ := seedAPIKey(t, mem, func(k *model.APIKey) { k.RevokedAt = &now })
	a := NewAuthenticator(mem, 60, 5000)

	_, err := a.Authenticate(context.Background(), "Bearer "+secret)
	if code := errCode(t, err); code != "revoked" {
		t.Errorf("code = %s, want revoked", code)
	}
}

func TestAuthenticateExpiredKey(t *testing.T) {
	mem := memory.New()
	past := time.Now().UTC().Add(-time.Hour)
	secret, _ := seedAPIKey(t, mem, func(k *model.APIKey) { k.ExpiresAt = &past })
	a := NewAuthenticator(mem, 60, 5000)

	_, err := a.Authenticate(context.Background(), "Bearer "+secret)
	if code := errCode(t, err); code != "expired" {
		t.Errorf("code = %s, want expired", code)
	}
}

func TestAuthenticateOAuthToken(t *testing.T) {
	mem := memory.New()
	a := NewAuthenticator(mem, 60, 5000)

	access, _ := credential.Generate(credential.PrefixAccessToken)
	refresh, _ := credential.Generate(credential.PrefixRefreshToken)
	now := time.Now().UTC()
	token := &model.OAuthToken{
		ApplicationID:     uuid.New(),
		TenantID:          uuid.New(),
		UserID:            uuid.New(),
		AccessTokenHash:   credential.Hash(access),
		AccessTokenPrefix: credential.DisplayPrefix(access),
		RefreshTokenHash:  credential.Hash(refresh),
		Scopes:            scope.Set{{Namespace: scope.Deals, Operation: scope.Write}},
		AccessExpiresAt:   now.Add(time.Hour),
		RefreshExpiresAt:  now.Add(30 * 24 * time.Hour),
	}
	if err := mem.CreateToken(context.Background(), token); err != nil {
		t.Fatal(err)
	}

	got, err := a.Authenticate(context.Background(), "Bearer "+access)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Kind != KindOAuthToken {
		t.Errorf("kind = %s, want %s", got.Kind, KindOAuthToken)
	}
	if got.ActorID == nil || *got.ActorID != token.UserID {
		t.Error("expected actor to be the token's user")
	}
	if got.PerMinute != 60 || got.PerDay != 5000 {
		t.Errorf("limits = %d/%d, want the configured defaults", got.PerMinute, got.PerDay)
	}

	// The refresh token must never authenticate a request.
	if _, err := a.Authenticate(context.Background(), "Bearer "+refresh); err == nil {
		t.Error("refresh token must not be accepted as a bearer credential")
	}
}

func TestAuthenticateExpiredAccessToken(t *testing.T) {
	mem := memory.New()
	a := NewAuthenticator(mem, 60, 5000)

	access, _ := credential.Generate(credential.PrefixAccessToken)
	now := time.Now().UTC()
	token := &model.OAuthToken{
		ApplicationID:    uuid.New(),
		TenantID:         uuid.New(),
		UserID:           uuid.New(),
		AccessTokenHash:  credential.Hash(access),
		RefreshTokenHash: credential.Hash("other"),
		AccessExpiresAt:  now.Add(-time.Minute),
		RefreshExpiresAt: now.Add(time.Hour),
	}
	if err := mem.CreateToken(context.Background(), token); err != nil {
		t.Fatal(err)
	}

	_, err := a.Authenticate(context.Background(), "Bearer "+access)
	if code := errCode(t, err); code != "expired" {
		t.Errorf("code = %s, want expired", code)
	}
}

func TestAuthorize(t *testing.T) {
	c := &Context{Scopes: scope.Set{
		{Namespace: scope.Contacts, Operation: scope.Read},
		{Namespace: scope.Deals, Operation: scope.Write},
	}}

	cases := []struct {
		name    string
		ns      scope.Namespace
		op      scope.Operation
		allowed bool
	}{
		{"read with read scope", scope.Contacts, scope.Read, true},
		{"write without write scope", scope.Contacts, scope.Write, false},
		{"write with write scope", scope.Deals, scope.Write, true},
		{"read with only write scope", scope.Deals, scope.Read, false},
		{"no scope at all", scope.Leads, scope.Read, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := c.Authorize(tc.ns, tc.op)
			if tc.allowed && err != nil {
				t.Errorf("expected allow, got %v", err)
			}
			if !tc.allowed {
				if err == nil {
					t.Fatal("expected forbidden")
				}
				if code := errCode(t, err); code != "forbidden" {
					t.Errorf("code = %s, want forbidden", code)
				}
			}
		})
	}
}
