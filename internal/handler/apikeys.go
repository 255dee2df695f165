package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/credential"
	"github.com/crm-api-gateway/internal/httputil"
	"github.com/crm-api-gateway/internal/middleware"
	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
)

// APIKeys manages API key credentials under the keys namespace.
type APIKeys struct {
	store store.Store

	defaultPerMinute int
	defaultPerDay    int
}

func NewAPIKeys(s store.Store, defaultPerMinute, defaultPerDay int) *APIKeys {
	return &APIKeys{store: s, defaultPerMinute: defaultPerMinute, defaultPerDay: defaultPerDay}
}

type createKeyRequest struct {
	Name               string     `json:"name"`
	Scopes             []string   `json:"scopes"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerDay    *int       `json:"rate_limit_per_day,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// keyWithPlaintext is the create/regenerate response; the plaintext key is
// shown exactly once.
type keyWithPlaintext struct {
	*model.APIKey
	Key string `json:"key"`
}

// Create handles POST /api/v1/keys.
func (h *APIKeys) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Keys, scope.Write); err != nil {
		fail(w, err)
		return
	}

	var req createKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Name == "" {
		fail(w, service.NewValidation("invalid key", map[string]any{"name": "name is required"}))
		return
	}
	scopes, err := scope.ParseList(req.Scopes)
	if err != nil {
		fail(w, service.NewValidation("invalid key", map[string]any{"scopes": err.Error()}))
		return
	}
	if len(scopes) == 0 {
		fail(w, service.NewValidation("invalid key", map[string]any{"scopes": "at least one scope is required"}))
		return
	}
	// A credential can only delegate scopes its creator holds.
	if !scopes.Subset(principal.Scopes) {
		fail(w, service.NewForbidden("forbidden", "cannot grant scopes beyond your own"))
		return
	}

	perMinute := h.defaultPerMinute
	if req.RateLimitPerMinute != nil {
		perMinute = *req.RateLimitPerMinute
	}
	perDay := h.defaultPerDay
	if req.RateLimitPerDay != nil {
		perDay = *req.RateLimitPerDay
	}
	if perMinute < 1 || perDay < perMinute {
		fail(w, service.NewValidation("invalid key", map[string]any{
			"rate_limit": "per-minute limit must be positive and per-day at least per-minute",
		}))
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now().UTC()) {
		fail(w, service.NewValidation("invalid key", map[string]any{"expires_at": "must be in the future"}))
		return
	}

	plaintext, err := credential.Generate(credential.PrefixAPIKey)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "key generation failed"))
		return
	}

	key := &model.APIKey{
		TenantID:           principal.TenantID,
		ActorID:            principal.ActorID,
		Name:               req.Name,
		KeyHash:            credential.Hash(plaintext),
		KeyPrefix:          credential.DisplayPrefix(plaintext),
		Scopes:             scopes,
		RateLimitPerMinute: perMinute,
		RateLimitPerDay:    perDay,
		ExpiresAt:          req.ExpiresAt,
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		fail(w, service.NewInternal("internal_error", "failed to create key"))
		return
	}
	httputil.RespondData(w, http.StatusCreated, keyWithPlaintext{APIKey: key, Key: plaintext})
}

// List handles GET /api/v1/keys.
func (h *APIKeys) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Keys, scope.Read); err != nil {
		fail(w, err)
		return
	}

	page, limit, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, service.NewBadRequest("bad_request", err.Error()))
		return
	}

	keys, total, err := h.store.ListAPIKeys(r.Context(), principal.TenantID, page, limit)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "failed to list keys"))
		return
	}
	httputil.RespondList(w, http.StatusOK, keys, httputil.NewMeta(total, page, limit))
}

// Get handles GET /api/v1/keys/{id}.
func (h *APIKeys) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Keys, scope.Read); err != nil {
		fail(w, err)
		return
	}

	key, err := h.loadKey(r)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.RespondData(w, http.StatusOK, key)
}

type updateKeyRequest struct {
	Name               *string    `json:"name,omitempty"`
	Scopes             []string   `json:"scopes,omitempty"`
	RateLimitPerMinute *int       `json:"rate_limit_per_minute,omitempty"`
	RateLimitPerDay    *int       `json:"rate_limit_per_day,omitempty"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
}

// Update handles PATCH /api/v1/keys/{id}.
func (h *APIKeys) Update(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Keys, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, service.NewNotFound("not_found", "key not found"))
		return
	}

	var req updateKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err)
		return
	}

	updates := store.APIKeyUpdates{
		Name:               req.Name,
		RateLimitPerMinute: req.RateLimitPerMinute,
		RateLimitPerDay:    req.RateLimitPerDay,
		ExpiresAt:          req.ExpiresAt,
	}
	if req.Scopes != nil {
		scopes, err := scope.ParseList(req.Scopes)
		if err != nil {
			fail(w, service.NewValidation("invalid key", map[string]any{"scopes": err.Error()}))
			return
		}
		if !scopes.Subset(principal.Scopes) {
			fail(w, service.NewForbidden("forbidden", "cannot grant scopes beyond your own"))
			return
		}
		updates.Scopes = scopes
	}

	if err := h.store.UpdateAPIKey(r.Context(), principal.TenantID, id, updates); err != nil {
		fail(w, mapKeyErr(err))
		return
	}
	key, err := h.store.GetAPIKeyByID(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapKeyErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, key)
}

// Revoke handles POST /api/v1/keys/{id}/revoke. Revoking an already revoked
// key is a no-op.
func (h *APIKeys) Revoke(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Keys, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, service.NewNotFound("not_found", "key not found"))
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), principal.TenantID, id, time.Now().UTC()); err != nil {
		fail(w, mapKeyErr(err))
		return
	}
	key, err := h.store.GetAPIKeyByID(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapKeyErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, key)
}

// Regenerate handles POST /api/v1/keys/{id}/regenerate: a new secret for the
// same key record. The old secret stops working immediately.
func (h *APIKeys) Regenerate(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Keys, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, service.NewNotFound("not_found", "key not found"))
		return
	}

	plaintext, err := credential.Generate(credential.PrefixAPIKey)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "key generation failed"))
		return
	}
	if err := h.store.RegenerateAPIKey(r.Context(), principal.TenantID, id,
		credential.Hash(plaintext), credential.DisplayPrefix(plaintext)); err != nil {
		fail(w, mapKeyErr(err))
		return
	}
	key, err := h.store.GetAPIKeyByID(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapKeyErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, keyWithPlaintext{APIKey: key, Key: plaintext})
}

// Delete handles DELETE /api/v1/keys/{id}.
func (h *APIKeys) Delete(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Keys, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, service.NewNotFound("not_found", "key not found"))
		return
	}
	if err := h.store.DeleteAPIKey(r.Context(), principal.TenantID, id); err != nil {
		fail(w, mapKeyErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIKeys) loadKey(r *http.Request) (*model.APIKey, error) {
	principal := middleware.GetAuthContext(r)
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, service.NewNotFound("not_found", "key not found")
	}
	key, err := h.store.GetAPIKeyByID(r.Context(), principal.TenantID, id)
	if err != nil {
		return nil, mapKeyErr(err)
	}
	return key, nil
}

func mapKeyErr(err error) error {
	if err == store.ErrNotFound {
		return service.NewNotFound("not_found", "key not found")
	}
	return service.NewInternal("internal_error", "storage operation failed")
}
