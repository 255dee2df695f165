package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/httputil"
	"github.com/crm-api-gateway/internal/middleware"
	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/oauth"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
)

// Apps manages OAuth application registrations under the apps namespace.
type Apps struct {
	store store.Store
	oauth *oauth.Service
}

func NewApps(s store.Store, svc *oauth.Service) *Apps {
	return &Apps{store: s, oauth: svc}
}

type createAppRequest struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	RedirectURIs []string `json:"redirect_uris"`
	Scopes       []string `json:"scopes"`
}

// appWithSecret is the create/regenerate response; the client secret is shown
// exactly once.
type appWithSecret struct {
	*model.OAuthApplication
	ClientSecret string `json:"client_secret"`
}

// Create handles POST /api/v1/apps.
func (h *Apps) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Apps, scope.Write); err != nil {
		fail(w, err)
		return
	}

	var req createAppRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err)
		return
	}
	scopes, err := scope.ParseList(req.Scopes)
	if err != nil {
		fail(w, service.NewValidation("invalid application", map[string]any{"scopes": err.Error()}))
		return
	}
	if len(scopes) == 0 {
		fail(w, service.NewValidation("invalid application", map[string]any{"scopes": "at least one scope is required"}))
		return
	}

	app, secret, err := h.oauth.RegisterApplication(r.Context(), principal.TenantID, req.Name, req.Description, req.RedirectURIs, scopes)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.RespondData(w, http.StatusCreated, appWithSecret{OAuthApplication: app, ClientSecret: secret})
}

// List handles GET /api/v1/apps.
func (h *Apps) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Apps, scope.Read); err != nil {
		fail(w, err)
		return
	}

	page, limit, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, service.NewBadRequest("bad_request", err.Error()))
		return
	}

	apps, total, err := h.store.ListApplications(r.Context(), principal.TenantID, page, limit)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "failed to list applications"))
		return
	}
	httputil.RespondList(w, http.StatusOK, apps, httputil.NewMeta(total, page, limit))
}

// Get handles GET /api/v1/apps/{id}.
func (h *Apps) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Apps, scope.Read); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errAppNotFound)
		return
	}
	app, err := h.store.GetApplicationByID(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapAppErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, app)
}

type updateAppRequest struct {
	Name         *string  `json:"name,omitempty"`
	Description  *string  `json:"description,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	Active       *bool    `json:"active,omitempty"`
}

// Update handles PATCH /api/v1/apps/{id}. Deactivation goes through the
// active field; an inactive application fails every OAuth flow.
func (h *Apps) Update(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Apps, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errAppNotFound)
		return
	}

	var req updateAppRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err)
		return
	}

	updates := store.ApplicationUpdates{
		Name:         req.Name,
		Description:  req.Description,
		RedirectURIs: req.RedirectURIs,
		Active:       req.Active,
	}
	if req.Scopes != nil {
		scopes, err := scope.ParseList(req.Scopes)
		if err != nil {
			fail(w, service.NewValidation("invalid application", map[string]any{"scopes": err.Error()}))
			return
		}
		updates.Scopes = scopes
	}

	if err := h.store.UpdateApplication(r.Context(), principal.TenantID, id, updates); err != nil {
		fail(w, mapAppErr(err))
		return
	}
	app, err := h.store.GetApplicationByID(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapAppErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, app)
}

// RegenerateSecret handles POST /api/v1/apps/{id}/regenerate-secret. All
// tokens issued by the application are revoked.
func (h *Apps) RegenerateSecret(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Apps, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errAppNotFound)
		return
	}

	secret, err := h.oauth.RegenerateSecret(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, err)
		return
	}
	app, err := h.store.GetApplicationByID(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapAppErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, appWithSecret{OAuthApplication: app, ClientSecret: secret})
}

var errAppNotFound = service.NewNotFound("not_found", "application not found")

func mapAppErr(err error) error {
	if err == store.ErrNotFound {
		return errAppNotFound
	}
	return service.NewInternal("internal_error", "storage operation failed")
}
