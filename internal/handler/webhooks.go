package handler

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/credential"
	"github.com/crm-api-gateway/internal/httputil"
	"github.com/crm-api-gateway/internal/metadata"
	"github.com/crm-api-gateway/internal/middleware"
	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/scope"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
	"github.com/crm-api-gateway/internal/webhook"
)

// Webhooks manages subscriptions under the webhooks namespace.
type Webhooks struct {
	store      store.Store
	dispatcher *webhook.Dispatcher
}

func NewWebhooks(s store.Store, d *webhook.Dispatcher) *Webhooks {
	return &Webhooks{store: s, dispatcher: d}
}

type createSubscriptionRequest struct {
	URL    string   `json:"url"`
	Events []string `json:"events"`
}

// subscriptionWithSecret is the create response; the signing secret is shown
// exactly once.
type subscriptionWithSecret struct {
	*model.WebhookSubscription
	Secret string `json:"secret"`
}

// Create handles POST /api/v1/webhooks.
func (h *Webhooks) Create(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Write); err != nil {
		fail(w, err)
		return
	}

	var req createSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err)
		return
	}
	if details := validateSubscription(req.URL, req.Events); details != nil {
		fail(w, service.NewValidation("invalid subscription", details))
		return
	}

	secret, err := credential.Generate(credential.PrefixWebhookSecret)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "secret generation failed"))
		return
	}

	sub := &model.WebhookSubscription{
		TenantID: principal.TenantID,
		URL:      req.URL,
		Secret:   secret,
		Events:   req.Events,
		Active:   true,
	}
	if err := h.store.CreateSubscription(r.Context(), sub); err != nil {
		fail(w, service.NewInternal("internal_error", "failed to create subscription"))
		return
	}
	httputil.RespondData(w, http.StatusCreated, subscriptionWithSecret{WebhookSubscription: sub, Secret: secret})
}

// List handles GET /api/v1/webhooks.
func (h *Webhooks) List(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Read); err != nil {
		fail(w, err)
		return
	}

	page, limit, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, service.NewBadRequest("bad_request", err.Error()))
		return
	}

	subs, total, err := h.store.ListSubscriptions(r.Context(), principal.TenantID, page, limit)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "failed to list subscriptions"))
		return
	}
	httputil.RespondList(w, http.StatusOK, subs, httputil.NewMeta(total, page, limit))
}

// Get handles GET /api/v1/webhooks/{id}.
func (h *Webhooks) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Read); err != nil {
		fail(w, err)
		return
	}

	sub, err := h.loadSubscription(r)
	if err != nil {
		fail(w, err)
		return
	}
	httputil.RespondData(w, http.StatusOK, sub)
}

type updateSubscriptionRequest struct {
	URL    *string  `json:"url,omitempty"`
	Events []string `json:"events,omitempty"`
}

// Update handles PATCH /api/v1/webhooks/{id}.
func (h *Webhooks) Update(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errSubscriptionNotFound)
		return
	}

	var req updateSubscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.URL == nil && req.Events == nil {
		fail(w, service.NewBadRequest("bad_request", "nothing to update"))
		return
	}
	checkURL := ""
	if req.URL != nil {
		checkURL = *req.URL
	}
	if details := validateSubscriptionPartial(req.URL != nil, checkURL, req.Events); details != nil {
		fail(w, service.NewValidation("invalid subscription", details))
		return
	}

	if err := h.store.UpdateSubscription(r.Context(), principal.TenantID, id,
		store.SubscriptionUpdates{URL: req.URL, Events: req.Events}); err != nil {
		fail(w, mapSubErr(err))
		return
	}
	sub, err := h.store.GetSubscription(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapSubErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, sub)
}

type toggleRequest struct {
	Active *bool `json:"active"`
}

// Toggle handles POST /api/v1/webhooks/{id}/toggle. Setting the current state
// is a no-op; reactivation resets the failure counter.
func (h *Webhooks) Toggle(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errSubscriptionNotFound)
		return
	}

	var req toggleRequest
	if err := decodeJSON(r, &req); err != nil {
		fail(w, err)
		return
	}
	if req.Active == nil {
		fail(w, service.NewBadRequest("bad_request", "active field is required"))
		return
	}

	if err := h.store.SetSubscriptionActive(r.Context(), principal.TenantID, id, *req.Active); err != nil {
		fail(w, mapSubErr(err))
		return
	}
	sub, err := h.store.GetSubscription(r.Context(), principal.TenantID, id)
	if err != nil {
		fail(w, mapSubErr(err))
		return
	}
	httputil.RespondData(w, http.StatusOK, sub)
}

// Delete handles DELETE /api/v1/webhooks/{id}.
func (h *Webhooks) Delete(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Write); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errSubscriptionNotFound)
		return
	}
	if err := h.store.DeleteSubscription(r.Context(), principal.TenantID, id); err != nil {
		fail(w, mapSubErr(err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Test handles POST /api/v1/webhooks/{id}/test: a synchronous synthetic
// delivery whose result is returned to the caller and recorded nowhere.
func (h *Webhooks) Test(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Write); err != nil {
		fail(w, err)
		return
	}

	sub, err := h.loadSubscription(r)
	if err != nil {
		fail(w, err)
		return
	}

	result, err := h.dispatcher.SendTest(r.Context(), sub)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "test delivery failed to build"))
		return
	}
	httputil.RespondData(w, http.StatusOK, result)
}

// Deliveries handles GET /api/v1/webhooks/{id}/deliveries.
func (h *Webhooks) Deliveries(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	if err := principal.Authorize(scope.Webhooks, scope.Read); err != nil {
		fail(w, err)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		fail(w, errSubscriptionNotFound)
		return
	}
	page, limit, err := httputil.ParsePagination(r.URL.Query().Get("page"), r.URL.Query().Get("limit"))
	if err != nil {
		fail(w, service.NewBadRequest("bad_request", err.Error()))
		return
	}

	deliveries, total, err := h.store.ListDeliveries(r.Context(), principal.TenantID, id, page, limit)
	if err != nil {
		fail(w, mapSubErr(err))
		return
	}
	httputil.RespondList(w, http.StatusOK, deliveries, httputil.NewMeta(total, page, limit))
}

func (h *Webhooks) loadSubscription(r *http.Request) (*model.WebhookSubscription, error) {
	principal := middleware.GetAuthContext(r)
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, errSubscriptionNotFound
	}
	sub, err := h.store.GetSubscription(r.Context(), principal.TenantID, id)
	if err != nil {
		return nil, mapSubErr(err)
	}
	return sub, nil
}

var errSubscriptionNotFound = service.NewNotFound("not_found", "subscription not found")

func mapSubErr(err error) error {
	if err == store.ErrNotFound {
		return errSubscriptionNotFound
	}
	return service.NewInternal("internal_error", "storage operation failed")
}

func validateSubscription(rawURL string, events []string) map[string]any {
	details := map[string]any{}
	if u, err := url.Parse(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		details["url"] = "must be an absolute http or https URL"
	}
	if msg := validateEvents(events, true); msg != "" {
		details["events"] = msg
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

func validateSubscriptionPartial(hasURL bool, rawURL string, events []string) map[string]any {
	details := map[string]any{}
	if hasURL {
		if u, err := url.Parse(rawURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			details["url"] = "must be an absolute http or https URL"
		}
	}
	if events != nil {
		if msg := validateEvents(events, true); msg != "" {
			details["events"] = msg
		}
	}
	if len(details) == 0 {
		return nil
	}
	return details
}

// validateEvents checks event names against {singular}.{created|updated|deleted}
// for the registered entities.
func validateEvents(events []string, required bool) string {
	if len(events) == 0 {
		if required {
			return "at least one event is required"
		}
		return ""
	}
	valid := map[string]bool{}
	for _, e := range metadata.Entities() {
		for _, action := range []string{"created", "updated", "deleted"} {
			valid[e.Event(action)] = true
		}
	}
	for _, ev := range events {
		if !valid[ev] {
			return "unknown event " + ev
		}
	}
	return ""
}
