package handler

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/httputil"
	"github.com/crm-api-gateway/internal/oauth"
	"github.com/crm-api-gateway/internal/service"
)

// OAuth serves the authorization-code flow endpoints. These sit outside the
// bearer-authenticated pipeline: /oauth/authorize trusts the authenticated
// user id forwarded by the fronting portal, and /oauth/token authenticates
// the client by its secret.
type OAuth struct {
	svc *oauth.Service
}

func NewOAuth(svc *oauth.Service) *OAuth {
	return &OAuth{svc: svc}
}

// UserHeader carries the portal-authenticated user on authorize requests.
const UserHeader = "X-Authenticated-User"

// Authorize handles GET /oauth/authorize. On success the browser is
// redirected back with ?code=...&state=... Client identification failures
// (unknown client, unregistered redirect URI, inactive application) are
// answered directly; anything else redirects back with an error parameter,
// per the OAuth error model.
func (h *OAuth) Authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := oauth.AuthorizeRequest{
		ClientID:     q.Get("client_id"),
		RedirectURI:  q.Get("redirect_uri"),
		ResponseType: q.Get("response_type"),
		Scope:        q.Get("scope"),
		State:        q.Get("state"),
	}

	userID, err := uuid.Parse(r.Header.Get(UserHeader))
	if err != nil {
		fail(w, service.NewUnauthorized("unauthorized", "authorize requires an authenticated user"))
		return
	}

	app, scopes, err := h.svc.ValidateAuthorizeRequest(r.Context(), req)
	if err != nil {
		if svcErr, ok := err.(*service.Error); ok {
			switch svcErr.Code {
			case "unknown_client", "redirect_uri_mismatch", "application_inactive":
				fail(w, err)
			default:
				// The redirect URI is trusted at this point; report there.
				redirectError(w, r, req.RedirectURI, svcErr.Code, req.State)
			}
			return
		}
		fail(w, err)
		return
	}

	code, err := h.svc.IssueCode(r.Context(), app, userID, req.RedirectURI, scopes)
	if err != nil {
		fail(w, service.NewInternal("internal_error", "code issuance failed"))
		return
	}

	dest, _ := url.Parse(req.RedirectURI)
	params := dest.Query()
	params.Set("code", code)
	if req.State != "" {
		params.Set("state", req.State)
	}
	dest.RawQuery = params.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// Token handles POST /oauth/token (form-encoded, per RFC 6749).
func (h *OAuth) Token(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		fail(w, service.NewBadRequest("invalid_request", "malformed form body"))
		return
	}

	clientID := r.PostFormValue("client_id")
	clientSecret := r.PostFormValue("client_secret")

	var resp *oauth.TokenResponse
	var err error
	switch r.PostFormValue("grant_type") {
	case "authorization_code":
		resp, err = h.svc.Exchange(r.Context(), clientID, clientSecret,
			r.PostFormValue("code"), r.PostFormValue("redirect_uri"))
	case "refresh_token":
		resp, err = h.svc.Refresh(r.Context(), clientID, clientSecret,
			r.PostFormValue("refresh_token"))
	default:
		err = service.NewBadRequest("unsupported_grant_type", "grant_type must be authorization_code or refresh_token")
	}
	if err != nil {
		fail(w, err)
		return
	}

	// Token responses are the bare RFC shape, not the data envelope.
	w.Header().Set("Cache-Control", "no-store")
	httputil.RespondJSON(w, http.StatusOK, resp)
}

// Revoke handles POST /oauth/revoke (RFC 7009): always 200 once the client
// authenticates, whether or not the token was known.
func (h *OAuth) Revoke(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		fail(w, service.NewBadRequest("invalid_request", "malformed form body"))
		return
	}

	err := h.svc.Revoke(r.Context(),
		r.PostFormValue("client_id"), r.PostFormValue("client_secret"), r.PostFormValue("token"))
	if err != nil {
		fail(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func redirectError(w http.ResponseWriter, r *http.Request, redirectURI, code, state string) {
	dest, err := url.Parse(redirectURI)
	if err != nil {
		fail(w, service.NewBadRequest(code, "authorization request rejected"))
		return
	}
	params := dest.Query()
	params.Set("error", code)
	if state != "" {
		params.Set("state", state)
	}
	dest.RawQuery = params.Encode()
	http.Redirect(w, r, dest.String(), http.StatusFound)
}
