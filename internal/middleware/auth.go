package middleware

import (
	"context"
	"net/http"

	"github.com/crm-api-gateway/internal/auth"
	"github.com/crm-api-gateway/internal/service"
)

type contextKey int

const authContextKey contextKey = iota

// Authenticate resolves the Authorization header and stores the principal on
// the request context. Unauthenticated requests are rejected before any
// tenant data is touched.
func Authenticate(a *auth.Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := a.Authenticate(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				service.RespondError(w, err)
				return
			}
			ctx := context.WithValue(r.Context(), authContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetAuthContext returns the principal stored by Authenticate. It panics when
// called outside an authenticated route, which is a routing bug.
func GetAuthContext(r *http.Request) *auth.Context {
	principal, ok := r.Context().Value(authContextKey).(*auth.Context)
	if !ok {
		panic("auth context missing: handler mounted outside the authenticated subtree")
	}
	return principal
}
