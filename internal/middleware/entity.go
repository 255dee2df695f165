package middleware

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crm-api-gateway/internal/metadata"
	"github.com/crm-api-gateway/internal/service"
)

const entityContextKey contextKey = iota + 100

// ValidateEntity resolves the {entity} path segment against the fixed
// allow-list and stores the metadata on the context. Unknown entity names
// 404 before any tenant data is touched.
func ValidateEntity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "entity")
		meta, ok := metadata.Lookup(name)
		if !ok {
			service.RespondError(w, service.NewNotFound("not_found", "unknown entity type"))
			return
		}
		ctx := context.WithValue(r.Context(), entityContextKey, meta)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetEntity returns the entity metadata stored by ValidateEntity.
func GetEntity(r *http.Request) *metadata.Entity {
	meta, ok := r.Context().Value(entityContextKey).(*metadata.Entity)
	if !ok {
		panic("entity metadata missing: handler mounted outside the entity subtree")
	}
	return meta
}
