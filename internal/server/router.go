// Package server wires the middleware pipeline and handlers into the HTTP
// surface.
package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crm-api-gateway/internal/auth"
	"github.com/crm-api-gateway/internal/handler"
	"github.com/crm-api-gateway/internal/middleware"
	"github.com/crm-api-gateway/internal/oauth"
	"github.com/crm-api-gateway/internal/ratelimit"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
	"github.com/crm-api-gateway/internal/webhook"
)

// Deps carries everything the router needs.
type Deps struct {
	Store         store.Store
	Authenticator *auth.Authenticator
	Limiter       *ratelimit.Limiter
	Dispatcher    *webhook.Dispatcher
	OAuth         *oauth.Service

	CORSOrigins      []string
	BulkAtomic       bool
	DefaultPerMinute int
	DefaultPerDay    int
}

// NewRouter builds the full route tree. Static segments under /api/v1
// (metadata, usage, keys, apps, webhooks) take precedence over the {entity}
// wildcard, so management routes can never collide with entity names.
func NewRouter(d Deps) chi.Router {
	entities := handler.NewEntity(d.Store, d.Dispatcher, d.BulkAtomic)
	meta := handler.NewMetadata()
	keys := handler.NewAPIKeys(d.Store, d.DefaultPerMinute, d.DefaultPerDay)
	apps := handler.NewApps(d.Store, d.OAuth)
	hooks := handler.NewWebhooks(d.Store, d.Dispatcher)
	usage := handler.NewUsage(d.Store)
	oauthH := handler.NewOAuth(d.OAuth)
	health := handler.NewHealth(d.Store.Ping)

	origins := d.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		service.RespondError(w, service.NewNotFound("not_found", "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		service.RespondError(w, service.NewMethodNotAllowed("method not allowed for this route"))
	})

	r.Get("/health", health.Get)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// OAuth endpoints take form bodies and no bearer credential.
	r.Route("/oauth", func(r chi.Router) {
		r.Get("/authorize", oauthH.Authorize)
		r.Post("/token", oauthH.Token)
		r.Post("/revoke", oauthH.Revoke)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.RequireJSON)
		r.Use(middleware.Metrics)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate(d.Authenticator))
			r.Use(middleware.RateLimit(d.Limiter))

			r.Get("/metadata", meta.List)
			r.Get("/metadata/{entity}", meta.Get)
			r.Get("/usage", usage.Get)

			r.Route("/keys", func(r chi.Router) {
				r.Post("/", keys.Create)
				r.Get("/", keys.List)
				r.Get("/{id}", keys.Get)
				r.Patch("/{id}", keys.Update)
				r.Delete("/{id}", keys.Delete)
				r.Post("/{id}/revoke", keys.Revoke)
				r.Post("/{id}/regenerate", keys.Regenerate)
			})

			r.Route("/apps", func(r chi.Router) {
				r.Post("/", apps.Create)
				r.Get("/", apps.List)
				r.Get("/{id}", apps.Get)
				r.Patch("/{id}", apps.Update)
				r.Post("/{id}/regenerate-secret", apps.RegenerateSecret)
			})

			r.Route("/webhooks", func(r chi.Router) {
				r.Post("/", hooks.Create)
				r.Get("/", hooks.List)
				r.Get("/{id}", hooks.Get)
				r.Patch("/{id}", hooks.Update)
				r.Delete("/{id}", hooks.Delete)
				r.Post("/{id}/toggle", hooks.Toggle)
				r.Post("/{id}/test", hooks.Test)
				r.Get("/{id}/deliveries", hooks.Deliveries)
			})
		})

		// Entity-name validation is syntactic and runs before any credential
		// is touched; an unknown entity 404s without consuming quota.
		r.Route("/{entity}", func(r chi.Router) {
			r.Use(middleware.ValidateEntity)
			r.Use(middleware.Authenticate(d.Authenticator))
			r.Use(middleware.RateLimit(d.Limiter))
			r.Get("/", entities.List)
			r.Post("/", entities.Create)
			r.Get("/search", entities.Search)
			r.Post("/bulk", entities.BulkCreate)
			r.Patch("/bulk", entities.BulkUpdate)
			r.Delete("/bulk", entities.BulkDelete)
			r.Get("/{id}", entities.Get)
			r.Patch("/{id}", entities.Update)
			r.Put("/{id}", entities.Update)
			r.Delete("/{id}", entities.Delete)
		})
	})

	return r
}
