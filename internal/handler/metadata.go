package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/crm-api-gateway/internal/httputil"
	"github.com/crm-api-gateway/internal/metadata"
	"github.com/crm-api-gateway/internal/service"
)

// Metadata serves the entity schema registry. Any authenticated credential
// may read it; no entity scope is required.
type Metadata struct{}

func NewMetadata() *Metadata { return &Metadata{} }

// List handles GET /api/v1/metadata.
func (h *Metadata) List(w http.ResponseWriter, r *http.Request) {
	httputil.RespondData(w, http.StatusOK, metadata.Entities())
}

// Get handles GET /api/v1/metadata/{entity}.
func (h *Metadata) Get(w http.ResponseWriter, r *http.Request) {
	meta, ok := metadata.Lookup(chi.URLParam(r, "entity"))
	if !ok {
		fail(w, service.NewNotFound("not_found", "unknown entity type"))
		return
	}
	httputil.RespondData(w, http.StatusOK, meta)
}
