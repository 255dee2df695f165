// Package handler contains the HTTP handlers for every gateway operation:
// entity CRUD/bulk/search, metadata, and the management surface.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/crm-api-gateway/internal/service"
)

const maxBodyBytes = 1 << 20 // 1 MiB

// decodeJSON reads and decodes the request body. Malformed JSON and oversized
// bodies map to bad_request.
func decodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return service.NewBadRequest("bad_request", "failed to read request body")
	}
	if len(body) > maxBodyBytes {
		return service.NewBadRequest("bad_request", "request body too large")
	}
	if len(body) == 0 {
		return service.NewBadRequest("bad_request", "request body is required")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return service.NewBadRequest("bad_request", "malformed JSON body")
	}
	return nil
}

// fail logs unexpected errors before responding; domain errors pass through.
func fail(w http.ResponseWriter, err error) {
	var svcErr *service.Error
	if !errors.As(err, &svcErr) {
		log.Error().Err(err).Msg("handler error")
	}
	service.RespondError(w, err)
}
