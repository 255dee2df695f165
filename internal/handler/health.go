package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/crm-api-gateway/internal/httputil"
)

// Health reports process liveness and storage reachability.
type Health struct {
	ping func(ctx context.Context) error
}

func NewHealth(ping func(ctx context.Context) error) *Health {
	return &Health{ping: ping}
}

// Get handles GET /health.
func (h *Health) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "ok"
	code := http.StatusOK
	if err := h.ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}
	httputil.RespondJSON(w, code, map[string]string{"status": status})
}
