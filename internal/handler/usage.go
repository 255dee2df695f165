package handler

import (
	"net/http"
	"time"

	"github.com/crm-api-gateway/internal/httputil"
	"github.com/crm-api-gateway/internal/middleware"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
)

// Usage reports the calling credential's rate-limit position.
type Usage struct {
	store store.UsageStore
}

func NewUsage(s store.UsageStore) *Usage {
	return &Usage{store: s}
}

type usageReport struct {
	RateLimitPerMinute int `json:"rate_limit_per_minute"`
	RateLimitPerDay    int `json:"rate_limit_per_day"`
	MinuteUsed         int `json:"minute_used"`
	MinuteRemaining    int `json:"minute_remaining"`
	DayUsed            int `json:"day_used"`
	DayRemaining       int `json:"day_remaining"`
}

// Get handles GET /api/v1/usage. Any authenticated credential may inspect its
// own usage; no entity scope is required.
func (h *Usage) Get(w http.ResponseWriter, r *http.Request) {
	principal := middleware.GetAuthContext(r)
	now := time.Now().UTC()

	minuteUsed, err := h.store.CountUsageSince(r.Context(), principal.CredentialID, now.Add(-time.Minute))
	if err != nil {
		fail(w, service.NewInternal("internal_error", "usage lookup failed"))
		return
	}
	dayUsed, err := h.store.CountUsageSince(r.Context(), principal.CredentialID, now.Add(-24*time.Hour))
	if err != nil {
		fail(w, service.NewInternal("internal_error", "usage lookup failed"))
		return
	}

	report := usageReport{
		RateLimitPerMinute: principal.PerMinute,
		RateLimitPerDay:    principal.PerDay,
		MinuteUsed:         minuteUsed,
		MinuteRemaining:    clampToZero(principal.PerMinute - minuteUsed),
		DayUsed:            dayUsed,
		DayRemaining:       clampToZero(principal.PerDay - dayUsed),
	}
	httputil.RespondData(w, http.StatusOK, report)
}

func clampToZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}
