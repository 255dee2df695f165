package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/crm-api-gateway/internal/metrics"
	"github.com/crm-api-gateway/internal/ratelimit"
	"github.com/crm-api-gateway/internal/service"
	"github.com/crm-api-gateway/internal/store"
)

// RateLimit admits the request against the caller's sliding windows. Every
// authenticated response carries X-RateLimit-* headers; denials get 429 with
// Retry-After. Admitted requests have their usage row completed with the
// final status and latency once the handler returns.
func RateLimit(limiter *ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := GetAuthContext(r)

			decision, err := limiter.CheckAndRecord(r.Context(), store.AdmitParams{
				CredentialID: principal.CredentialID,
				TenantID:     principal.TenantID,
				Endpoint:     r.URL.Path,
				Method:       r.Method,
				PerMinute:    principal.PerMinute,
				PerDay:       principal.PerDay,
			})
			if err != nil {
				service.RespondError(w, service.NewUnavailable("internal_error", "rate limiter unavailable"))
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

			if !decision.Allowed {
				window := "minute"
				if decision.DeniedBy == store.DeniedDay {
					window = "day"
				}
				metrics.RateLimitDenials.WithLabelValues(window).Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(decision.RetryAfter.Seconds())))
				service.RespondError(w, service.NewRateLimited("rate limit exceeded"))
				return
			}

			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				// Detached from the request context: a client disconnect must
				// not lose the usage row's completion.
				limiter.Finish(context.WithoutCancel(r.Context()), decision.UsageID, ww.Status(), time.Since(start))
			}()
			next.ServeHTTP(ww, r)
		})
	}
}
