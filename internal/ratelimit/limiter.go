// Package ratelimit enforces per-credential sliding windows over the usage
// log. Both the per-minute and per-day windows are checked in a single
// atomic store operation, so concurrent requests cannot oversubscribe a
// credential.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crm-api-gateway/internal/store"
)

// Decision is the outcome of one admission attempt.
type Decision struct {
	Allowed    bool
	Limit      int                // per-minute cap, reported in X-RateLimit-Limit
	Remaining  int                // requests left in the minute window
	DeniedBy   store.DeniedWindow // which window rejected, when denied
	RetryAfter time.Duration      // only set when denied
	ResetAt    time.Time          // when the governing window resets
	UsageID    uuid.UUID          // usage row to finish after the response, zero when denied
}

type Limiter struct {
	store    store.UsageStore
	failOpen bool
	now      func() time.Time
}

func New(s store.UsageStore, failOpen bool) *Limiter {
	return &Limiter{store: s, failOpen: failOpen, now: func() time.Time { return time.Now().UTC() }}
}

// CheckAndRecord admits or denies the request. An admitted request is already
// counted against both windows when this returns; denied requests leave no
// trace in the log.
func (l *Limiter) CheckAndRecord(ctx context.Context, p store.AdmitParams) (Decision, error) {
	p.Now = l.now()

	res, err := l.store.AdmitUsage(ctx, p)
	if err != nil {
		if l.failOpen {
			log.Error().Err(err).
				Str("credential_id", p.CredentialID.String()).
				Msg("rate limit admission failed, allowing request")
			return Decision{Allowed: true, Limit: p.PerMinute, ResetAt: p.Now.Add(time.Minute)}, nil
		}
		return Decision{}, err
	}

	d := Decision{Limit: p.PerMinute, ResetAt: p.Now.Add(time.Minute)}
	if !res.Allowed {
		d.DeniedBy = res.DeniedBy
		switch res.DeniedBy {
		case store.DeniedDay:
			d.RetryAfter = untilNextUTCMidnight(p.Now)
		default:
			d.RetryAfter = time.Minute
		}
		d.ResetAt = p.Now.Add(d.RetryAfter)
		return d, nil
	}

	d.Allowed = true
	d.UsageID = res.UsageID
	// Counts are taken before the admitted request is appended.
	d.Remaining = p.PerMinute - res.MinuteCount - 1
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	return d, nil
}

// Finish completes an admitted request's usage row with the response status
// and latency. Best effort; errors are logged, not propagated.
func (l *Limiter) Finish(ctx context.Context, usageID uuid.UUID, statusCode int, latency time.Duration) {
	if usageID == uuid.Nil {
		return
	}
	if err := l.store.FinishUsage(ctx, usageID, statusCode, latency.Milliseconds()); err != nil {
		log.Warn().Err(err).Str("usage_id", usageID.String()).Msg("finish usage row failed")
	}
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	next := now.UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	return next.Sub(now)
}
