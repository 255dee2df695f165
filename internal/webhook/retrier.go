package webhook

import (
	"context"
	"math/rand"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crm-api-gateway/internal/store"
)

const sweepBatchSize = 100

// Retrier periodically re-delivers failed webhook attempts. Each event gets
// exponential backoff between attempts, with jitter so retries for a burst of
// failures do not land at once.
type Retrier struct {
	store       store.WebhookStore
	dispatcher  *Dispatcher
	interval    time.Duration
	maxAttempts int
	baseBackoff time.Duration
}

func NewRetrier(s store.WebhookStore, d *Dispatcher, interval time.Duration, maxAttempts int) *Retrier {
	return &Retrier{
		store:       s,
		dispatcher:  d,
		interval:    interval,
		maxAttempts: maxAttempts,
		baseBackoff: interval,
	}
}

// Run sweeps on the configured interval until the context is canceled.
func (r *Retrier) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Retrier) sweep(ctx context.Context) {
	failed, err := r.store.ListRetryableDeliveries(ctx, r.maxAttempts, sweepBatchSize)
	if err != nil {
		log.Error().Err(err).Msg("list retryable webhook deliveries failed")
		return
	}

	now := time.Now().UTC()
	for _, prev := range failed {
		if now.Sub(prev.CreatedAt) < r.backoff(prev.Attempt) {
			continue
		}

		sub, err := r.store.GetSubscriptionAny(ctx, prev.SubscriptionID)
		if err != nil {
			if err != store.ErrNotFound {
				log.Error().Err(err).Str("subscription_id", prev.SubscriptionID.String()).Msg("load subscription for retry failed")
			}
			continue
		}
		if !sub.Active {
			continue
		}
		r.dispatcher.Redeliver(sub, prev)
	}
}

// backoff returns the wait after the given attempt: base doubled per attempt,
// jittered by up to a tenth either way.
func (r *Retrier) backoff(attempt int) time.Duration {
	d := r.baseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	jitter := time.Duration(rand.Int63n(int64(d)/5+1)) - d/10
	return d + jitter
}
