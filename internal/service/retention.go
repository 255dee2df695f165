package service

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/crm-api-gateway/internal/store"
)

// RetentionJanitor deletes usage rows and webhook delivery records older than
// the retention window.
type RetentionJanitor struct {
	usage      store.UsageStore
	deliveries store.WebhookStore
	retention  time.Duration
	interval   time.Duration
}

func NewRetentionJanitor(usage store.UsageStore, deliveries store.WebhookStore, retentionDays int, interval time.Duration) *RetentionJanitor {
	return &RetentionJanitor{
		usage:      usage,
		deliveries: deliveries,
		retention:  time.Duration(retentionDays) * 24 * time.Hour,
		interval:   interval,
	}
}

// Run sweeps once at start and then on the interval, until ctx is canceled.
func (j *RetentionJanitor) Run(ctx context.Context) {
	j.sweep(ctx)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *RetentionJanitor) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-j.retention)

	usageDeleted, err := j.usage.DeleteUsageBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("usage retention sweep failed")
	}
	deliveriesDeleted, err := j.deliveries.DeleteDeliveriesBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("delivery retention sweep failed")
	}
	if usageDeleted > 0 || deliveriesDeleted > 0 {
		log.Info().
			Int64("usage_rows", usageDeleted).
			Int64("delivery_rows", deliveriesDeleted).
			Time("cutoff", cutoff).
			Msg("retention sweep")
	}
}
