package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/crm-api-gateway/internal/model"
)

func (p *Postgres) CreateSubscription(ctx context.Context, sub *model.WebhookSubscription) error {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("marshal events: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO webhook_subscriptions (tenant_id, url, secret, events, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`, sub.TenantID, sub.URL, sub.Secret, events, sub.Active).
		Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook_subscription: %w", err)
	}
	return nil
}

const subscriptionColumns = `id, tenant_id, url, secret, events, active,
	failure_count, last_triggered_at, created_at, updated_at`

func (p *Postgres) GetSubscription(ctx context.Context, tenantID, id uuid.UUID) (*model.WebhookSubscription, error) {
	return p.scanSubscription(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (p *Postgres) GetSubscriptionAny(ctx context.Context, id uuid.UUID) (*model.WebhookSubscription, error) {
	return p.scanSubscription(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
}

func (p *Postgres) ListSubscriptions(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*model.WebhookSubscription, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_subscriptions WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count webhook_subscriptions: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, tenantID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook_subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscriptionFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		subs = append(subs, sub)
	}
	return subs, total, rows.Err()
}

func (p *Postgres) ListActiveSubscriptions(ctx context.Context, tenantID uuid.UUID, event string) ([]*model.WebhookSubscription, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+subscriptionColumns+` FROM webhook_subscriptions
		WHERE tenant_id = $1 AND active AND events @> $2
		ORDER BY created_at
	`, tenantID, fmt.Sprintf(`["%s"]`, event))
	if err != nil {
		return nil, fmt.Errorf("list active webhook_subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []*model.WebhookSubscription
	for rows.Next() {
		sub, err := scanSubscriptionFromRow(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

func (p *Postgres) UpdateSubscription(ctx context.Context, tenantID, id uuid.UUID, updates SubscriptionUpdates) error {
	setClauses := []string{}
	args := []any{}
	argIdx := 1

	if updates.URL != nil {
		setClauses = append(setClauses, fmt.Sprintf("url = $%d", argIdx))
		args = append(args, *updates.URL)
		argIdx++
	}
	if updates.Events != nil {
		events, err := json.Marshal(updates.Events)
		if err != nil {
			return fmt.Errorf("marshal events: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("events = $%d", argIdx))
		args = append(args, events)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, tenantID, id)

	query := fmt.Sprintf("UPDATE webhook_subscriptions SET %s WHERE tenant_id = $%d AND id = $%d",
		strings.Join(setClauses, ", "), argIdx, argIdx+1)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update webhook_subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetSubscriptionActive(ctx context.Context, tenantID, id uuid.UUID, active bool) error {
	// The inactive→active transition resets the failure counter; setting the
	// current state changes nothing.
	tag, err := p.pool.Exec(ctx, `
		UPDATE webhook_subscriptions
		SET failure_count = CASE WHEN NOT active AND $1 THEN 0 ELSE failure_count END,
		    updated_at = CASE WHEN active <> $1 THEN NOW() ELSE updated_at END,
		    active = $1
		WHERE tenant_id = $2 AND id = $3
	`, active, tenantID, id)
	if err != nil {
		return fmt.Errorf("set webhook_subscription active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteSubscription(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM webhook_subscriptions WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete webhook_subscription: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) scanSubscription(ctx context.Context, query string, args ...any) (*model.WebhookSubscription, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query webhook_subscription: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanSubscriptionFromRow(rows)
}

func scanSubscriptionFromRow(rows pgx.Rows) (*model.WebhookSubscription, error) {
	var sub model.WebhookSubscription
	var eventsJSON []byte

	err := rows.Scan(
		&sub.ID, &sub.TenantID, &sub.URL, &sub.Secret, &eventsJSON, &sub.Active,
		&sub.FailureCount, &sub.LastTriggeredAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan webhook_subscription: %w", err)
	}
	if err := json.Unmarshal(eventsJSON, &sub.Events); err != nil {
		return nil, fmt.Errorf("unmarshal events: %w", err)
	}
	return &sub, nil
}

// --- Delivery attempts ---

func (p *Postgres) RecordDelivery(ctx context.Context, d *model.WebhookDelivery) error {
	err := p.pool.QueryRow(ctx, `
		INSERT INTO webhook_deliveries (
			subscription_id, event_id, event_type, payload, outcome,
			status_code, error, latency_ms, attempt
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at
	`,
		d.SubscriptionID, d.EventID, d.EventType, []byte(d.Payload), d.Outcome,
		d.StatusCode, d.Error, d.LatencyMS, d.Attempt,
	).Scan(&d.ID, &d.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert webhook_delivery: %w", err)
	}
	return nil
}

func (p *Postgres) MarkDeliveryResult(ctx context.Context, subscriptionID uuid.UUID, success bool, at time.Time) error {
	var err error
	if success {
		_, err = p.pool.Exec(ctx, `
			UPDATE webhook_subscriptions
			SET failure_count = 0, last_triggered_at = $1, updated_at = NOW()
			WHERE id = $2
		`, at, subscriptionID)
	} else {
		_, err = p.pool.Exec(ctx, `
			UPDATE webhook_subscriptions
			SET failure_count = failure_count + 1, updated_at = NOW()
			WHERE id = $1
		`, subscriptionID)
	}
	if err != nil {
		return fmt.Errorf("mark delivery result: %w", err)
	}
	return nil
}

const deliveryColumns = `d.id, d.subscription_id, d.event_id, d.event_type, d.payload,
	d.outcome, d.status_code, d.error, d.latency_ms, d.attempt, d.created_at`

func (p *Postgres) ListDeliveries(ctx context.Context, tenantID, subscriptionID uuid.UUID, page, limit int) ([]*model.WebhookDelivery, int, error) {
	var total int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM webhook_deliveries d
		JOIN webhook_subscriptions s ON s.id = d.subscription_id
		WHERE s.tenant_id = $1 AND d.subscription_id = $2
	`, tenantID, subscriptionID).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count webhook_deliveries: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM webhook_deliveries d
		JOIN webhook_subscriptions s ON s.id = d.subscription_id
		WHERE s.tenant_id = $1 AND d.subscription_id = $2
		ORDER BY d.created_at DESC LIMIT $3 OFFSET $4
	`, tenantID, subscriptionID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list webhook_deliveries: %w", err)
	}
	defer rows.Close()

	deliveries, err := scanDeliveries(rows)
	if err != nil {
		return nil, 0, err
	}
	return deliveries, total, nil
}

func (p *Postgres) ListRetryableDeliveries(ctx context.Context, maxAttempts, limit int) ([]*model.WebhookDelivery, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+deliveryColumns+` FROM (
			SELECT DISTINCT ON (event_id, subscription_id) *
			FROM webhook_deliveries
			ORDER BY event_id, subscription_id, attempt DESC
		) d
		WHERE d.outcome = 'failed' AND d.attempt < $1
		ORDER BY d.created_at
		LIMIT $2
	`, maxAttempts, limit)
	if err != nil {
		return nil, fmt.Errorf("list retryable webhook_deliveries: %w", err)
	}
	defer rows.Close()

	return scanDeliveries(rows)
}

func (p *Postgres) DeleteDeliveriesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM webhook_deliveries WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete webhook_deliveries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanDeliveries(rows pgx.Rows) ([]*model.WebhookDelivery, error) {
	var out []*model.WebhookDelivery
	for rows.Next() {
		var d model.WebhookDelivery
		var payload []byte
		err := rows.Scan(
			&d.ID, &d.SubscriptionID, &d.EventID, &d.EventType, &payload,
			&d.Outcome, &d.StatusCode, &d.Error, &d.LatencyMS, &d.Attempt, &d.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan webhook_delivery: %w", err)
		}
		d.Payload = payload
		out = append(out, &d)
	}
	return out, rows.Err()
}
