package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (p *Postgres) AdmitUsage(ctx context.Context, params AdmitParams) (AdmitResult, error) {
	var res AdmitResult

	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("begin admit tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize admissions per credential so two concurrent requests at the
	// window boundary can't both pass the count check.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, params.CredentialID); err != nil {
		return res, fmt.Errorf("acquire admission lock: %w", err)
	}

	err = tx.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE created_at > $2),
			COUNT(*)
		FROM api_usage
		WHERE credential_id = $1 AND created_at > $3
	`, params.CredentialID, params.Now.Add(-time.Minute), params.Now.Add(-24*time.Hour)).
		Scan(&res.MinuteCount, &res.DayCount)
	if err != nil {
		return res, fmt.Errorf("count usage windows: %w", err)
	}

	switch {
	case res.MinuteCount >= params.PerMinute:
		res.DeniedBy = DeniedMinute
		return res, tx.Commit(ctx)
	case res.DayCount >= params.PerDay:
		res.DeniedBy = DeniedDay
		return res, tx.Commit(ctx)
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO api_usage (credential_id, tenant_id, endpoint, method, status_code, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, 0, 0, $5)
		RETURNING id
	`, params.CredentialID, params.TenantID, params.Endpoint, params.Method, params.Now).Scan(&res.UsageID)
	if err != nil {
		return res, fmt.Errorf("insert usage record: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("commit admit tx: %w", err)
	}

	res.Allowed = true
	return res, nil
}

func (p *Postgres) FinishUsage(ctx context.Context, id uuid.UUID, statusCode int, latencyMS int64) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE api_usage SET status_code = $1, latency_ms = $2 WHERE id = $3
	`, statusCode, latencyMS, id)
	if err != nil {
		return fmt.Errorf("finish usage record: %w", err)
	}
	return nil
}

func (p *Postgres) CountUsageSince(ctx context.Context, credentialID uuid.UUID, since time.Time) (int, error) {
	var count int
	err := p.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM api_usage WHERE credential_id = $1 AND created_at > $2
	`, credentialID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count usage: %w", err)
	}
	return count, nil
}

func (p *Postgres) DeleteUsageBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM api_usage WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete usage records: %w", err)
	}
	return tag.RowsAffected(), nil
}
