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

func (p *Postgres) CreateAPIKey(ctx context.Context, key *model.APIKey) error {
	scopes, err := json.Marshal(key.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO api_keys (
			tenant_id, actor_id, name, key_hash, key_prefix, scopes,
			rate_limit_per_minute, rate_limit_per_day, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`,
		key.TenantID, key.ActorID, key.Name, key.KeyHash, key.KeyPrefix, scopes,
		key.RateLimitPerMinute, key.RateLimitPerDay, key.ExpiresAt,
	).Scan(&key.ID, &key.CreatedAt, &key.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert api_key: %w", err)
	}
	return nil
}

const apiKeyColumns = `id, tenant_id, actor_id, name, key_hash, key_prefix, scopes,
	rate_limit_per_minute, rate_limit_per_day,
	expires_at, revoked_at, last_used_at, created_at, updated_at`

func (p *Postgres) GetAPIKeyByHash(ctx context.Context, keyHash string) (*model.APIKey, error) {
	return p.scanAPIKey(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE key_hash = $1`, keyHash)
}

func (p *Postgres) GetAPIKeyByID(ctx context.Context, tenantID, id uuid.UUID) (*model.APIKey, error) {
	return p.scanAPIKey(ctx, `SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (p *Postgres) ListAPIKeys(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*model.APIKey, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM api_keys WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count api_keys: %w", err)
	}

	offset := (page - 1) * limit
	rows, err := p.pool.Query(ctx, `
		SELECT `+apiKeyColumns+` FROM api_keys WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list api_keys: %w", err)
	}
	defer rows.Close()

	var keys []*model.APIKey
	for rows.Next() {
		key, err := scanAPIKeyFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		keys = append(keys, key)
	}
	return keys, total, rows.Err()
}

func (p *Postgres) UpdateAPIKey(ctx context.Context, tenantID, id uuid.UUID, updates APIKeyUpdates) error {
	setClauses := []string{}
	args := []any{}
	argIdx := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *updates.Name)
		argIdx++
	}
	if updates.Scopes != nil {
		scopes, err := json.Marshal(updates.Scopes)
		if err != nil {
			return fmt.Errorf("marshal scopes: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("scopes = $%d", argIdx))
		args = append(args, scopes)
		argIdx++
	}
	if updates.RateLimitPerMinute != nil {
		setClauses = append(setClauses, fmt.Sprintf("rate_limit_per_minute = $%d", argIdx))
		args = append(args, *updates.RateLimitPerMinute)
		argIdx++
	}
	if updates.RateLimitPerDay != nil {
		setClauses = append(setClauses, fmt.Sprintf("rate_limit_per_day = $%d", argIdx))
		args = append(args, *updates.RateLimitPerDay)
		argIdx++
	}
	if updates.ExpiresAt != nil {
		setClauses = append(setClauses, fmt.Sprintf("expires_at = $%d", argIdx))
		args = append(args, *updates.ExpiresAt)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, tenantID, id)

	query := fmt.Sprintf("UPDATE api_keys SET %s WHERE tenant_id = $%d AND id = $%d",
		strings.Join(setClauses, ", "), argIdx, argIdx+1)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update api_key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RevokeAPIKey(ctx context.Context, tenantID, id uuid.UUID, at time.Time) error {
	// Idempotent: revoking an already-revoked key keeps the original stamp.
	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = COALESCE(revoked_at, $1), updated_at = NOW()
		WHERE tenant_id = $2 AND id = $3
	`, at, tenantID, id)
	if err != nil {
		return fmt.Errorf("revoke api_key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RegenerateAPIKey(ctx context.Context, tenantID, id uuid.UUID, keyHash, keyPrefix string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE api_keys SET key_hash = $1, key_prefix = $2, updated_at = NOW()
		WHERE tenant_id = $3 AND id = $4
	`, keyHash, keyPrefix, tenantID, id)
	if err != nil {
		return fmt.Errorf("regenerate api_key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) DeleteAPIKey(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `DELETE FROM api_keys WHERE tenant_id = $1 AND id = $2`, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete api_key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) TouchAPIKey(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch api_key: %w", err)
	}
	return nil
}

func (p *Postgres) scanAPIKey(ctx context.Context, query string, args ...any) (*model.APIKey, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query api_key: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanAPIKeyFromRow(rows)
}

func scanAPIKeyFromRow(rows pgx.Rows) (*model.APIKey, error) {
	var key model.APIKey
	var scopesJSON []byte

	err := rows.Scan(
		&key.ID, &key.TenantID, &key.ActorID, &key.Name, &key.KeyHash, &key.KeyPrefix,
		&scopesJSON,
		&key.RateLimitPerMinute, &key.RateLimitPerDay,
		&key.ExpiresAt, &key.RevokedAt, &key.LastUsedAt, &key.CreatedAt, &key.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan api_key: %w", err)
	}

	if err := json.Unmarshal(scopesJSON, &key.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}

	return &key, nil
}
