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

// --- Applications ---

func (p *Postgres) CreateApplication(ctx context.Context, app *model.OAuthApplication) error {
	uris, err := json.Marshal(app.RedirectURIs)
	if err != nil {
		return fmt.Errorf("marshal redirect_uris: %w", err)
	}
	scopes, err := json.Marshal(app.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO oauth_applications (
			tenant_id, name, description, client_id, client_secret_hash,
			client_secret_prefix, redirect_uris, scopes, active
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`,
		app.TenantID, app.Name, app.Description, app.ClientID, app.ClientSecretHash,
		app.ClientSecretPrefix, uris, scopes, app.Active,
	).Scan(&app.ID, &app.CreatedAt, &app.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert oauth_application: %w", err)
	}
	return nil
}

const appColumns = `id, tenant_id, name, description, client_id, client_secret_hash,
	client_secret_prefix, redirect_uris, scopes, active, created_at, updated_at`

func (p *Postgres) GetApplicationByClientID(ctx context.Context, clientID string) (*model.OAuthApplication, error) {
	return p.scanApplication(ctx, `SELECT `+appColumns+` FROM oauth_applications WHERE client_id = $1`, clientID)
}

func (p *Postgres) GetApplicationByID(ctx context.Context, tenantID, id uuid.UUID) (*model.OAuthApplication, error) {
	return p.scanApplication(ctx, `SELECT `+appColumns+` FROM oauth_applications WHERE tenant_id = $1 AND id = $2`, tenantID, id)
}

func (p *Postgres) ListApplications(ctx context.Context, tenantID uuid.UUID, page, limit int) ([]*model.OAuthApplication, int, error) {
	var total int
	if err := p.pool.QueryRow(ctx, `SELECT COUNT(*) FROM oauth_applications WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count oauth_applications: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		SELECT `+appColumns+` FROM oauth_applications WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3
	`, tenantID, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list oauth_applications: %w", err)
	}
	defer rows.Close()

	var apps []*model.OAuthApplication
	for rows.Next() {
		app, err := scanApplicationFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		apps = append(apps, app)
	}
	return apps, total, rows.Err()
}

func (p *Postgres) UpdateApplication(ctx context.Context, tenantID, id uuid.UUID, updates ApplicationUpdates) error {
	setClauses := []string{}
	args := []any{}
	argIdx := 1

	if updates.Name != nil {
		setClauses = append(setClauses, fmt.Sprintf("name = $%d", argIdx))
		args = append(args, *updates.Name)
		argIdx++
	}
	if updates.Description != nil {
		setClauses = append(setClauses, fmt.Sprintf("description = $%d", argIdx))
		args = append(args, *updates.Description)
		argIdx++
	}
	if updates.RedirectURIs != nil {
		uris, err := json.Marshal(updates.RedirectURIs)
		if err != nil {
			return fmt.Errorf("marshal redirect_uris: %w", err)
		}
		setClauses = append(setClauses, fmt.Sprintf("redirect_uris = $%d", argIdx))
		args = append(args, uris)
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
	if updates.Active != nil {
		setClauses = append(setClauses, fmt.Sprintf("active = $%d", argIdx))
		args = append(args, *updates.Active)
		argIdx++
	}

	if len(setClauses) == 0 {
		return nil
	}

	setClauses = append(setClauses, "updated_at = NOW()")
	args = append(args, tenantID, id)

	query := fmt.Sprintf("UPDATE oauth_applications SET %s WHERE tenant_id = $%d AND id = $%d",
		strings.Join(setClauses, ", "), argIdx, argIdx+1)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update oauth_application: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) SetApplicationSecret(ctx context.Context, tenantID, id uuid.UUID, secretHash, secretPrefix string) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE oauth_applications SET client_secret_hash = $1, client_secret_prefix = $2, updated_at = NOW()
		WHERE tenant_id = $3 AND id = $4
	`, secretHash, secretPrefix, tenantID, id)
	if err != nil {
		return fmt.Errorf("set application secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) scanApplication(ctx context.Context, query string, args ...any) (*model.OAuthApplication, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query oauth_application: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanApplicationFromRow(rows)
}

func scanApplicationFromRow(rows pgx.Rows) (*model.OAuthApplication, error) {
	var app model.OAuthApplication
	var urisJSON, scopesJSON []byte

	err := rows.Scan(
		&app.ID, &app.TenantID, &app.Name, &app.Description, &app.ClientID,
		&app.ClientSecretHash, &app.ClientSecretPrefix,
		&urisJSON, &scopesJSON, &app.Active, &app.CreatedAt, &app.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan oauth_application: %w", err)
	}

	if err := json.Unmarshal(urisJSON, &app.RedirectURIs); err != nil {
		return nil, fmt.Errorf("unmarshal redirect_uris: %w", err)
	}
	if err := json.Unmarshal(scopesJSON, &app.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}

	return &app, nil
}

// --- Authorization codes ---

func (p *Postgres) CreateAuthorizationCode(ctx context.Context, code *model.AuthorizationCode) error {
	scopes, err := json.Marshal(code.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO authorization_codes (
			application_id, tenant_id, user_id, code_hash, redirect_uri, scopes, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`,
		code.ApplicationID, code.TenantID, code.UserID, code.CodeHash,
		code.RedirectURI, scopes, code.ExpiresAt,
	).Scan(&code.ID, &code.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert authorization_code: %w", err)
	}
	return nil
}

func (p *Postgres) ConsumeAuthorizationCode(ctx context.Context, codeHash string, now time.Time) (*model.AuthorizationCode, error) {
	// Single conditional UPDATE so concurrent exchanges can't both win.
	var code model.AuthorizationCode
	var scopesJSON []byte
	err := p.pool.QueryRow(ctx, `
		UPDATE authorization_codes SET used_at = $2
		WHERE code_hash = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING id, application_id, tenant_id, user_id, code_hash, redirect_uri,
		          scopes, expires_at, used_at, created_at
	`, codeHash, now).Scan(
		&code.ID, &code.ApplicationID, &code.TenantID, &code.UserID, &code.CodeHash,
		&code.RedirectURI, &scopesJSON, &code.ExpiresAt, &code.UsedAt, &code.CreatedAt,
	)
	if err == nil {
		if err := json.Unmarshal(scopesJSON, &code.Scopes); err != nil {
			return nil, fmt.Errorf("unmarshal scopes: %w", err)
		}
		return &code, nil
	}
	if err != pgx.ErrNoRows {
		return nil, fmt.Errorf("consume authorization_code: %w", err)
	}

	// Distinguish used vs expired vs unknown for the error taxonomy.
	var usedAt *time.Time
	var expiresAt time.Time
	err = p.pool.QueryRow(ctx, `
		SELECT used_at, expires_at FROM authorization_codes WHERE code_hash = $1
	`, codeHash).Scan(&usedAt, &expiresAt)
	if err != nil {
		return nil, mapNoRows(err)
	}
	if usedAt != nil {
		return nil, ErrCodeUsed
	}
	return nil, ErrCodeExpired
}

// --- Token pairs ---

func (p *Postgres) CreateToken(ctx context.Context, token *model.OAuthToken) error {
	scopes, err := json.Marshal(token.Scopes)
	if err != nil {
		return fmt.Errorf("marshal scopes: %w", err)
	}

	err = p.pool.QueryRow(ctx, `
		INSERT INTO oauth_tokens (
			application_id, tenant_id, user_id, access_token_hash, access_token_prefix,
			refresh_token_hash, scopes, access_expires_at, refresh_expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`,
		token.ApplicationID, token.TenantID, token.UserID,
		token.AccessTokenHash, token.AccessTokenPrefix, token.RefreshTokenHash,
		scopes, token.AccessExpiresAt, token.RefreshExpiresAt,
	).Scan(&token.ID, &token.CreatedAt, &token.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert oauth_token: %w", err)
	}
	return nil
}

const tokenColumns = `id, application_id, tenant_id, user_id, access_token_hash,
	access_token_prefix, refresh_token_hash, scopes,
	access_expires_at, refresh_expires_at, revoked_at, last_used_at, created_at, updated_at`

func (p *Postgres) GetTokenByAccessHash(ctx context.Context, hash string) (*model.OAuthToken, error) {
	return p.scanToken(ctx, `SELECT `+tokenColumns+` FROM oauth_tokens WHERE access_token_hash = $1`, hash)
}

func (p *Postgres) GetTokenByRefreshHash(ctx context.Context, hash string) (*model.OAuthToken, error) {
	return p.scanToken(ctx, `SELECT `+tokenColumns+` FROM oauth_tokens WHERE refresh_token_hash = $1`, hash)
}

func (p *Postgres) RotateAccessToken(ctx context.Context, id uuid.UUID, accessHash, accessPrefix string, expiresAt time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE oauth_tokens SET access_token_hash = $1, access_token_prefix = $2,
		       access_expires_at = $3, updated_at = NOW()
		WHERE id = $4
	`, accessHash, accessPrefix, expiresAt, id)
	if err != nil {
		return fmt.Errorf("rotate access token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RevokeToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := p.pool.Exec(ctx, `
		UPDATE oauth_tokens SET revoked_at = COALESCE(revoked_at, $1), updated_at = NOW() WHERE id = $2
	`, at, id)
	if err != nil {
		return fmt.Errorf("revoke oauth_token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) RevokeApplicationTokens(ctx context.Context, applicationID uuid.UUID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE oauth_tokens SET revoked_at = $1, updated_at = NOW()
		WHERE application_id = $2 AND revoked_at IS NULL
	`, at, applicationID)
	if err != nil {
		return fmt.Errorf("revoke application tokens: %w", err)
	}
	return nil
}

func (p *Postgres) TouchToken(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := p.pool.Exec(ctx, `UPDATE oauth_tokens SET last_used_at = $1 WHERE id = $2`, at, id)
	if err != nil {
		return fmt.Errorf("touch oauth_token: %w", err)
	}
	return nil
}

func (p *Postgres) scanToken(ctx context.Context, query string, args ...any) (*model.OAuthToken, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query oauth_token: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}

	var token model.OAuthToken
	var scopesJSON []byte
	err = rows.Scan(
		&token.ID, &token.ApplicationID, &token.TenantID, &token.UserID,
		&token.AccessTokenHash, &token.AccessTokenPrefix, &token.RefreshTokenHash,
		&scopesJSON, &token.AccessExpiresAt, &token.RefreshExpiresAt,
		&token.RevokedAt, &token.LastUsedAt, &token.CreatedAt, &token.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan oauth_token: %w", err)
	}
	if err := json.Unmarshal(scopesJSON, &token.Scopes); err != nil {
		return nil, fmt.Errorf("unmarshal scopes: %w", err)
	}
	return &token, nil
}
