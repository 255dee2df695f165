package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/crm-api-gateway/internal/model"
)

// Field names reaching this file have already been validated against the
// entity metadata registry by the dispatcher; they are never raw user input.

func (p *Postgres) CreateRecord(ctx context.Context, tenantID uuid.UUID, entity string, fields map[string]any) (*model.Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record fields: %w", err)
	}

	rec := &model.Record{TenantID: tenantID, Entity: entity, Fields: fields}
	err = p.pool.QueryRow(ctx, `
		INSERT INTO records (tenant_id, entity, fields)
		VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at
	`, tenantID, entity, data).Scan(&rec.ID, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert record: %w", err)
	}
	return rec, nil
}

const recordColumns = `id, tenant_id, entity, fields, created_at, updated_at`

func (p *Postgres) GetRecord(ctx context.Context, tenantID uuid.UUID, entity string, id uuid.UUID) (*model.Record, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT `+recordColumns+` FROM records WHERE tenant_id = $1 AND entity = $2 AND id = $3
	`, tenantID, entity, id)
	if err != nil {
		return nil, fmt.Errorf("query record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanRecordFromRow(rows)
}

func (p *Postgres) UpdateRecord(ctx context.Context, tenantID uuid.UUID, entity string, id uuid.UUID, fields map[string]any) (*model.Record, error) {
	data, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("marshal record fields: %w", err)
	}

	rows, err := p.pool.Query(ctx, `
		UPDATE records SET fields = fields || $1, updated_at = NOW()
		WHERE tenant_id = $2 AND entity = $3 AND id = $4
		RETURNING `+recordColumns+`
	`, data, tenantID, entity, id)
	if err != nil {
		return nil, fmt.Errorf("update record: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, ErrNotFound
	}
	return scanRecordFromRow(rows)
}

func (p *Postgres) DeleteRecord(ctx context.Context, tenantID uuid.UUID, entity string, id uuid.UUID) error {
	tag, err := p.pool.Exec(ctx, `
		DELETE FROM records WHERE tenant_id = $1 AND entity = $2 AND id = $3
	`, tenantID, entity, id)
	if err != nil {
		return fmt.Errorf("delete record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ListRecords(ctx context.Context, tenantID uuid.UUID, entity string, q model.ListQuery) ([]*model.Record, int, error) {
	where := "WHERE tenant_id = $1 AND entity = $2"
	args := []any{tenantID, entity}
	argIdx := 3

	for _, f := range q.Filters {
		clause, value := filterClause(f, argIdx)
		where += " AND " + clause
		args = append(args, value)
		argIdx++
	}

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM records "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count records: %w", err)
	}

	order := orderClause(q.SortBy, q.SortOrder)
	args = append(args, q.Limit, q.Offset())
	query := fmt.Sprintf("SELECT %s FROM records %s %s LIMIT $%d OFFSET $%d",
		recordColumns, where, order, argIdx, argIdx+1)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows, total)
}

func (p *Postgres) SearchRecords(ctx context.Context, tenantID uuid.UUID, entity, term string, searchFields []string, page, limit int) ([]*model.Record, int, error) {
	if len(searchFields) == 0 {
		return nil, 0, nil
	}

	clauses := make([]string, 0, len(searchFields))
	for _, f := range searchFields {
		clauses = append(clauses, fmt.Sprintf("fields->>'%s' ILIKE $3", f))
	}
	where := fmt.Sprintf("WHERE tenant_id = $1 AND entity = $2 AND (%s)", strings.Join(clauses, " OR "))
	pattern := "%" + term + "%"

	var total int
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM records "+where, tenantID, entity, pattern).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count search records: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM records %s ORDER BY created_at DESC LIMIT $4 OFFSET $5", recordColumns, where)
	rows, err := p.pool.Query(ctx, query, tenantID, entity, pattern, limit, (page-1)*limit)
	if err != nil {
		return nil, 0, fmt.Errorf("search records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows, total)
}

func filterClause(f model.Filter, argIdx int) (string, any) {
	expr := fmt.Sprintf("fields->>'%s'", f.Field)
	if f.Field == "created_at" || f.Field == "updated_at" {
		expr = f.Field + "::text"
	}

	switch f.Op {
	case model.OpContains:
		return fmt.Sprintf("%s ILIKE $%d", expr, argIdx), "%" + f.Value + "%"
	case model.OpNe:
		return fmt.Sprintf("%s IS DISTINCT FROM $%d", expr, argIdx), f.Value
	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		op := map[model.FilterOp]string{
			model.OpGt: ">", model.OpGte: ">=", model.OpLt: "<", model.OpLte: "<=",
		}[f.Op]
		if _, err := strconv.ParseFloat(f.Value, 64); err == nil {
			return fmt.Sprintf("(%s)::numeric %s $%d::numeric", expr, op, argIdx), f.Value
		}
		return fmt.Sprintf("%s %s $%d", expr, op, argIdx), f.Value
	default:
		return fmt.Sprintf("%s = $%d", expr, argIdx), f.Value
	}
}

func orderClause(sortBy, sortOrder string) string {
	dir := "ASC"
	if sortOrder == "desc" {
		dir = "DESC"
	}
	switch sortBy {
	case "":
		return "ORDER BY created_at " + dir
	case "created_at", "updated_at":
		return fmt.Sprintf("ORDER BY %s %s", sortBy, dir)
	default:
		return fmt.Sprintf("ORDER BY fields->>'%s' %s", sortBy, dir)
	}
}

func scanRecords(rows pgx.Rows, total int) ([]*model.Record, int, error) {
	var out []*model.Record
	for rows.Next() {
		rec, err := scanRecordFromRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, rec)
	}
	return out, total, rows.Err()
}

func scanRecordFromRow(rows pgx.Rows) (*model.Record, error) {
	var rec model.Record
	var fieldsJSON []byte

	if err := rows.Scan(&rec.ID, &rec.TenantID, &rec.Entity, &fieldsJSON, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return nil, fmt.Errorf("scan record: %w", err)
	}
	if err := json.Unmarshal(fieldsJSON, &rec.Fields); err != nil {
		return nil, fmt.Errorf("unmarshal record fields: %w", err)
	}
	return &rec, nil
}
