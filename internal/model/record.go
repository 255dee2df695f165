package model

import (
	"time"

	"github.com/google/uuid"
)

// Record is one tenant-scoped entity row in the generic record backend.
type Record struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Entity    string         `json:"entity"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// FilterOp is a comparison operator usable in list filters.
type FilterOp string

const (
	OpEq       FilterOp = "eq"
	OpNe       FilterOp = "ne"
	OpGt       FilterOp = "gt"
	OpGte      FilterOp = "gte"
	OpLt       FilterOp = "lt"
	OpLte      FilterOp = "lte"
	OpContains FilterOp = "contains"
)

// ValidFilterOp reports whether op is a known operator.
func ValidFilterOp(op FilterOp) bool {
	switch op {
	case OpEq, OpNe, OpGt, OpGte, OpLt, OpLte, OpContains:
		return true
	}
	return false
}

// Filter is one field comparison applied to a list query.
type Filter struct {
	Field string
	Op    FilterOp
	Value string
}

// ListQuery carries pagination, sorting, filtering, field selection and
// relationship expansion for collection reads.
type ListQuery struct {
	Page      int
	Limit     int
	SortBy    string
	SortOrder string // "asc" or "desc"
	Fields    []string
	Expand    []string
	Filters   []Filter
}

// Offset is the row offset implied by Page and Limit.
func (q ListQuery) Offset() int {
	return (q.Page - 1) * q.Limit
}
