package model

import (
	"time"

	"github.com/google/uuid"
)

// UsageRecord is one row per processed request. Rows are append-only and
// double as the rate-limit window counters.
type UsageRecord struct {
	ID           uuid.UUID `json:"id"`
	CredentialID uuid.UUID `json:"credential_id"`
	TenantID     uuid.UUID `json:"tenant_id"`
	Endpoint     string    `json:"endpoint"`
	Method       string    `json:"method"`
	StatusCode   int       `json:"status_code"`
	LatencyMS    int64     `json:"latency_ms"`
	CreatedAt    time.Time `json:"created_at"`
}
