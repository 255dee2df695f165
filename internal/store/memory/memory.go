// Package memory provides an in-memory Store implementation. It backs unit
// tests and mirrors the Postgres implementation's semantics, including atomic
// rate-limit admission and single-use code consumption (via one mutex).
package memory

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/store"
)

type Store struct {
	mu sync.Mutex

	apiKeys    map[uuid.UUID]*model.APIKey
	apps       map[uuid.UUID]*model.OAuthApplication
	codes      map[uuid.UUID]*model.AuthorizationCode
	tokens     map[uuid.UUID]*model.OAuthToken
	usage      []*model.UsageRecord
	subs       map[uuid.UUID]*model.WebhookSubscription
	deliveries []*model.WebhookDelivery
	records    map[uuid.UUID]*model.Record

	// AdmitErr, when set, makes AdmitUsage fail. Used to exercise the rate
	// limiter's fail-open/fail-closed policy.
	AdmitErr error
}

func New() *Store {
	return &Store{
		apiKeys: make(map[uuid.UUID]*model.APIKey),
		apps:    make(map[uuid.UUID]*model.OAuthApplication),
		codes:   make(map[uuid.UUID]*model.AuthorizationCode),
		tokens:  make(map[uuid.UUID]*model.OAuthToken),
		subs:    make(map[uuid.UUID]*model.WebhookSubscription),
		records: make(map[uuid.UUID]*model.Record),
	}
}

func (s *Store) Ping(context.Context) error { return nil }

// --- API keys ---

func (s *Store) CreateAPIKey(_ context.Context, key *model.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key.ID = uuid.New()
	key.CreatedAt = time.Now().UTC()
	key.UpdatedAt = key.CreatedAt
	cp := *key
	s.apiKeys[key.ID] = &cp
	return nil
}

func (s *Store) GetAPIKeyByHash(_ context.Context, keyHash string) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.apiKeys {
		if k.KeyHash == keyHash {
			cp := *k
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetAPIKeyByID(_ context.Context, tenantID, id uuid.UUID) (*model.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *k
	return &cp, nil
}

func (s *Store) ListAPIKeys(_ context.Context, tenantID uuid.UUID, page, limit int) ([]*model.APIKey, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*model.APIKey
	for _, k := range s.apiKeys {
		if k.TenantID == tenantID {
			cp := *k
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return paginate(all, page, limit), total, nil
}

func (s *Store) UpdateAPIKey(_ context.Context, tenantID, id uuid.UUID, updates store.APIKeyUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.TenantID != tenantID {
		return store.ErrNotFound
	}
	if updates.Name != nil {
		k.Name = *updates.Name
	}
	if updates.Scopes != nil {
		k.Scopes = updates.Scopes
	}
	if updates.RateLimitPerMinute != nil {
		k.RateLimitPerMinute = *updates.RateLimitPerMinute
	}
	if updates.RateLimitPerDay != nil {
		k.RateLimitPerDay = *updates.RateLimitPerDay
	}
	if updates.ExpiresAt != nil {
		k.ExpiresAt = updates.ExpiresAt
	}
	k.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RevokeAPIKey(_ context.Context, tenantID, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.TenantID != tenantID {
		return store.ErrNotFound
	}
	if k.RevokedAt == nil {
		k.RevokedAt = &at
		k.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) RegenerateAPIKey(_ context.Context, tenantID, id uuid.UUID, keyHash, keyPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.TenantID != tenantID {
		return store.ErrNotFound
	}
	k.KeyHash = keyHash
	k.KeyPrefix = keyPrefix
	k.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteAPIKey(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.apiKeys[id]
	if !ok || k.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.apiKeys, id)
	return nil
}

func (s *Store) TouchAPIKey(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.apiKeys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

// --- OAuth applications ---

func (s *Store) CreateApplication(_ context.Context, app *model.OAuthApplication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	app.ID = uuid.New()
	app.CreatedAt = time.Now().UTC()
	app.UpdatedAt = app.CreatedAt
	cp := *app
	s.apps[app.ID] = &cp
	return nil
}

func (s *Store) GetApplicationByClientID(_ context.Context, clientID string) (*model.OAuthApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range s.apps {
		if a.ClientID == clientID {
			cp := *a
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) GetApplicationByID(_ context.Context, tenantID, id uuid.UUID) (*model.OAuthApplication, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.apps[id]
	if !ok || a.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *Store) ListApplications(_ context.Context, tenantID uuid.UUID, page, limit int) ([]*model.OAuthApplication, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*model.OAuthApplication
	for _, a := range s.apps {
		if a.TenantID == tenantID {
			cp := *a
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return paginate(all, page, limit), total, nil
}

func (s *Store) UpdateApplication(_ context.Context, tenantID, id uuid.UUID, updates store.ApplicationUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.apps[id]
	if !ok || a.TenantID != tenantID {
		return store.ErrNotFound
	}
	if updates.Name != nil {
		a.Name = *updates.Name
	}
	if updates.Description != nil {
		a.Description = *updates.Description
	}
	if updates.RedirectURIs != nil {
		a.RedirectURIs = updates.RedirectURIs
	}
	if updates.Scopes != nil {
		a.Scopes = updates.Scopes
	}
	if updates.Active != nil {
		a.Active = *updates.Active
	}
	a.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetApplicationSecret(_ context.Context, tenantID, id uuid.UUID, secretHash, secretPrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.apps[id]
	if !ok || a.TenantID != tenantID {
		return store.ErrNotFound
	}
	a.ClientSecretHash = secretHash
	a.ClientSecretPrefix = secretPrefix
	a.UpdatedAt = time.Now().UTC()
	return nil
}

// --- Authorization codes ---

func (s *Store) CreateAuthorizationCode(_ context.Context, code *model.AuthorizationCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code.ID = uuid.New()
	code.CreatedAt = time.Now().UTC()
	cp := *code
	s.codes[code.ID] = &cp
	return nil
}

func (s *Store) ConsumeAuthorizationCode(_ context.Context, codeHash string, now time.Time) (*model.AuthorizationCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.codes {
		if c.CodeHash != codeHash {
			continue
		}
		if c.UsedAt != nil {
			return nil, store.ErrCodeUsed
		}
		if !c.ExpiresAt.After(now) {
			return nil, store.ErrCodeExpired
		}
		at := now
		c.UsedAt = &at
		cp := *c
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

// --- Token pairs ---

func (s *Store) CreateToken(_ context.Context, token *model.OAuthToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	token.ID = uuid.New()
	token.CreatedAt = time.Now().UTC()
	token.UpdatedAt = token.CreatedAt
	cp := *token
	s.tokens[token.ID] = &cp
	return nil
}

func (s *Store) GetTokenByAccessHash(_ context.Context, hash string) (*model.OAuthToken, error) {
	return s.findToken(func(t *model.OAuthToken) bool { return t.AccessTokenHash == hash })
}

func (s *Store) GetTokenByRefreshHash(_ context.Context, hash string) (*model.OAuthToken, error) {
	return s.findToken(func(t *model.OAuthToken) bool { return t.RefreshTokenHash == hash })
}

func (s *Store) findToken(match func(*model.OAuthToken) bool) (*model.OAuthToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if match(t) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *Store) RotateAccessToken(_ context.Context, id uuid.UUID, accessHash, accessPrefix string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	t.AccessTokenHash = accessHash
	t.AccessTokenPrefix = accessPrefix
	t.AccessExpiresAt = expiresAt
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) RevokeToken(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[id]
	if !ok {
		return store.ErrNotFound
	}
	if t.RevokedAt == nil {
		t.RevokedAt = &at
		t.UpdatedAt = time.Now().UTC()
	}
	return nil
}

func (s *Store) RevokeApplicationTokens(_ context.Context, applicationID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tokens {
		if t.ApplicationID == applicationID && t.RevokedAt == nil {
			revoked := at
			t.RevokedAt = &revoked
			t.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

func (s *Store) TouchToken(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[id]; ok {
		t.LastUsedAt = &at
	}
	return nil
}

// --- Usage ---

func (s *Store) AdmitUsage(_ context.Context, p store.AdmitParams) (store.AdmitResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var res store.AdmitResult
	if s.AdmitErr != nil {
		return res, s.AdmitErr
	}

	minuteStart := p.Now.Add(-time.Minute)
	dayStart := p.Now.Add(-24 * time.Hour)
	for _, u := range s.usage {
		if u.CredentialID != p.CredentialID || !u.CreatedAt.After(dayStart) {
			continue
		}
		res.DayCount++
		if u.CreatedAt.After(minuteStart) {
			res.MinuteCount++
		}
	}

	switch {
	case res.MinuteCount >= p.PerMinute:
		res.DeniedBy = store.DeniedMinute
		return res, nil
	case res.DayCount >= p.PerDay:
		res.DeniedBy = store.DeniedDay
		return res, nil
	}

	rec := &model.UsageRecord{
		ID:           uuid.New(),
		CredentialID: p.CredentialID,
		TenantID:     p.TenantID,
		Endpoint:     p.Endpoint,
		Method:       p.Method,
		CreatedAt:    p.Now,
	}
	s.usage = append(s.usage, rec)
	res.Allowed = true
	res.UsageID = rec.ID
	return res, nil
}

func (s *Store) FinishUsage(_ context.Context, id uuid.UUID, statusCode int, latencyMS int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.usage {
		if u.ID == id {
			u.StatusCode = statusCode
			u.LatencyMS = latencyMS
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) CountUsageSince(_ context.Context, credentialID uuid.UUID, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, u := range s.usage {
		if u.CredentialID == credentialID && u.CreatedAt.After(since) {
			count++
		}
	}
	return count, nil
}

func (s *Store) DeleteUsageBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.usage[:0]
	var deleted int64
	for _, u := range s.usage {
		if u.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, u)
	}
	s.usage = kept
	return deleted, nil
}

// --- Webhook subscriptions ---

func (s *Store) CreateSubscription(_ context.Context, sub *model.WebhookSubscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub.ID = uuid.New()
	sub.CreatedAt = time.Now().UTC()
	sub.UpdatedAt = sub.CreatedAt
	cp := *sub
	s.subs[sub.ID] = &cp
	return nil
}

func (s *Store) GetSubscription(_ context.Context, tenantID, id uuid.UUID) (*model.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok || sub.TenantID != tenantID {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) GetSubscriptionAny(_ context.Context, id uuid.UUID) (*model.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *sub
	return &cp, nil
}

func (s *Store) ListSubscriptions(_ context.Context, tenantID uuid.UUID, page, limit int) ([]*model.WebhookSubscription, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*model.WebhookSubscription
	for _, sub := range s.subs {
		if sub.TenantID == tenantID {
			cp := *sub
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return paginate(all, page, limit), total, nil
}

func (s *Store) ListActiveSubscriptions(_ context.Context, tenantID uuid.UUID, event string) ([]*model.WebhookSubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*model.WebhookSubscription
	for _, sub := range s.subs {
		if sub.TenantID == tenantID && sub.Active && sub.SubscribedTo(event) {
			cp := *sub
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) UpdateSubscription(_ context.Context, tenantID, id uuid.UUID, updates store.SubscriptionUpdates) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok || sub.TenantID != tenantID {
		return store.ErrNotFound
	}
	if updates.URL != nil {
		sub.URL = *updates.URL
	}
	if updates.Events != nil {
		sub.Events = updates.Events
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) SetSubscriptionActive(_ context.Context, tenantID, id uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok || sub.TenantID != tenantID {
		return store.ErrNotFound
	}
	if sub.Active == active {
		return nil
	}
	if !sub.Active && active {
		sub.FailureCount = 0
	}
	sub.Active = active
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) DeleteSubscription(_ context.Context, tenantID, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[id]
	if !ok || sub.TenantID != tenantID {
		return store.ErrNotFound
	}
	delete(s.subs, id)
	return nil
}

func (s *Store) RecordDelivery(_ context.Context, d *model.WebhookDelivery) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d.ID = uuid.New()
	d.CreatedAt = time.Now().UTC()
	cp := *d
	s.deliveries = append(s.deliveries, &cp)
	return nil
}

func (s *Store) MarkDeliveryResult(_ context.Context, subscriptionID uuid.UUID, success bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[subscriptionID]
	if !ok {
		return store.ErrNotFound
	}
	if success {
		sub.FailureCount = 0
		triggered := at
		sub.LastTriggeredAt = &triggered
	} else {
		sub.FailureCount++
	}
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *Store) ListDeliveries(_ context.Context, tenantID, subscriptionID uuid.UUID, page, limit int) ([]*model.WebhookDelivery, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[subscriptionID]
	if !ok || sub.TenantID != tenantID {
		return nil, 0, store.ErrNotFound
	}

	var all []*model.WebhookDelivery
	for _, d := range s.deliveries {
		if d.SubscriptionID == subscriptionID {
			cp := *d
			all = append(all, &cp)
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := len(all)
	return paginate(all, page, limit), total, nil
}

func (s *Store) ListRetryableDeliveries(_ context.Context, maxAttempts, limit int) ([]*model.WebhookDelivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	type key struct {
		event uuid.UUID
		sub   uuid.UUID
	}
	latest := make(map[key]*model.WebhookDelivery)
	for _, d := range s.deliveries {
		k := key{d.EventID, d.SubscriptionID}
		if cur, ok := latest[k]; !ok || d.Attempt > cur.Attempt {
			latest[k] = d
		}
	}

	var out []*model.WebhookDelivery
	for _, d := range latest {
		if d.Outcome == model.DeliveryFailed && d.Attempt < maxAttempts {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) DeleteDeliveriesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.deliveries[:0]
	var deleted int64
	for _, d := range s.deliveries {
		if d.CreatedAt.Before(cutoff) {
			deleted++
			continue
		}
		kept = append(kept, d)
	}
	s.deliveries = kept
	return deleted, nil
}

// --- Records ---

func (s *Store) CreateRecord(_ context.Context, tenantID uuid.UUID, entity string, fields map[string]any) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	rec := &model.Record{
		ID:        uuid.New(),
		TenantID:  tenantID,
		Entity:    entity,
		Fields:    cloneFields(fields),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.records[rec.ID] = rec
	return cloneRecord(rec), nil
}

func (s *Store) GetRecord(_ context.Context, tenantID uuid.UUID, entity string, id uuid.UUID) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID || rec.Entity != entity {
		return nil, store.ErrNotFound
	}
	return cloneRecord(rec), nil
}

func (s *Store) UpdateRecord(_ context.Context, tenantID uuid.UUID, entity string, id uuid.UUID, fields map[string]any) (*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID || rec.Entity != entity {
		return nil, store.ErrNotFound
	}
	for k, v := range fields {
		rec.Fields[k] = v
	}
	rec.UpdatedAt = time.Now().UTC()
	return cloneRecord(rec), nil
}

func (s *Store) DeleteRecord(_ context.Context, tenantID uuid.UUID, entity string, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok || rec.TenantID != tenantID || rec.Entity != entity {
		return store.ErrNotFound
	}
	delete(s.records, id)
	return nil
}

func (s *Store) ListRecords(_ context.Context, tenantID uuid.UUID, entity string, q model.ListQuery) ([]*model.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*model.Record
	for _, rec := range s.records {
		if rec.TenantID != tenantID || rec.Entity != entity {
			continue
		}
		if matchesFilters(rec, q.Filters) {
			all = append(all, cloneRecord(rec))
		}
	}
	sortRecords(all, q.SortBy, q.SortOrder)
	total := len(all)
	return paginate(all, q.Page, q.Limit), total, nil
}

func (s *Store) SearchRecords(_ context.Context, tenantID uuid.UUID, entity, term string, searchFields []string, page, limit int) ([]*model.Record, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lower := strings.ToLower(term)
	var all []*model.Record
	for _, rec := range s.records {
		if rec.TenantID != tenantID || rec.Entity != entity {
			continue
		}
		for _, f := range searchFields {
			if v, ok := rec.Fields[f].(string); ok && strings.Contains(strings.ToLower(v), lower) {
				all = append(all, cloneRecord(rec))
				break
			}
		}
	}
	sortRecords(all, "created_at", "desc")
	total := len(all)
	return paginate(all, page, limit), total, nil
}

// --- helpers ---

func paginate[T any](items []T, page, limit int) []T {
	offset := (page - 1) * limit
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func matchesFilters(rec *model.Record, filters []model.Filter) bool {
	for _, f := range filters {
		if !matchesFilter(rec, f) {
			return false
		}
	}
	return true
}

func matchesFilter(rec *model.Record, f model.Filter) bool {
	raw, ok := rec.Fields[f.Field]
	if !ok {
		return f.Op == model.OpNe
	}
	val := stringify(raw)

	switch f.Op {
	case model.OpEq:
		return val == f.Value
	case model.OpNe:
		return val != f.Value
	case model.OpContains:
		return strings.Contains(strings.ToLower(val), strings.ToLower(f.Value))
	case model.OpGt, model.OpGte, model.OpLt, model.OpLte:
		a, errA := strconv.ParseFloat(val, 64)
		b, errB := strconv.ParseFloat(f.Value, 64)
		if errA == nil && errB == nil {
			switch f.Op {
			case model.OpGt:
				return a > b
			case model.OpGte:
				return a >= b
			case model.OpLt:
				return a < b
			default:
				return a <= b
			}
		}
		switch f.Op {
		case model.OpGt:
			return val > f.Value
		case model.OpGte:
			return val >= f.Value
		case model.OpLt:
			return val < f.Value
		default:
			return val <= f.Value
		}
	}
	return false
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func sortRecords(recs []*model.Record, sortBy, sortOrder string) {
	less := func(i, j int) bool {
		switch sortBy {
		case "", "created_at":
			return recs[i].CreatedAt.Before(recs[j].CreatedAt)
		case "updated_at":
			return recs[i].UpdatedAt.Before(recs[j].UpdatedAt)
		default:
			a := stringify(recs[i].Fields[sortBy])
			b := stringify(recs[j].Fields[sortBy])
			na, errA := strconv.ParseFloat(a, 64)
			nb, errB := strconv.ParseFloat(b, 64)
			if errA == nil && errB == nil {
				return na < nb
			}
			return a < b
		}
	}
	if sortOrder == "desc" {
		sort.SliceStable(recs, func(i, j int) bool { return less(j, i) })
		return
	}
	sort.SliceStable(recs, less)
}

func cloneRecord(rec *model.Record) *model.Record {
	cp := *rec
	cp.Fields = cloneFields(rec.Fields)
	return &cp
}

func cloneFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}
