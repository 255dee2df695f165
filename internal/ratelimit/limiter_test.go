package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/store"
	"github.com/crm-api-gateway/internal/store/memory"
)

func params(credID uuid.UUID, perMinute, perDay int) store.AdmitParams {
	return store.AdmitParams{
		CredentialID: credID,
		TenantID:     uuid.New(),
		Endpoint:     "/api/v1/contacts",
		Method:       "GET",
		PerMinute:    perMinute,
		PerDay:       perDay,
	}
}

func TestCheckAndRecordAllowsUnderLimit(t *testing.T) {
	lim := New(memory.New(), true)
	credID := uuid.New()

	d, err := lim.CheckAndRecord(context.Background(), params(credID, 3, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected first request to be allowed")
	}
	if d.Limit != 3 {
		t.Errorf("limit = %d, want 3", d.Limit)
	}
	if d.Remaining != 2 {
		t.Errorf("remaining = %d, want 2", d.Remaining)
	}
	if d.UsageID == uuid.Nil {
		t.Error("expected a usage id for an admitted request")
	}
}

func TestCheckAndRecordDeniesAtMinuteLimit(t *testing.T) {
	lim := New(memory.New(), true)
	credID := uuid.New()

	for i := 0; i < 2; i++ {
		if d, err := lim.CheckAndRecord(context.Background(), params(credID, 2, 100)); err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}

	d, err := lim.CheckAndRecord(context.Background(), params(credID, 2, 100))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected third request to be denied")
	}
	if d.RetryAfter != time.Minute {
		t.Errorf("retry after = %v, want 1m", d.RetryAfter)
	}
	if d.UsageID != uuid.Nil {
		t.Error("denied request must not record usage")
	}
}

func TestCheckAndRecordDeniesAtDayLimit(t *testing.T) {
	lim := New(memory.New(), true)
	credID := uuid.New()

	for i := 0; i < 2; i++ {
		if d, err := lim.CheckAndRecord(context.Background(), params(credID, 100, 2)); err != nil || !d.Allowed {
			t.Fatalf("request %d: allowed=%v err=%v", i, d.Allowed, err)
		}
	}

	d, err := lim.CheckAndRecord(context.Background(), params(credID, 100, 2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Allowed {
		t.Fatal("expected request over day limit to be denied")
	}
	if d.RetryAfter <= 0 || d.RetryAfter > 24*time.Hour {
		t.Errorf("retry after = %v, want within (0, 24h]", d.RetryAfter)
	}
}

func TestDeniedRequestsDoNotConsumeQuota(t *testing.T) {
	mem := memory.New()
	lim := New(mem, true)
	credID := uuid.New()

	if _, err := lim.CheckAndRecord(context.Background(), params(credID, 1, 100)); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		d, err := lim.CheckAndRecord(context.Background(), params(credID, 1, 100))
		if err != nil {
			t.Fatal(err)
		}
		if d.Allowed {
			t.Fatal("expected denial while window is full")
		}
	}

	count, err := mem.CountUsageSince(context.Background(), credID, time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("usage count = %d, want 1 (denials must not append)", count)
	}
}

func TestSlidingWindowFreesQuota(t *testing.T) {
	lim := New(memory.New(), true)
	credID := uuid.New()

	base := time.Now().UTC()
	lim.now = func() time.Time { return base }

	if d, _ := lim.CheckAndRecord(context.Background(), params(credID, 1, 100)); !d.Allowed {
		t.Fatal("expected first request to be allowed")
	}
	if d, _ := lim.CheckAndRecord(context.Background(), params(credID, 1, 100)); d.Allowed {
		t.Fatal("expected second request in the same minute to be denied")
	}

	lim.now = func() time.Time { return base.Add(61 * time.Second) }
	d, err := lim.CheckAndRecord(context.Background(), params(credID, 1, 100))
	if err != nil {
		t.Fatal(err)
	}
	if !d.Allowed {
		t.Fatal("expected request to be allowed once the window slid past the first")
	}
}

func TestConcurrentAdmissionsNeverExceedLimit(t *testing.T) {
	lim := New(memory.New(), true)
	credID := uuid.New()
	const limit = 10
	const workers = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := lim.CheckAndRecord(context.Background(), params(credID, limit, 1000))
			if err != nil {
				t.Error(err)
				return
			}
			if d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != limit {
		t.Errorf("allowed = %d, want exactly %d", allowed, limit)
	}
}

func TestFailOpenAllowsOnStoreError(t *testing.T) {
	mem := memory.New()
	mem.AdmitErr = errors.New("connection refused")

	d, err := New(mem, true).CheckAndRecord(context.Background(), params(uuid.New(), 10, 100))
	if err != nil {
		t.Fatalf("fail-open limiter returned error: %v", err)
	}
	if !d.Allowed {
		t.Fatal("fail-open limiter must allow on store error")
	}
}

func TestFailClosedRejectsOnStoreError(t *testing.T) {
	mem := memory.New()
	mem.AdmitErr = errors.New("connection refused")

	if _, err := New(mem, false).CheckAndRecord(context.Background(), params(uuid.New(), 10, 100)); err == nil {
		t.Fatal("fail-closed limiter must surface store errors")
	}
}
