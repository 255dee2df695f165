package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/auth"
	"github.com/crm-api-gateway/internal/ratelimit"
	"github.com/crm-api-gateway/internal/store/memory"
)

// finishRecorder observes the usage-completion call, including the state of
// the context it arrives on.
type finishRecorder struct {
	*memory.Store

	mu         sync.Mutex
	finished   bool
	statusCode int
	ctxErr     error
}

func (f *finishRecorder) FinishUsage(ctx context.Context, id uuid.UUID, statusCode int, latencyMS int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ctxErr = ctx.Err()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	f.finished = true
	f.statusCode = statusCode
	return f.Store.FinishUsage(ctx, id, statusCode, latencyMS)
}

func TestRateLimitFinishSurvivesClientDisconnect(t *testing.T) {
	rec := &finishRecorder{Store: memory.New()}
	lim := ratelimit.New(rec, true)

	principal := &auth.Context{
		TenantID:     uuid.New(),
		CredentialID: uuid.New(),
		PerMinute:    10,
		PerDay:       1000,
	}

	// The handler cancels the request context before responding, the way a
	// dropped connection does.
	var cancel context.CancelFunc
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cancel()
		w.WriteHeader(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/contacts", nil)
	var ctx context.Context
	ctx, cancel = context.WithCancel(req.Context())
	defer cancel()
	ctx = context.WithValue(ctx, authContextKey, principal)
	req = req.WithContext(ctx)

	w := httptest.NewRecorder()
	RateLimit(lim)(inner).ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("X-RateLimit-Limit") != "10" {
		t.Errorf("limit header = %q, want 10", w.Header().Get("X-RateLimit-Limit"))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.ctxErr != nil {
		t.Fatalf("completion arrived on a canceled context: %v", rec.ctxErr)
	}
	if !rec.finished {
		t.Fatal("usage row was never completed")
	}
	if rec.statusCode != http.StatusNoContent {
		t.Errorf("recorded status = %d, want 204", rec.statusCode)
	}
}
