package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/store/memory"
)

func testConfig() Config {
	return Config{Timeout: 2 * time.Second, Workers: 2, QueueSize: 16, MaxAttempts: 3}
}

func seedSubscription(t *testing.T, mem *memory.Store, url string, events ...string) *model.WebhookSubscription {
	t.Helper()

	sub := &model.WebhookSubscription{
		TenantID: uuid.New(),
		URL:      url,
		Secret:   "whsec_test-secret",
		Events:   events,
		Active:   true,
	}
	if err := mem.CreateSubscription(context.Background(), sub); err != nil {
		t.Fatal(err)
	}
	return sub
}

type received struct {
	body      []byte
	signature string
	timestamp string
	id        string
}

func TestDeliverySignsAndRecords(t *testing.T) {
	mem := memory.New()

	var mu sync.Mutex
	var got *received
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		got = &received{
			body:      body,
			signature: r.Header.Get("X-Webhook-Signature"),
			timestamp: r.Header.Get("X-Webhook-Timestamp"),
			id:        r.Header.Get("X-Webhook-Id"),
		}
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := seedSubscription(t, mem, srv.URL, "contact.created")
	d := NewDispatcher(mem, testConfig())
	d.Start()

	entityID := uuid.New()
	d.Notify(context.Background(), sub.TenantID, "contact.created", EventData{
		EntityType: "contact",
		EntityID:   entityID,
		Entity:     map[string]any{"first_name": "Ada"},
	})
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if got == nil {
		t.Fatal("endpoint was never called")
	}
	if !VerifySignature(sub.Secret, got.body, got.signature) {
		t.Error("signature does not verify against the raw body")
	}
	if got.timestamp == "" || got.id == "" {
		t.Error("expected timestamp and id headers")
	}

	var event Event
	if err := json.Unmarshal(got.body, &event); err != nil {
		t.Fatal(err)
	}
	if event.Type != "contact.created" {
		t.Errorf("event = %s, want contact.created", event.Type)
	}
	if event.Data.EntityID != entityID {
		t.Error("payload entity id mismatch")
	}
	if event.ID.String() != got.id {
		t.Error("X-Webhook-Id must match the payload id")
	}

	deliveries, total, err := mem.ListDeliveries(context.Background(), sub.TenantID, sub.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 1 {
		t.Fatalf("deliveries = %d, want 1", total)
	}
	if deliveries[0].Outcome != model.DeliverySucceeded {
		t.Errorf("outcome = %s, want succeeded", deliveries[0].Outcome)
	}
	if deliveries[0].StatusCode == nil || *deliveries[0].StatusCode != 200 {
		t.Error("expected recorded status 200")
	}

	stored, err := mem.GetSubscription(context.Background(), sub.TenantID, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastTriggeredAt == nil {
		t.Error("success must stamp last_triggered_at")
	}
	if stored.FailureCount != 0 {
		t.Errorf("failure_count = %d, want 0", stored.FailureCount)
	}
}

func TestDeliveryFailureIncrementsCounter(t *testing.T) {
	mem := memory.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	sub := seedSubscription(t, mem, srv.URL, "deal.updated")
	d := NewDispatcher(mem, testConfig())
	d.Start()
	d.Notify(context.Background(), sub.TenantID, "deal.updated", EventData{EntityType: "deal", EntityID: uuid.New()})
	d.Stop()

	stored, err := mem.GetSubscription(context.Background(), sub.TenantID, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.FailureCount != 1 {
		t.Errorf("failure_count = %d, want 1", stored.FailureCount)
	}

	deliveries, _, err := mem.ListDeliveries(context.Background(), sub.TenantID, sub.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliveries) != 1 || deliveries[0].Outcome != model.DeliveryFailed {
		t.Fatal("expected one failed delivery record")
	}
	if deliveries[0].Error == "" {
		t.Error("failed delivery must record the error")
	}
}

func TestTransportErrorRecordedWithoutStatus(t *testing.T) {
	mem := memory.New()
	// A closed server gives a connection error rather than a status code.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	sub := seedSubscription(t, mem, url, "lead.deleted")
	d := NewDispatcher(mem, testConfig())
	d.Start()
	d.Notify(context.Background(), sub.TenantID, "lead.deleted", EventData{EntityType: "lead", EntityID: uuid.New()})
	d.Stop()

	deliveries, _, err := mem.ListDeliveries(context.Background(), sub.TenantID, sub.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliveries) != 1 {
		t.Fatal("expected one delivery record")
	}
	if deliveries[0].StatusCode != nil {
		t.Error("transport failure must leave status code unset")
	}
	if deliveries[0].Error == "" {
		t.Error("transport failure must record the error text")
	}
}

func TestNotifySkipsNonMatchingSubscriptions(t *testing.T) {
	mem := memory.New()

	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
	}))
	defer srv.Close()

	sub := seedSubscription(t, mem, srv.URL, "contact.created")
	// Same tenant, different event; and an inactive one on the right event.
	other := &model.WebhookSubscription{TenantID: sub.TenantID, URL: srv.URL, Secret: "whsec_x", Events: []string{"deal.created"}, Active: true}
	inactive := &model.WebhookSubscription{TenantID: sub.TenantID, URL: srv.URL, Secret: "whsec_y", Events: []string{"contact.created"}, Active: false}
	for _, s := range []*model.WebhookSubscription{other, inactive} {
		if err := mem.CreateSubscription(context.Background(), s); err != nil {
			t.Fatal(err)
		}
	}

	d := NewDispatcher(mem, testConfig())
	d.Start()
	d.Notify(context.Background(), sub.TenantID, "contact.created", EventData{EntityType: "contact", EntityID: uuid.New()})
	d.Stop()

	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (only the matching active subscription)", calls)
	}
}

func TestSendTestDoesNotTouchCounters(t *testing.T) {
	mem := memory.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	sub := seedSubscription(t, mem, srv.URL, "contact.created")
	d := NewDispatcher(mem, testConfig())

	result, err := d.SendTest(context.Background(), sub)
	if err != nil {
		t.Fatal(err)
	}
	if result.Outcome != model.DeliverySucceeded {
		t.Errorf("outcome = %s, want succeeded", result.Outcome)
	}

	_, total, err := mem.ListDeliveries(context.Background(), sub.TenantID, sub.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if total != 0 {
		t.Error("test delivery must not be recorded")
	}
	stored, err := mem.GetSubscription(context.Background(), sub.TenantID, sub.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastTriggeredAt != nil || stored.FailureCount != 0 {
		t.Error("test delivery must not touch health counters")
	}
}

func TestRetrierRedeliversFailedAttempts(t *testing.T) {
	mem := memory.New()

	var mu sync.Mutex
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		attempts++
		n := attempts
		mu.Unlock()
		if n == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sub := seedSubscription(t, mem, srv.URL, "task.created")
	d := NewDispatcher(mem, testConfig())
	r := NewRetrier(mem, d, time.Millisecond, 3)
	r.baseBackoff = 0 // retry immediately in tests

	d.Start()
	d.Notify(context.Background(), sub.TenantID, "task.created", EventData{EntityType: "task", EntityID: uuid.New()})

	deadline := time.Now().Add(2 * time.Second)
	for {
		r.sweep(context.Background())
		deliveries, _, err := mem.ListDeliveries(context.Background(), sub.TenantID, sub.ID, 1, 10)
		if err != nil {
			t.Fatal(err)
		}
		succeeded := false
		for _, del := range deliveries {
			if del.Outcome == model.DeliverySucceeded {
				succeeded = true
			}
		}
		if succeeded {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("retry never succeeded")
		}
		time.Sleep(10 * time.Millisecond)
	}
	d.Stop()

	deliveries, _, err := mem.ListDeliveries(context.Background(), sub.TenantID, sub.ID, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(deliveries) < 2 {
		t.Fatalf("deliveries = %d, want at least 2", len(deliveries))
	}
	var first, second *model.WebhookDelivery
	for _, del := range deliveries {
		switch del.Attempt {
		case 1:
			first = del
		case 2:
			second = del
		}
	}
	if first == nil || second == nil {
		t.Fatal("expected attempts 1 and 2")
	}
	if first.EventID != second.EventID {
		t.Error("retries must share the original event id")
	}
	if first.Outcome != model.DeliveryFailed || second.Outcome != model.DeliverySucceeded {
		t.Error("expected failed first attempt then successful retry")
	}
}

func TestBackoffGrowsWithAttempts(t *testing.T) {
	r := NewRetrier(memory.New(), nil, time.Minute, 5)

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		b := r.backoff(attempt)
		// Jitter is bounded well under the doubling, so consecutive
		// attempts always grow.
		if b <= prev {
			t.Errorf("backoff(%d) = %v, want > %v", attempt, b, prev)
		}
		prev = b
	}
}
