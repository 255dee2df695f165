// Package webhook fans domain events out to subscribed endpoints. Dispatch is
// fire-and-forget with respect to the triggering request: events go onto a
// bounded queue served by worker goroutines, and delivery failures never
// surface to the API caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/crm-api-gateway/internal/metrics"
	"github.com/crm-api-gateway/internal/model"
	"github.com/crm-api-gateway/internal/store"
)

// Event is one domain event, e.g. "contact.created".
type Event struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"event"`
	CreatedAt time.Time `json:"created_at"`
	Data      EventData `json:"data"`
}

// EventData carries the entity snapshot and, for updates, its prior state.
type EventData struct {
	EntityType    string         `json:"entity_type"`
	EntityID      uuid.UUID      `json:"entity_id"`
	Entity        map[string]any `json:"entity,omitempty"`
	PreviousState map[string]any `json:"previous_state,omitempty"`
}

type task struct {
	sub     *model.WebhookSubscription
	eventID uuid.UUID
	event   string
	payload []byte
	attempt int
}

type Config struct {
	Timeout     time.Duration
	Workers     int
	QueueSize   int
	MaxAttempts int
}

type Dispatcher struct {
	store  store.WebhookStore
	client *http.Client
	cfg    Config

	queue chan task
	done  chan struct{}
}

func NewDispatcher(s store.WebhookStore, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:  s,
		client: &http.Client{Timeout: cfg.Timeout},
		cfg:    cfg,
		queue:  make(chan task, cfg.QueueSize),
		done:   make(chan struct{}),
	}
}

// Start launches the delivery workers.
func (d *Dispatcher) Start() {
	for i := 0; i < d.cfg.Workers; i++ {
		go d.worker()
	}
}

// Stop closes the queue and waits for the workers to drain it.
func (d *Dispatcher) Stop() {
	close(d.queue)
	for i := 0; i < d.cfg.Workers; i++ {
		<-d.done
	}
}

func (d *Dispatcher) worker() {
	defer func() { d.done <- struct{}{} }()
	for t := range d.queue {
		metrics.WebhookQueueDepth.Dec()
		d.deliver(t)
	}
}

// Notify fans the event out to every active subscription of the tenant that
// listens for it. Enqueueing is non-blocking; when the queue is full the
// event is dropped with a log line.
func (d *Dispatcher) Notify(ctx context.Context, tenantID uuid.UUID, eventType string, data EventData) {
	subs, err := d.store.ListActiveSubscriptions(ctx, tenantID, eventType)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("list webhook subscriptions failed")
		return
	}
	if len(subs) == 0 {
		return
	}

	event := Event{ID: uuid.New(), Type: eventType, CreatedAt: time.Now().UTC(), Data: data}
	payload, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("event", eventType).Msg("marshal webhook payload failed")
		return
	}

	for _, sub := range subs {
		d.enqueue(task{sub: sub, eventID: event.ID, event: eventType, payload: payload, attempt: 1})
	}
}

// Redeliver enqueues a retry of a previously failed attempt using its stored
// payload. Called by the retrier.
func (d *Dispatcher) Redeliver(sub *model.WebhookSubscription, prev *model.WebhookDelivery) {
	d.enqueue(task{
		sub:     sub,
		eventID: prev.EventID,
		event:   prev.EventType,
		payload: prev.Payload,
		attempt: prev.Attempt + 1,
	})
}

func (d *Dispatcher) enqueue(t task) {
	select {
	case d.queue <- t:
		metrics.WebhookQueueDepth.Inc()
	default:
		log.Warn().
			Str("subscription_id", t.sub.ID.String()).
			Str("event", t.event).
			Msg("webhook queue full, dropping event")
	}
}

func (d *Dispatcher) deliver(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.Timeout)
	defer cancel()

	result := d.post(ctx, t.sub, t.eventID, t.payload)

	delivery := &model.WebhookDelivery{
		SubscriptionID: t.sub.ID,
		EventID:        t.eventID,
		EventType:      t.event,
		Payload:        t.payload,
		Outcome:        result.outcome(),
		StatusCode:     result.statusCode,
		Error:          result.errText,
		LatencyMS:      result.latency.Milliseconds(),
		Attempt:        t.attempt,
	}
	if err := d.store.RecordDelivery(ctx, delivery); err != nil {
		log.Error().Err(err).Str("subscription_id", t.sub.ID.String()).Msg("record webhook delivery failed")
	}
	if err := d.store.MarkDeliveryResult(ctx, t.sub.ID, result.success, time.Now().UTC()); err != nil {
		log.Error().Err(err).Str("subscription_id", t.sub.ID.String()).Msg("mark webhook delivery result failed")
	}

	metrics.WebhookDeliveries.WithLabelValues(string(result.outcome())).Inc()
	if !result.success {
		log.Warn().
			Str("subscription_id", t.sub.ID.String()).
			Str("event", t.event).
			Int("attempt", t.attempt).
			Str("error", result.errText).
			Msg("webhook delivery failed")
	}
}

// SendTest delivers a synthetic payload synchronously and reports the result.
// Nothing is recorded; health counters are untouched.
func (d *Dispatcher) SendTest(ctx context.Context, sub *model.WebhookSubscription) (*model.WebhookDelivery, error) {
	event := Event{
		ID:        uuid.New(),
		Type:      "test",
		CreatedAt: time.Now().UTC(),
		Data:      EventData{EntityType: "test", EntityID: uuid.New()},
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, fmt.Errorf("marshal test payload: %w", err)
	}

	result := d.post(ctx, sub, event.ID, payload)
	return &model.WebhookDelivery{
		SubscriptionID: sub.ID,
		EventID:        event.ID,
		EventType:      event.Type,
		Payload:        payload,
		Outcome:        result.outcome(),
		StatusCode:     result.statusCode,
		Error:          result.errText,
		LatencyMS:      result.latency.Milliseconds(),
		Attempt:        1,
	}, nil
}

type postResult struct {
	success    bool
	statusCode *int
	errText    string
	latency    time.Duration
}

func (r postResult) outcome() model.DeliveryOutcome {
	if r.success {
		return model.DeliverySucceeded
	}
	return model.DeliveryFailed
}

func (d *Dispatcher) post(ctx context.Context, sub *model.WebhookSubscription, eventID uuid.UUID, payload []byte) postResult {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(payload))
	if err != nil {
		return postResult{errText: err.Error(), latency: time.Since(start)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Id", eventID.String())
	req.Header.Set("X-Webhook-Timestamp", strconv.FormatInt(start.UTC().Unix(), 10))
	req.Header.Set("X-Webhook-Signature", Sign(sub.Secret, payload))

	resp, err := d.client.Do(req)
	if err != nil {
		return postResult{errText: err.Error(), latency: time.Since(start)}
	}
	defer resp.Body.Close()

	code := resp.StatusCode
	result := postResult{statusCode: &code, latency: time.Since(start)}
	if code >= 200 && code < 300 {
		result.success = true
	} else {
		result.errText = "endpoint returned " + resp.Status
	}
	return result
}
