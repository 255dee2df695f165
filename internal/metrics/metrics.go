// Package metrics defines the gateway's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_requests_total",
		Help: "API requests by method, route pattern, and status code.",
	}, []string{"method", "route", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "API request latency by method and route pattern.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route"})

	RateLimitDenials = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_rate_limit_denials_total",
		Help: "Requests rejected by the rate limiter, by window.",
	}, []string{"window"})

	WebhookDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_webhook_deliveries_total",
		Help: "Webhook delivery attempts by outcome.",
	}, []string{"outcome"})

	WebhookQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "gateway_webhook_queue_depth",
		Help: "Events waiting in the webhook dispatch queue.",
	})
)
