/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counters for the money-moving paths and a latency histogram for webhook
  processing. Registered on a private registry so tests can construct
  handlers without colliding on the default registry.
*/
package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	TransfersCreated  prometheus.Counter
	TransfersRejected prometheus.Counter
	WebhooksProcessed prometheus.Counter
	WebhooksFailed    prometheus.Counter
	WebhookDuration   prometheus.Histogram
	RequestErrors     *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: reg,
		TransfersCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_transfers_created_total",
			Help: "Transfers accepted and placed in PENDING.",
		}),
		TransfersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_transfers_rejected_total",
			Help: "Transfer requests refused before a hold was placed.",
		}),
		WebhooksProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_webhooks_processed_total",
			Help: "Settlement webhooks applied, including idempotent replays.",
		}),
		WebhooksFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "wallet_webhooks_failed_total",
			Help: "Settlement webhooks that returned an error.",
		}),
		WebhookDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "wallet_webhook_duration_seconds",
			Help:    "End-to-end webhook processing latency.",
			Buckets: prometheus.DefBuckets,
		}),
		RequestErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "wallet_request_errors_total",
			Help: "Handler errors by operation.",
		}, []string{"operation"}),
	}

	reg.MustRegister(
		m.TransfersCreated,
		m.TransfersRejected,
		m.WebhooksProcessed,
		m.WebhooksFailed,
		m.WebhookDuration,
		m.RequestErrors,
	)
	return m
}

// HTTPHandler serves the /metrics scrape endpoint.
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
