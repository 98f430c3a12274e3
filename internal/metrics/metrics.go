// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "unibox"

var (
	// WebhooksTotal counts webhook requests by channel and outcome.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Total webhook requests",
		},
		[]string{"channel", "status"},
	)

	// MessagesTotal counts messages run through the inbox pipeline.
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inbox",
			Name:      "messages_total",
			Help:      "Messages processed by the inbox, by result (saved, duplicate, error)",
		},
		[]string{"channel", "sender", "result"},
	)

	// DeliveryAttempts counts individual outbound send attempts.
	DeliveryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "attempts_total",
			Help:      "Outbound send attempts by channel and result",
		},
		[]string{"channel", "result"},
	)

	// DeliveryDuration observes whole sends including retries.
	DeliveryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "delivery",
			Name:      "duration_seconds",
			Help:      "Outbound send duration including backoff",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"channel"},
	)

	// AutoReplies counts orchestrator outcomes.
	AutoReplies = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "autoreply",
			Name:      "decisions_total",
			Help:      "Auto-reply decisions by outcome (sent, skipped, debounced, failed)",
		},
		[]string{"channel", "outcome"},
	)

	// AssistantCalls counts assistant invocations, split by cache hits.
	AssistantCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "calls_total",
			Help:      "Assistant invocations by result (ok, cached, error)",
		},
		[]string{"result"},
	)

	// AssistantDuration observes upstream assistant latency.
	AssistantDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "assistant",
			Name:      "duration_seconds",
			Help:      "Assistant upstream call duration",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 15, 30},
		},
	)

	// RealtimeClients tracks connected websocket clients.
	RealtimeClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "clients",
			Help:      "Connected realtime websocket clients",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
