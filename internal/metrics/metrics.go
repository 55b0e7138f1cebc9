// Package metrics registers the Prometheus counters and gauges the
// /metrics endpoint exposes, grounded on the CounterVec/GaugeVec wiring
// style other instrumented services in the retrieval pack use (e.g.
// open-policy-agent/eopa's batchquery handler counters).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry groups every metric this service emits.
type Registry struct {
	WebhooksReceived  *prometheus.CounterVec
	WebhooksRejected  *prometheus.CounterVec
	ReviewsCompleted  *prometheus.CounterVec
	ReviewsFailed     *prometheus.CounterVec
	CommandsHandled   *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	ActiveAICalls     prometheus.Gauge
	ReplayStoreSize   prometheus.Gauge
	SecretFindings    *prometheus.CounterVec
}

// NewRegistry builds and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		WebhooksReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mr_agent",
			Name:      "webhooks_received_total",
			Help:      "Webhook deliveries accepted for processing, by platform and event.",
		}, []string{"platform", "event"}),
		WebhooksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mr_agent",
			Name:      "webhooks_rejected_total",
			Help:      "Webhook deliveries rejected before dispatch, by platform and reason.",
		}, []string{"platform", "reason"}),
		ReviewsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mr_agent",
			Name:      "reviews_completed_total",
			Help:      "Review runs that published a result, by platform and mode.",
		}, []string{"platform", "mode"}),
		ReviewsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mr_agent",
			Name:      "reviews_failed_total",
			Help:      "Review runs that ended in a sanitized error comment, by platform and kind.",
		}, []string{"platform", "kind"}),
		CommandsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mr_agent",
			Name:      "commands_handled_total",
			Help:      "Slash commands dispatched, by platform and command.",
		}, []string{"platform", "command"}),
		ProviderLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mr_agent",
			Name:      "provider_call_duration_seconds",
			Help:      "Latency of provider adapter calls, by provider kind and operation.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider", "operation"}),
		ActiveAICalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mr_agent",
			Name:      "active_ai_calls",
			Help:      "AI provider calls currently holding a concurrency slot.",
		}),
		ReplayStoreSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mr_agent",
			Name:      "replay_store_entries",
			Help:      "Entries currently retained in the webhook replay store.",
		}),
		SecretFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mr_agent",
			Name:      "secret_findings_total",
			Help:      "Probable secrets flagged in added diff lines, by rule.",
		}, []string{"rule"}),
	}

	reg.MustRegister(
		m.WebhooksReceived, m.WebhooksRejected, m.ReviewsCompleted, m.ReviewsFailed,
		m.CommandsHandled, m.ProviderLatency, m.ActiveAICalls, m.ReplayStoreSize, m.SecretFindings,
	)
	return m
}
