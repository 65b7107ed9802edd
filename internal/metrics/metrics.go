package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hainguyen99-cdm/xscan-sub002/pkg/monitoring"
)

// Metrics holds all custom Prometheus metrics for the herald service
type Metrics struct {
	// Poller
	PollCycles          *prometheus.CounterVec // labels: status
	TransactionsSeen    *prometheus.CounterVec // labels: result (new, duplicate, skipped)
	FeedFailures        *prometheus.CounterVec // labels: kind (unavailable, rejected)

	// Queue
	AlertsQueued    *prometheus.CounterVec   // labels: source (bank_feed, http, test)
	AlertsDelivered *prometheus.CounterVec   // labels: outcome (acked, timeout)
	QueueDepth      *prometheus.GaugeVec     // labels: tenant_id
	AckLatency      *prometheus.HistogramVec // labels: outcome

	// Channel
	HubConnections     *prometheus.GaugeVec   // labels: tenant_id
	ValidationFailures *prometheus.CounterVec // labels: reason
}

// New registers the herald metrics on the service collector
func New(collector *monitoring.MetricsCollector) *Metrics {
	return &Metrics{
		PollCycles: collector.NewCounter("poll_cycles_total",
			"Bank feed poll cycles by status", []string{"status"}),
		TransactionsSeen: collector.NewCounter("transactions_seen_total",
			"Statement entries processed by result", []string{"result"}),
		FeedFailures: collector.NewCounter("feed_failures_total",
			"Bank feed fetch failures by kind", []string{"kind"}),

		AlertsQueued: collector.NewCounter("alerts_queued_total",
			"Donation alerts accepted into a tenant queue", []string{"source"}),
		AlertsDelivered: collector.NewCounter("alerts_delivered_total",
			"Donation alerts that finished display", []string{"outcome"}),
		QueueDepth: collector.NewGauge("queue_depth",
			"Pending alerts per tenant", []string{"tenant_id"}),
		AckLatency: collector.NewHistogram("ack_latency_seconds",
			"Time from send to acknowledgement", []string{"outcome"},
			[]float64{0.5, 1, 2.5, 5, 10, 20, 30, 60}),

		HubConnections: collector.NewGauge("hub_connections",
			"Active websocket connections per tenant", []string{"tenant_id"}),
		ValidationFailures: collector.NewCounter("validation_failures_total",
			"Channel validation failures by reason", []string{"reason"}),
	}
}
