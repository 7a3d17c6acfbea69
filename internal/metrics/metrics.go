package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	WebhooksReceivedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomebot_webhooks_received_total",
			Help: "Webhook deliveries received, by outcome of verification and parsing",
		},
		[]string{"event_type", "outcome"},
	)

	EventsRoutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomebot_events_routed_total",
			Help: "Deliveries selected by the routing engine",
		},
		[]string{"rule"},
	)

	DuplicatesSuppressedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomebot_duplicates_suppressed_total",
			Help: "Deliveries dropped because the dedup store had already seen the event",
		},
		[]string{"rule"},
	)

	DedupErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biomebot_dedup_errors_total",
			Help: "Dedup store failures; the delivery is treated as first seen",
		},
	)

	DispatchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomebot_dispatch_attempts_total",
			Help: "Outbound post attempts, including retries",
		},
		[]string{"channel"},
	)

	DispatchDeliveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomebot_dispatch_delivered_total",
			Help: "Messages delivered to a channel",
		},
		[]string{"channel"},
	)

	DispatchFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "biomebot_dispatch_failures_total",
			Help: "Messages that could not be delivered after retries",
		},
		[]string{"channel", "reason"},
	)

	PipelineErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "biomebot_pipeline_errors_total",
			Help: "Unexpected errors and panics caught at the per-event boundary",
		},
	)

	PipelineInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "biomebot_pipeline_in_flight",
			Help: "Events currently being processed",
		},
	)
)

// Register registers all relay collectors with reg.
func Register(reg prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{
		WebhooksReceivedTotal,
		EventsRoutedTotal,
		DuplicatesSuppressedTotal,
		DedupErrorsTotal,
		DispatchAttemptsTotal,
		DispatchDeliveredTotal,
		DispatchFailuresTotal,
		PipelineErrorsTotal,
		PipelineInFlight,
	} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
