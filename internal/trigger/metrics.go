package trigger

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pushgarden"

var (
	eventsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "events_total",
			Help:      "Push events handled by outcome",
		},
		[]string{"outcome"},
	)

	deliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "push",
			Name:      "deliveries_total",
			Help:      "Per-recipient delivery attempts by status",
		},
		[]string{"status"},
	)
)

// recordEvent records the outcome of one push event: processed, duplicate or
// not_found.
func recordEvent(outcome string) {
	eventsProcessed.WithLabelValues(outcome).Inc()
}

// recordDelivery records a per-recipient attempt: resolved, not_connected,
// nothing_fresh or failed.
func recordDelivery(status string) {
	deliveries.WithLabelValues(status).Inc()
}
