package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "pushgarden"

var (
	waitersPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "waiters_pending",
			Help:      "Number of currently registered long-poll waiters",
		},
	)

	waitersRegistered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "registered_total",
			Help:      "Total waiters registered",
		},
	)

	waitersResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "resolved_total",
			Help:      "Total waiters fulfilled by a push-driven resolve",
		},
	)

	waitersCancelled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "cancelled_total",
			Help:      "Total waiters cancelled by reason",
		},
		[]string{"reason"},
	)

	waitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "registry",
			Name:      "wait_duration_seconds",
			Help:      "Time a waiter spent registered before reaching a terminal state",
			Buckets:   []float64{.05, .25, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)
)

// recordResolved records a fulfilled waiter.
func recordResolved(duration time.Duration) {
	waitersResolved.Inc()
	waitDuration.WithLabelValues("fulfilled").Observe(duration.Seconds())
}

// recordCancelled records a cancelled waiter.
func recordCancelled(reason CancelReason, duration time.Duration) {
	waitersCancelled.WithLabelValues(string(reason)).Inc()
	waitDuration.WithLabelValues("cancelled").Observe(duration.Seconds())
}
