package notify

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// droppedTotal tracks notifications dropped due to queue overflow,
	// split by priority so a critical-queue drop (an incident or failed
	// rotation page that never went out) is distinguishable from routine
	// backpressure.
	droppedTotal *prometheus.CounterVec

	// dispatchedTotal tracks notifications handed to a provider's Send,
	// regardless of whether the provider itself succeeded.
	dispatchedTotal *prometheus.CounterVec

	// queueDepth reports the current number of events waiting in each
	// priority queue.
	queueDepth *prometheus.GaugeVec

	metricsOnce       sync.Once
	metricsRegistered bool
)

// InitMetrics registers the Prometheus collectors for the notification
// manager. Call once at startup.
func InitMetrics() {
	metricsOnce.Do(func() {
		droppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signctl_notifications_dropped_total",
			Help: "Total number of notification events dropped due to queue overflow, by priority",
		}, []string{"priority"})

		dispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "signctl_notifications_dispatched_total",
			Help: "Total number of notification events dispatched to a provider, by provider and event type",
		}, []string{"provider", "event_type"})

		queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "signctl_notifications_queue_depth",
			Help: "Current number of events waiting in the notification queue, by priority",
		}, []string{"priority"})

		metricsRegistered = true
	})
}

// incrementDroppedCounter records a dropped event for the given priority.
// Safe to call even if InitMetrics has not run.
func incrementDroppedCounter(priority EventPriority) {
	if metricsRegistered && droppedTotal != nil {
		droppedTotal.WithLabelValues(string(priority)).Inc()
	}
}

// recordDispatch records a successful hand-off to a provider. Safe to call
// even if InitMetrics has not run.
func recordDispatch(provider string, eventType EventType) {
	if metricsRegistered && dispatchedTotal != nil {
		dispatchedTotal.WithLabelValues(provider, string(eventType)).Inc()
	}
}

// setQueueDepth reports the current backlog for a priority queue. Safe to
// call even if InitMetrics has not run.
func setQueueDepth(priority EventPriority, depth int) {
	if metricsRegistered && queueDepth != nil {
		queueDepth.WithLabelValues(string(priority)).Set(float64(depth))
	}
}

// GetDroppedCounter returns the dropped-events collector for testing.
// Returns nil if metrics have not been initialized.
func GetDroppedCounter() *prometheus.CounterVec {
	return droppedTotal
}
