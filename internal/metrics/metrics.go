package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	syncAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dorothea",
			Name:      "sync_attempts_total",
			Help:      "Drained queue items by result.",
		},
		[]string{"action", "result"},
	)

	drainPasses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "dorothea",
			Name:      "sync_drain_passes_total",
			Help:      "Completed drain passes.",
		},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "dorothea",
			Name:      "sync_queue_depth",
			Help:      "Queue items by partition.",
		},
		[]string{"partition"},
	)

	mergeRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dorothea",
			Name:      "merge_refreshes_total",
			Help:      "Event merge refreshes by result.",
		},
		[]string{"result"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dorothea",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(syncAttempts, drainPasses, queueDepth, mergeRefreshes, httpRequests)
	})
}

// IncSyncAttempt counts one drained item outcome ("success" or "failure").
func IncSyncAttempt(action, result string) {
	syncAttempts.WithLabelValues(action, result).Inc()
}

// IncDrainPass counts one completed drain pass.
func IncDrainPass() {
	drainPasses.Inc()
}

// SetQueueDepth records the current partition sizes.
func SetQueueDepth(pending, failed int) {
	queueDepth.WithLabelValues("pending").Set(float64(pending))
	queueDepth.WithLabelValues("failed").Set(float64(failed))
}

// IncMergeRefresh counts one refresh outcome ("success" or "fallback").
func IncMergeRefresh(result string) {
	mergeRefreshes.WithLabelValues(result).Inc()
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}
