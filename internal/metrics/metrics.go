package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atelier",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	transitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atelier",
			Name:      "transitions_total",
			Help:      "Workflow transitions by entity and target status.",
		},
		[]string{"entity", "status"},
	)

	transitionConflicts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atelier",
			Name:      "transition_conflicts_total",
			Help:      "Transitions rejected by the optimistic concurrency guard.",
		},
		[]string{"entity"},
	)

	gatewayCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atelier",
			Name:      "escrow_calls_total",
			Help:      "Escrow gateway calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)

	notifyFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atelier",
			Name:      "notify_failures_total",
			Help:      "Notification deliveries that failed and were dropped.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(httpRequests, transitions, transitionConflicts, gatewayCalls, notifyFailures)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

// IncTransition counts a committed workflow transition.
func IncTransition(entity, status string) {
	transitions.WithLabelValues(entity, status).Inc()
}

// IncConflict counts a transition rejected by the version guard.
func IncConflict(entity string) {
	transitionConflicts.WithLabelValues(entity).Inc()
}

// IncGateway counts an escrow gateway call.
func IncGateway(operation, outcome string) {
	gatewayCalls.WithLabelValues(operation, outcome).Inc()
}

// IncNotifyFailure counts a dropped notification.
func IncNotifyFailure() {
	notifyFailures.Inc()
}
