package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "founders",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"method", "route", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "founders",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
	workflowOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "founders",
			Subsystem: "governance",
			Name:      "workflow_outcomes_total",
			Help:      "Dispute and separation workflow outcomes.",
		},
		[]string{"workflow", "outcome"},
	)
	executionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "founders",
			Subsystem: "governance",
			Name:      "separation_execution_seconds",
			Help:      "Separation execution duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"outcome"},
	)
	outboxMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "founders",
			Subsystem: "outbox",
			Name:      "messages_total",
			Help:      "Outbox messages handled by the relay.",
		},
		[]string{"topic", "result"},
	)
)

// RegisterMetrics registers every collector with the default registry. Safe to call repeatedly.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(httpRequests, httpDuration, workflowOutcomes, executionDuration, outboxMessages)
	})
}

func RecordHTTPRequest(method, route string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, route, statusLabel).Inc()
	httpDuration.WithLabelValues(method, route, statusLabel).Observe(duration.Seconds())
}

// RecordWorkflow counts a workflow outcome such as ("dispute", "resolved_approved").
func RecordWorkflow(workflow, outcome string) {
	RegisterMetrics()
	workflowOutcomes.WithLabelValues(workflow, outcome).Inc()
}

func RecordExecution(outcome string, duration time.Duration) {
	RegisterMetrics()
	executionDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func RecordOutbox(topic, result string) {
	RegisterMetrics()
	outboxMessages.WithLabelValues(topic, result).Inc()
}
