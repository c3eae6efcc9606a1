package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the bridge
	Registry = prometheus.NewRegistry()

	// JournalEvents counts classified journal records by event name
	JournalEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "journal_events_total", Help: "Journal records processed by event name."},
		[]string{"event"},
	)
	// DispatchTasks counts dispatch queue outcomes
	DispatchTasks = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "dispatch_tasks_total", Help: "Dispatch queue tasks by name and outcome."},
		[]string{"task", "status"},
	)
	// QueueDepth tracks the number of tasks waiting in the dispatch queue
	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "dispatch_queue_depth", Help: "Tasks currently waiting in the dispatch queue."},
	)
	// APIRequests counts outbound API calls by endpoint and outcome
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "api_requests_total", Help: "Outbound API requests by endpoint and status."},
		[]string{"endpoint", "status"},
	)
	// APIDuration records outbound API call durations in seconds
	APIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "api_request_duration_seconds", Help: "Outbound API request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"endpoint"},
	)
	// OutboxDeliveries counts outbox replay outcomes
	OutboxDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "outbox_deliveries_total", Help: "Outbox delivery attempts by status."},
		[]string{"status"},
	)
)

// RegisterDefault registers collectors on the bridge registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(JournalEvents)
		Registry.MustRegister(DispatchTasks)
		Registry.MustRegister(QueueDepth)
		Registry.MustRegister(APIRequests)
		Registry.MustRegister(APIDuration)
		Registry.MustRegister(OutboxDeliveries)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
