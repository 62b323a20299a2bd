// Package metrics exposes the core controller's Prometheus gauges,
// counters, and histograms: resource-registry population, composite
// workflow outcomes and latency, the operation sequencer's guard
// contention, the reconciler's sweep cadence, and the dirty-spec
// backlog TOE leaves behind on a failed commit/rollback put.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Resource Registry
	RegistrySize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corectl_registry_size",
			Help: "Number of specs currently held per resource kind",
		},
		[]string{"kind"},
	)

	// Composite Workflows
	WorkflowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_workflows_total",
			Help: "Total number of composite workflows by kind and outcome",
		},
		[]string{"workflow", "outcome"},
	)

	WorkflowDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corectl_workflow_duration_seconds",
			Help:    "Composite workflow duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"workflow"},
	)

	// Operation Sequencer
	GuardContentionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_guard_contention_total",
			Help: "Total number of times a guard acquisition had to retry",
		},
		[]string{"kind"},
	)

	GuardBusyTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_guard_busy_total",
			Help: "Total number of times a guard acquisition gave up after exhausting retries",
		},
		[]string{"kind"},
	)

	// Transactional Operation Engine
	DirtySpecsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "corectl_dirty_specs",
			Help: "Number of specs currently dirty (op_result set) awaiting reconciliation, by kind",
		},
		[]string{"kind"},
	)

	IntentPutsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_intent_puts_total",
			Help: "Total number of intent-log PSC puts by kind and result",
		},
		[]string{"kind", "result"},
	)

	// Reconciler
	ReconciliationDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "corectl_reconciliation_duration_seconds",
			Help:    "Time taken for a reconciliation sweep in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	ReconciliationCyclesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corectl_reconciliation_cycles_total",
			Help: "Total number of reconciliation sweeps completed",
		},
	)

	ReconciledSpecsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_reconciled_specs_total",
			Help: "Total number of specs recovered by the reconciler, by kind and recovery branch",
		},
		[]string{"kind", "branch"},
	)

	// Node Client
	NodeRPCDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corectl_node_rpc_duration_seconds",
			Help:    "Node RPC duration in seconds by API family and method",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"family", "method"},
	)

	NodeRPCFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_node_rpc_failures_total",
			Help: "Total number of node RPC failures by API family, method, and error code",
		},
		[]string{"family", "method", "code"},
	)

	// Watch/notify
	WatchCallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_watch_callbacks_total",
			Help: "Total number of watch callbacks dispatched, by result",
		},
		[]string{"result"},
	)

	// Front end
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "corectl_api_requests_total",
			Help: "Total number of front-end API requests by operation and status",
		},
		[]string{"operation", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "corectl_api_request_duration_seconds",
			Help:    "Front-end API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Per-volume capacity limiter
	CapacityLimiterInUse = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "corectl_capacity_limiter_permits_in_use",
			Help: "Number of volume-create capacity-limiter permits currently held",
		},
	)

	CapacityLimiterTimeoutsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "corectl_capacity_limiter_timeouts_total",
			Help: "Total number of volume creates that failed to acquire a capacity-limiter permit within the timeout",
		},
	)
)

func init() {
	prometheus.MustRegister(
		RegistrySize,
		WorkflowsTotal,
		WorkflowDuration,
		GuardContentionTotal,
		GuardBusyTotal,
		DirtySpecsTotal,
		IntentPutsTotal,
		ReconciliationDuration,
		ReconciliationCyclesTotal,
		ReconciledSpecsTotal,
		NodeRPCDuration,
		NodeRPCFailuresTotal,
		WatchCallbacksTotal,
		APIRequestsTotal,
		APIRequestDuration,
		CapacityLimiterInUse,
		CapacityLimiterTimeoutsTotal,
	)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations against a histogram.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed duration to histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the elapsed duration to a labeled histogram.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
