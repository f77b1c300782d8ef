// Package metrics exposes reconciliation counters in Prometheus format.
//
// An invocation is a short-lived process, so metrics are not served over
// HTTP; the CLI writes them to a node-exporter textfile when asked.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry holds every ccinv collector.
var Registry = prometheus.NewRegistry()

var (
	outcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccinv_outcomes_total",
			Help: "Per-target mutation outcomes by kind and verdict.",
		},
		[]string{"kind", "verdict"},
	)
	taskWaitSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ccinv_task_wait_seconds",
			Help:    "Time spent polling controller tasks to a terminal state.",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"result"},
	)
	remoteCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccinv_remote_calls_total",
			Help: "Controller API calls by operation family.",
		},
		[]string{"family"},
	)
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ccinv_invocations_total",
			Help: "Reconciliation invocations by intent and result.",
		},
		[]string{"intent", "result"},
	)
	lastRunTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ccinv_last_run_timestamp_seconds",
			Help: "Unix time of the last completed invocation.",
		},
	)
)

func init() {
	Registry.MustRegister(outcomesTotal)
	Registry.MustRegister(taskWaitSeconds)
	Registry.MustRegister(remoteCallsTotal)
	Registry.MustRegister(invocationsTotal)
	Registry.MustRegister(lastRunTimestamp)
}

// RecordOutcome counts one per-target verdict.
func RecordOutcome(kind, verdict string) {
	outcomesTotal.WithLabelValues(kind, verdict).Inc()
}

// ObserveTaskWait records how long a task poll took and how it ended
// (success, failed or timeout).
func ObserveTaskWait(result string, d time.Duration) {
	taskWaitSeconds.WithLabelValues(result).Observe(d.Seconds())
}

// RecordRemoteCall counts one controller API call.
func RecordRemoteCall(family string) {
	remoteCallsTotal.WithLabelValues(family).Inc()
}

// RecordInvocation counts a finished invocation and stamps its end time.
func RecordInvocation(intent string, changed, failed bool) {
	result := "noop"
	switch {
	case failed:
		result = "failed"
	case changed:
		result = "changed"
	}
	invocationsTotal.WithLabelValues(intent, result).Inc()
	lastRunTimestamp.SetToCurrentTime()
}

// WriteTextfile writes the registry in text exposition format to path.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, Registry)
}
