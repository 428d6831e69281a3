// Package metrics defines the daemon's Prometheus metrics. It has no
// dependency on internal/runner or internal/httpapi so both can import
// it without a cycle: runner records counters as runs complete,
// httpapi exposes them (plus a handful of gauges) on GET /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsByState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "barc_jobs_total",
			Help: "Number of configured jobs by current state",
		},
		[]string{"state"},
	)

	WSClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "barc_ws_clients_connected",
			Help: "Number of websocket clients currently connected to the admin feed",
		},
	)

	SlaveConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "barc_slave_connections_active",
			Help: "Number of pooled connections currently held open to slave hosts",
		},
	)

	JobRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "barc_job_runs_total",
			Help: "Total number of job runs completed, by terminal state",
		},
		[]string{"state"},
	)

	JobRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "barc_job_run_duration_seconds",
			Help:    "Duration of completed job runs in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16),
		},
		[]string{"state"},
	)
)

// RecordJobRun records a completed run's terminal state and wall-clock
// duration.
func RecordJobRun(state string, seconds float64) {
	JobRunsTotal.WithLabelValues(state).Inc()
	JobRunDuration.WithLabelValues(state).Observe(seconds)
}
