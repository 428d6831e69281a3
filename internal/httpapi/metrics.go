package httpapi

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/coldroot-labs/barc/internal/job"
	"github.com/coldroot-labs/barc/internal/metrics"
	"github.com/coldroot-labs/barc/internal/slavepool"
	"github.com/coldroot-labs/barc/internal/wsapi"
)

var allJobStates = []job.State{
	job.StateNone, job.StateWaiting, job.StateRunning,
	job.StateDone, job.StateError, job.StateAborted, job.StateDisconnected,
}

// MetricsCollector refreshes the gauge metrics from live state just
// before each scrape. Unlike the counters in internal/metrics, which
// are incremented as events happen, the gauges here reflect a snapshot
// taken on read.
type MetricsCollector struct {
	registry *job.Registry
	hub      *wsapi.Hub
	pool     *slavepool.Pool
}

// NewMetricsCollector returns a MetricsCollector. pool may be nil if
// this daemon instance has no slave hosts configured.
func NewMetricsCollector(registry *job.Registry, hub *wsapi.Hub, pool *slavepool.Pool) *MetricsCollector {
	return &MetricsCollector{registry: registry, hub: hub, pool: pool}
}

func (c *MetricsCollector) refresh() {
	counts := make(map[string]int, len(allJobStates))
	for _, s := range allJobStates {
		counts[s.String()] = 0
	}
	for _, j := range c.registry.Jobs() {
		counts[j.Activity().State.String()]++
	}
	for state, n := range counts {
		metrics.JobsByState.WithLabelValues(state).Set(float64(n))
	}

	if c.hub != nil {
		metrics.WSClientsConnected.Set(float64(c.hub.ConnectedCount()))
	}
	if c.pool != nil {
		metrics.SlaveConnectionsActive.Set(float64(c.pool.Active()))
	}
}

// Handler returns an http.Handler serving GET /metrics in Prometheus
// text exposition format, refreshing the gauges on every scrape.
func (c *MetricsCollector) Handler() http.Handler {
	inner := promhttp.Handler()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.refresh()
		inner.ServeHTTP(w, r)
	})
}

// Healthz handles GET /healthz: a liveness probe with no dependency
// checks, since the daemon has no external service it must reach to be
// considered alive (slave connections are dialed lazily per job run).
func Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{"status": "ok"})
}
