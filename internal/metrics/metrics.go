// Package metrics exposes Prometheus counters for cache, sync and test
// activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	cacheLookups *prometheus.CounterVec
	syncs        *prometheus.CounterVec
	reparsed     prometheus.Counter
	testRuns     *prometheus.CounterVec
	syncDuration prometheus.Histogram
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		reg: reg,
		cacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bmdash_cache_lookups_total",
			Help: "Evidence cache lookups by result",
		}, []string{"result"}),
		syncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bmdash_syncs_total",
			Help: "State refreshes by kind",
		}, []string{"kind"}),
		reparsed: f.NewCounter(prometheus.CounterOpts{
			Name: "bmdash_stories_reparsed_total",
			Help: "Stories re-parsed during sync",
		}),
		testRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bmdash_test_runs_total",
			Help: "Test file executions by runner and result",
		}, []string{"runner", "result"}),
		syncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bmdash_sync_duration_seconds",
			Help:    "Bootstrap and sync duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
	}
}

// CacheLookup records a cache hit or miss.
func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	m.cacheLookups.WithLabelValues("miss").Inc()
}

// Sync records one bootstrap or sync of the given kind and its duration.
func (m *Metrics) Sync(kind string, d time.Duration, reparsed int) {
	if m == nil {
		return
	}
	m.syncs.WithLabelValues(kind).Inc()
	m.reparsed.Add(float64(reparsed))
	m.syncDuration.Observe(d.Seconds())
}

// TestRun records one test file execution.
func (m *Metrics) TestRun(runner string, ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "no_result"
	}
	m.testRuns.WithLabelValues(runner, result).Inc()
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}
