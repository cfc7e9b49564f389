package registry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for the registry.
type Metrics struct {
	refreshDuration prometheus.Histogram
	poolFailures    prometheus.Counter
	staleDiscards   prometheus.Counter
	commits         prometheus.Counter
	pools           prometheus.Gauge
}

// NewMetrics creates and registers the registry metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		refreshDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delex_registry_refresh_duration_seconds",
			Help:    "Time taken by one pool registry refresh, committed or not.",
			Buckets: prometheus.DefBuckets,
		}),
		poolFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delex_registry_pool_fetch_failures_total",
			Help: "Pools left out of a snapshot because their fetch failed.",
		}),
		staleDiscards: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delex_registry_stale_discards_total",
			Help: "Refresh results discarded because a newer generation was requested.",
		}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delex_registry_commits_total",
			Help: "Snapshots committed.",
		}),
		pools: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "delex_registry_pools",
			Help: "Pools in the committed snapshot.",
		}),
	}
	reg.MustRegister(m.refreshDuration, m.poolFailures, m.staleDiscards, m.commits, m.pools)
	return m
}

func (m *Metrics) observeRefresh(start time.Time) {
	if m == nil {
		return
	}
	m.refreshDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) poolFailed() {
	if m == nil {
		return
	}
	m.poolFailures.Inc()
}

func (m *Metrics) staleDiscarded() {
	if m == nil {
		return
	}
	m.staleDiscards.Inc()
}

func (m *Metrics) committed(pools int) {
	if m == nil {
		return
	}
	m.commits.Inc()
	m.pools.Set(float64(pools))
}
