package ledger

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"delex/internal/failure"
)

// Metrics holds the Prometheus metrics for ledger calls.
type Metrics struct {
	calls    *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// NewMetrics creates and registers the ledger metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delex_ledger_calls_total",
			Help: "Ledger calls, labeled by method and result kind.",
		}, []string{"method", "result"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "delex_ledger_call_duration_seconds",
			Help:    "Latency of a single ledger call attempt.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(m.calls, m.duration)
	return m
}

func (m *Metrics) observe(method string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = failure.KindOf(err).String()
	}
	m.calls.WithLabelValues(method, result).Inc()
	m.duration.WithLabelValues(method).Observe(elapsed.Seconds())
}
