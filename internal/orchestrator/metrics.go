package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus metrics for intent execution.
type Metrics struct {
	transitions      *prometheus.CounterVec
	approvalsSkipped *prometheus.CounterVec
}

// NewMetrics creates and registers the orchestrator metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delex_intent_transitions_total",
			Help: "Intent status transitions, labeled by kind and status.",
		}, []string{"kind", "status"}),
		approvalsSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delex_intent_approvals_skipped_total",
			Help: "Approvals skipped because the existing allowance covered the amount.",
		}, []string{"kind"}),
	}
	reg.MustRegister(m.transitions, m.approvalsSkipped)
	return m
}

func (m *Metrics) transition(kind Kind, status Status) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(kind), status.String()).Inc()
}

func (m *Metrics) approvalSkipped(kind Kind) {
	if m == nil {
		return
	}
	m.approvalsSkipped.WithLabelValues(string(kind)).Inc()
}
