package httpapi

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Turn outcomes recorded on the turns counter.
const (
	OutcomeCompleted = "completed"
	OutcomeDuplicate = "duplicate"
	OutcomeEscalated = "escalated"
	OutcomeError     = "error"
)

// Metrics holds the API-level Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	turns       *prometheus.CounterVec
	escalations *prometheus.CounterVec
}

// NewMetrics creates the collectors on a fresh registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		turns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportflow_turns_total",
				Help: "Total processed turns by outcome",
			},
			[]string{"outcome", "workflow"},
		),
		escalations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "supportflow_escalations_total",
				Help: "Total escalations by reason",
			},
			[]string{"reason"},
		),
	}
	m.registry.MustRegister(m.turns, m.escalations)
	return m
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordTurn counts one processed turn.
func (m *Metrics) RecordTurn(outcome, workflow string) {
	m.turns.WithLabelValues(outcome, workflow).Inc()
}

// RecordEscalation counts one escalation by reason.
func (m *Metrics) RecordEscalation(reason string) {
	m.escalations.WithLabelValues(reason).Inc()
}
