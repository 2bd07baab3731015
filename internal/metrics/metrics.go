// Package metrics exposes prometheus collectors for closure sessions and
// reasoning-model calls.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "closeout_sessions_active",
		Help: "Live closure sessions",
	})

	PhaseTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeout_phase_transitions_total",
		Help: "Closure state machine transitions",
	}, []string{"from", "to"})

	OracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeout_oracle_calls_total",
		Help: "Reasoning-model calls by stage and outcome",
	}, []string{"stage", "outcome"})

	OracleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "closeout_oracle_duration_seconds",
		Help:    "Reasoning-model call latency",
		Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 15, 30, 60},
	}, []string{"stage"})

	OracleTokens = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeout_oracle_tokens_total",
		Help: "Tokens consumed by direction",
	}, []string{"stage", "direction"})

	Degraded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeout_degraded_total",
		Help: "Placeholder substitutions by stage",
	}, []string{"stage"})

	TicketsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeout_tickets_submitted_total",
		Help: "Tickets written to the store by risk level",
	}, []string{"risk_level"})

	AuditScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "closeout_audit_score",
		Help:    "Overall audit score of submitted tickets",
		Buckets: []float64{20, 40, 60, 70, 80, 90, 100},
	})

	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "closeout_errors_total",
		Help: "Error counts by component",
	}, []string{"component", "error_type"})
)
