package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goally_turns_total",
		Help: "Conversation turns handled, by intent and outcome.",
	}, []string{"intent", "outcome"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goally_turn_duration_seconds",
		Help:    "Time to handle one conversation turn, by intent.",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"intent"})

	activeTurns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "goally_active_turns",
		Help: "Turns currently in progress.",
	})

	commitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goally_plans_committed_total",
		Help: "Staged plans confirmed and persisted.",
	})

	commitRollbacks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goally_plan_commit_rollbacks_total",
		Help: "Confirmed plans whose store writes were undone because the turn did not finish.",
	})
)
