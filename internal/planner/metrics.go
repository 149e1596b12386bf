package planner

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	planRegenerations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goally_plan_regenerations_total",
		Help: "Plans regenerated after failing validation, by stage.",
	}, []string{"stage"})

	planFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goally_plan_validation_failures_total",
		Help: "Plans rejected after the allowed regeneration, by stage.",
	}, []string{"stage"})
)
