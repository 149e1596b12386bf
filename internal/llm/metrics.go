package llm

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	generatorCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goally_llm_calls_total",
		Help: "Generator calls by backend, task and outcome.",
	}, []string{"backend", "task", "outcome"})

	generatorFallbacks = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goally_llm_fallbacks_total",
		Help: "Calls retried on the fallback generator.",
	}, []string{"task"})

	generatorLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "goally_llm_call_duration_seconds",
		Help:    "Generator call latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"backend", "task"})
)

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrParse):
		return "parse_error"
	default:
		return "error"
	}
}
