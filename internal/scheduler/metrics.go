package scheduler

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ashureev/goally/internal/domain"
)

var (
	reschedules = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "goally_reschedules_total",
		Help: "Tasks moved to a new slot, by reason.",
	}, []string{"reason"})

	slotSearchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goally_slot_search_failures_total",
		Help: "Slot searches that exhausted the horizon.",
	})

	remindersDue = promauto.NewCounter(prometheus.CounterOpts{
		Name: "goally_reminders_due_total",
		Help: "Task reminders raised by the sweeper.",
	})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "goally_sweep_duration_seconds",
		Help:    "Duration of one sweeper pass.",
		Buckets: prometheus.DefBuckets,
	})
)

// ExecutionMetrics summarizes how a user follows through on tasks. Rates
// are percentages rounded to one decimal.
type ExecutionMetrics struct {
	CompletionRate        float64 `json:"completion_rate"`
	OnTimeRate            float64 `json:"on_time_rate"`
	RescheduleSuccessRate float64 `json:"reschedule_success_rate"`
	TotalTasks            int     `json:"total_tasks"`
	CompletedTasks        int     `json:"completed_tasks"`
	RescheduledTasks      int     `json:"rescheduled_tasks"`
}

// ComputeMetrics derives execution metrics from tasks. A completion is on
// time when it happened on the scheduled calendar day in loc.
func ComputeMetrics(tasks []*domain.Task, loc *time.Location) ExecutionMetrics {
	if loc == nil {
		loc = time.UTC
	}
	var m ExecutionMetrics
	var onTime, rescheduledDone int
	for _, t := range tasks {
		m.TotalTasks++
		done := t.Status == domain.StatusCompleted
		if done {
			m.CompletedTasks++
			if completedOnTime(t, loc) {
				onTime++
			}
		}
		if t.WasRescheduled {
			m.RescheduledTasks++
			if done {
				rescheduledDone++
			}
		}
	}
	m.CompletionRate = percent(m.CompletedTasks, m.TotalTasks)
	m.OnTimeRate = percent(onTime, m.CompletedTasks)
	m.RescheduleSuccessRate = percent(rescheduledDone, m.RescheduledTasks)
	return m
}

func completedOnTime(t *domain.Task, loc *time.Location) bool {
	if t.ScheduledAt == nil {
		return true
	}
	if t.CompletedAt == nil {
		return false
	}
	sy, sm, sd := t.ScheduledAt.In(loc).Date()
	cy, cm, cd := t.CompletedAt.In(loc).Date()
	return sy == cy && sm == cm && sd == cd
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(n)/float64(total)*1000) / 10
}
