package domain

import (
	"fmt"
	"strings"
	"time"
)

// Energy is the effort level a task demands.
type Energy string

const (
	EnergyHigh   Energy = "high"
	EnergyMedium Energy = "medium"
	EnergyLow    Energy = "low"
)

// Valid reports whether e is one of the known energy levels.
func (e Energy) Valid() bool {
	switch e {
	case EnergyHigh, EnergyMedium, EnergyLow:
		return true
	}
	return false
}

// ParseEnergy normalizes a free-form energy label.
func ParseEnergy(s string) Energy {
	return Energy(strings.ToLower(strings.TrimSpace(s)))
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusInProgress TaskStatus = "in_progress"
	StatusCompleted  TaskStatus = "completed"
)

// Plan task bounds.
const (
	MinTasks   = 3
	MaxTasks   = 7
	MinMinutes = 5
	MaxMinutes = 20
)

// MicroTask is one atomic step of a plan.
type MicroTask struct {
	Name             string     `json:"task_name"`
	EstimatedMinutes int        `json:"estimated_minutes"`
	EnergyRequired   Energy     `json:"energy_required"`
	AssignedAnchor   string     `json:"assigned_anchor"`
	ScheduledAt      *time.Time `json:"scheduled_at,omitempty"`
	ScheduledText    string     `json:"scheduled_text,omitempty"`
	Rationale        string     `json:"rationale,omitempty"`
	Status           TaskStatus `json:"status"`
	WasRescheduled   bool       `json:"was_rescheduled,omitempty"`
}

// Duration returns the task's estimated length.
func (t MicroTask) Duration() time.Duration {
	return time.Duration(t.EstimatedMinutes) * time.Minute
}

// Plan is a generated project plan.
type Plan struct {
	ProjectName      string      `json:"project_name"`
	SmartGoalSummary string      `json:"smart_goal_summary"`
	Deadline         *time.Time  `json:"deadline,omitempty"`
	Tags             []string    `json:"tags,omitempty"`
	Tasks            []MicroTask `json:"tasks"`
}

// Clone returns a deep copy of p.
func (p *Plan) Clone() *Plan {
	if p == nil {
		return nil
	}
	c := *p
	if p.Deadline != nil {
		d := *p.Deadline
		c.Deadline = &d
	}
	c.Tags = append([]string(nil), p.Tags...)
	c.Tasks = make([]MicroTask, len(p.Tasks))
	for i, t := range p.Tasks {
		if t.ScheduledAt != nil {
			at := *t.ScheduledAt
			t.ScheduledAt = &at
		}
		c.Tasks[i] = t
	}
	return &c
}

// Violations lists every structural constraint p breaks. An empty result
// means the plan is valid.
func (p *Plan) Violations() []string {
	var out []string
	if n := len(p.Tasks); n < MinTasks || n > MaxTasks {
		out = append(out, fmt.Sprintf("plan has %d tasks, want %d-%d", n, MinTasks, MaxTasks))
	}
	for i, t := range p.Tasks {
		label := t.Name
		if strings.TrimSpace(label) == "" {
			out = append(out, fmt.Sprintf("task %d has no name", i+1))
			label = fmt.Sprintf("#%d", i+1)
		}
		if t.EstimatedMinutes < MinMinutes || t.EstimatedMinutes > MaxMinutes {
			out = append(out, fmt.Sprintf("task %q estimates %d minutes, want %d-%d", label, t.EstimatedMinutes, MinMinutes, MaxMinutes))
		}
		if !t.EnergyRequired.Valid() {
			out = append(out, fmt.Sprintf("task %q has invalid energy_required %q", label, t.EnergyRequired))
		}
		if strings.TrimSpace(t.AssignedAnchor) == "" {
			out = append(out, fmt.Sprintf("task %q has no assigned_anchor", label))
		}
	}
	return out
}

// ActionType names a side effect the caller should apply.
type ActionType string

const (
	ActionCreateTask   ActionType = "create_task"
	ActionCreateGoal   ActionType = "create_goal"
	ActionUpdateTask   ActionType = "update_task"
	ActionCompleteTask ActionType = "complete_task"
	ActionRefreshUI    ActionType = "refresh_ui"
)

// Action is a side effect emitted alongside a turn response.
type Action struct {
	Type ActionType     `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}
