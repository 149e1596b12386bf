package domain

import "time"

// Task is a committed MicroTask persisted for a user.
type Task struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	GoalID string `json:"goal_id,omitempty"`
	MicroTask
	ReminderSent bool       `json:"reminder_sent"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// IsOpen reports whether the task still needs doing.
func (t *Task) IsOpen() bool {
	return t.Status != StatusCompleted
}

// GoalStatus is the lifecycle state of a goal.
type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
	GoalArchived  GoalStatus = "archived"
)

// Goal is a committed plan's top-level record.
type Goal struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Title     string     `json:"title"`
	Summary   string     `json:"summary,omitempty"`
	Deadline  *time.Time `json:"deadline,omitempty"`
	Status    GoalStatus `json:"status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// BusyInterval is an externally occupied window of time.
type BusyInterval struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Summary string    `json:"summary,omitempty"`
}

// Overlap returns how long [start,end) overlaps b.
func (b BusyInterval) Overlap(start, end time.Time) time.Duration {
	if !start.Before(b.End) || !end.After(b.Start) {
		return 0
	}
	lo, hi := start, end
	if b.Start.After(lo) {
		lo = b.Start
	}
	if b.End.Before(hi) {
		hi = b.End
	}
	return hi.Sub(lo)
}

// RescheduleEvent records one move of a task for later analysis.
type RescheduleEvent struct {
	ID     string     `json:"id"`
	TaskID string     `json:"task_id"`
	UserID string     `json:"user_id"`
	From   *time.Time `json:"from,omitempty"`
	To     time.Time  `json:"to"`
	Anchor string     `json:"anchor"`
	Reason string     `json:"reason"`
	At     time.Time  `json:"at"`
}

// Reschedule reasons.
const (
	ReasonMissedDeadline = "auto_missed_deadline"
	ReasonUserRequested  = "user_requested"
	ReasonConflict       = "calendar_conflict"
)
