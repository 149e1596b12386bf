// Package events records what the planner and scheduler did, for logs,
// analysis and downstream consumers.
package events

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/store"
)

// Event types.
const (
	TypeReschedule = "reschedule"
	TypeReminder   = "reminder_due"
	TypeCommit     = "plan_committed"
)

// CommitEvent describes a confirmed plan.
type CommitEvent struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	GoalID      string    `json:"goal_id"`
	ProjectName string    `json:"project_name"`
	TaskIDs     []string  `json:"task_ids"`
	At          time.Time `json:"at"`
}

// Recorder receives events. Implementations must be safe for concurrent use.
type Recorder interface {
	RecordReschedule(ctx context.Context, ev *domain.RescheduleEvent) error
	RecordReminder(ctx context.Context, t *domain.Task) error
	RecordCommit(ctx context.Context, ev CommitEvent) error
}

// LogRecorder writes events to a structured logger.
type LogRecorder struct {
	logger *slog.Logger
}

// NewLogRecorder creates a LogRecorder. A nil logger uses slog.Default.
func NewLogRecorder(logger *slog.Logger) *LogRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogRecorder{logger: logger}
}

func (r *LogRecorder) RecordReschedule(_ context.Context, ev *domain.RescheduleEvent) error {
	r.logger.Info("Task rescheduled",
		"event_id", ev.ID,
		"user_id", ev.UserID,
		"task_id", ev.TaskID,
		"from", ev.From,
		"to", ev.To,
		"anchor", ev.Anchor,
		"reason", ev.Reason)
	return nil
}

func (r *LogRecorder) RecordReminder(_ context.Context, t *domain.Task) error {
	r.logger.Info("Task reminder due",
		"user_id", t.UserID,
		"task_id", t.ID,
		"task_name", t.Name,
		"scheduled_at", t.ScheduledAt)
	return nil
}

func (r *LogRecorder) RecordCommit(_ context.Context, ev CommitEvent) error {
	r.logger.Info("Plan committed",
		"user_id", ev.UserID,
		"session_id", ev.SessionID,
		"goal_id", ev.GoalID,
		"project", ev.ProjectName,
		"tasks", len(ev.TaskIDs))
	return nil
}

// StoreRecorder persists reschedule events to the reschedule log. Other
// events are not stored.
type StoreRecorder struct {
	log store.RescheduleLog
}

// NewStoreRecorder creates a StoreRecorder.
func NewStoreRecorder(log store.RescheduleLog) *StoreRecorder {
	return &StoreRecorder{log: log}
}

func (r *StoreRecorder) RecordReschedule(ctx context.Context, ev *domain.RescheduleEvent) error {
	return r.log.RecordReschedule(ctx, ev)
}

func (r *StoreRecorder) RecordReminder(context.Context, *domain.Task) error { return nil }

func (r *StoreRecorder) RecordCommit(context.Context, CommitEvent) error { return nil }

type multi []Recorder

// Multi fans events out to every recorder. All recorders see every event;
// their errors are joined.
func Multi(recorders ...Recorder) Recorder {
	var m multi
	for _, r := range recorders {
		if r != nil {
			m = append(m, r)
		}
	}
	return m
}

func (m multi) RecordReschedule(ctx context.Context, ev *domain.RescheduleEvent) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordReschedule(ctx, ev))
	}
	return errors.Join(errs...)
}

func (m multi) RecordReminder(ctx context.Context, t *domain.Task) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordReminder(ctx, t))
	}
	return errors.Join(errs...)
}

func (m multi) RecordCommit(ctx context.Context, ev CommitEvent) error {
	var errs []error
	for _, r := range m {
		errs = append(errs, r.RecordCommit(ctx, ev))
	}
	return errors.Join(errs...)
}
