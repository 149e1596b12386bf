// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/ashureev/goally/internal/domain"
)

// SessionStore persists conversation sessions. Callers must hold the
// session's lock for the duration of a turn.
type SessionStore interface {
	// LoadSession returns the session, creating a fresh one if absent.
	LoadSession(ctx context.Context, userID, sessionID string) (*domain.Session, error)

	// SaveSession persists the session.
	SaveSession(ctx context.Context, session *domain.Session) error

	// DeleteSession removes the session.
	DeleteSession(ctx context.Context, userID, sessionID string) error
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	OpenOnly bool
	GoalID   string
}

// TaskStore persists committed tasks, scoped per user.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error)
	UpdateTask(ctx context.Context, task *domain.Task) error
	DeleteTask(ctx context.Context, userID, taskID string) error
	CompleteTask(ctx context.Context, userID, taskID string, at time.Time) (*domain.Task, error)
	ListTasks(ctx context.Context, userID string, filter TaskFilter) ([]*domain.Task, error)

	// RescheduleTask moves an open task to at and clears its reminder. It
	// returns domain.ErrNotFound when the task is missing or completed.
	RescheduleTask(ctx context.Context, userID, taskID string, at time.Time, text string) error

	// MarkReminderSent flags an open task's reminder as sent. It returns
	// domain.ErrNotFound when the task is missing or completed.
	MarkReminderSent(ctx context.Context, userID, taskID string) error

	// ListUsersWithOpenTasks returns every user that has a non-completed task.
	ListUsersWithOpenTasks(ctx context.Context) ([]string, error)

	// ListReminderCandidates returns open tasks scheduled within [from, to]
	// whose reminder has not been sent.
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*domain.Task, error)
}

// GoalStore persists committed goals, scoped per user.
type GoalStore interface {
	CreateGoal(ctx context.Context, goal *domain.Goal) error
	GetGoal(ctx context.Context, userID, goalID string) (*domain.Goal, error)
	UpdateGoal(ctx context.Context, goal *domain.Goal) error
	DeleteGoal(ctx context.Context, userID, goalID string) error
	ListGoals(ctx context.Context, userID string) ([]*domain.Goal, error)
}

// ProfileStore persists user profiles.
type ProfileStore interface {
	// GetProfile returns nil, nil when the user has no profile.
	GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error)
	UpsertProfile(ctx context.Context, profile *domain.UserProfile) error
}

// BusyStore persists externally supplied busy intervals.
type BusyStore interface {
	ReplaceBusyIntervals(ctx context.Context, userID string, intervals []domain.BusyInterval) error
	ListBusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]domain.BusyInterval, error)
}

// RescheduleLog records reschedule events for later analysis.
type RescheduleLog interface {
	RecordReschedule(ctx context.Context, ev *domain.RescheduleEvent) error
	ListRescheduleEvents(ctx context.Context, userID string) ([]*domain.RescheduleEvent, error)
}

// Repository is the full persistence surface.
type Repository interface {
	SessionStore
	TaskStore
	GoalStore
	ProfileStore
	BusyStore
	RescheduleLog

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the underlying storage.
	Close() error
}
