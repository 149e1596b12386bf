package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goally/internal/domain"
)

const taskColumns = `id, user_id, goal_id, name, estimated_minutes, energy, anchor,
	scheduled_at, scheduled_text, rationale, status, was_rescheduled, reminder_sent,
	created_at, updated_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var t domain.Task
	var goalID, scheduledText, rationale sql.NullString
	var scheduledAt, completedAt sql.NullInt64
	var energy, status string
	var createdAt, updatedAt int64

	err := row.Scan(
		&t.ID, &t.UserID, &goalID, &t.Name, &t.EstimatedMinutes, &energy, &t.AssignedAnchor,
		&scheduledAt, &scheduledText, &rationale, &status, &t.WasRescheduled, &t.ReminderSent,
		&createdAt, &updatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}
	t.GoalID = goalID.String
	t.EnergyRequired = domain.Energy(energy)
	t.Status = domain.TaskStatus(status)
	t.ScheduledAt = fromNullUnix(scheduledAt)
	t.ScheduledText = scheduledText.String
	t.Rationale = rationale.String
	t.CreatedAt = unixUTC(createdAt)
	t.UpdatedAt = unixUTC(updatedAt)
	t.CompletedAt = fromNullUnix(completedAt)
	return &t, nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, op, query string, args ...any) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close task rows", "op", op, "error", closeErr)
		}
	}()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: iterate: %w", op, err)
	}
	return tasks, nil
}

// CreateTask inserts a task.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *domain.Task) error {
	now := s.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	var goalID any
	if t.GoalID != "" {
		goalID = t.GoalID
	}
	_, err := s.exec(ctx, "create task", `
		INSERT INTO tasks (`+taskColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.UserID, goalID, t.Name, t.EstimatedMinutes, string(t.EnergyRequired), t.AssignedAnchor,
		nullUnix(t.ScheduledAt), t.ScheduledText, t.Rationale, string(t.Status), t.WasRescheduled, t.ReminderSent,
		t.CreatedAt.Unix(), t.UpdatedAt.Unix(), nullUnix(t.CompletedAt))
	return err
}

// GetTask retrieves a task owned by userID.
func (s *SQLiteStore) GetTask(ctx context.Context, userID, taskID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}
	return t, nil
}

// UpdateTask overwrites a task's mutable fields.
func (s *SQLiteStore) UpdateTask(ctx context.Context, t *domain.Task) error {
	t.UpdatedAt = s.now().UTC()
	res, err := s.exec(ctx, "update task", `
		UPDATE tasks SET
			name = ?, estimated_minutes = ?, energy = ?, anchor = ?,
			scheduled_at = ?, scheduled_text = ?, rationale = ?, status = ?,
			was_rescheduled = ?, reminder_sent = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND user_id = ?`,
		t.Name, t.EstimatedMinutes, string(t.EnergyRequired), t.AssignedAnchor,
		nullUnix(t.ScheduledAt), t.ScheduledText, t.Rationale, string(t.Status),
		t.WasRescheduled, t.ReminderSent, t.UpdatedAt.Unix(), nullUnix(t.CompletedAt),
		t.ID, t.UserID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// RescheduleTask moves an open task. Only the schedule columns are written,
// so a completion that raced the caller is never undone.
func (s *SQLiteStore) RescheduleTask(ctx context.Context, userID, taskID string, at time.Time, text string) error {
	res, err := s.exec(ctx, "reschedule task", `
		UPDATE tasks SET scheduled_at = ?, scheduled_text = ?, was_rescheduled = 1,
			reminder_sent = 0, updated_at = ?
		WHERE id = ? AND user_id = ? AND status != ?`,
		at.Unix(), text, s.now().Unix(), taskID, userID, string(domain.StatusCompleted))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// MarkReminderSent flags an open task's reminder as sent.
func (s *SQLiteStore) MarkReminderSent(ctx context.Context, userID, taskID string) error {
	res, err := s.exec(ctx, "mark reminder sent", `
		UPDATE tasks SET reminder_sent = 1, updated_at = ?
		WHERE id = ? AND user_id = ? AND status != ?`,
		s.now().Unix(), taskID, userID, string(domain.StatusCompleted))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteTask removes a task.
func (s *SQLiteStore) DeleteTask(ctx context.Context, userID, taskID string) error {
	res, err := s.exec(ctx, "delete task", `DELETE FROM tasks WHERE id = ? AND user_id = ?`, taskID, userID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// CompleteTask marks a task completed at the given time.
func (s *SQLiteStore) CompleteTask(ctx context.Context, userID, taskID string, at time.Time) (*domain.Task, error) {
	res, err := s.exec(ctx, "complete task", `
		UPDATE tasks SET status = ?, completed_at = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		string(domain.StatusCompleted), at.Unix(), s.now().Unix(), taskID, userID)
	if err != nil {
		return nil, err
	}
	if err := requireAffected(res); err != nil {
		return nil, err
	}
	return s.GetTask(ctx, userID, taskID)
}

// ListTasks returns a user's tasks ordered by schedule.
func (s *SQLiteStore) ListTasks(ctx context.Context, userID string, f TaskFilter) ([]*domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE user_id = ?`
	args := []any{userID}
	if f.OpenOnly {
		query += ` AND status != ?`
		args = append(args, string(domain.StatusCompleted))
	}
	if f.GoalID != "" {
		query += ` AND goal_id = ?`
		args = append(args, f.GoalID)
	}
	query += ` ORDER BY scheduled_at IS NULL, scheduled_at, created_at`
	return s.queryTasks(ctx, "list tasks", query, args...)
}

// ListUsersWithOpenTasks returns every user with a non-completed task.
func (s *SQLiteStore) ListUsersWithOpenTasks(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT user_id FROM tasks WHERE status != ? ORDER BY user_id`, string(domain.StatusCompleted))
	if err != nil {
		return nil, fmt.Errorf("list users with open tasks: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close user rows", "error", closeErr)
		}
	}()

	var users []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan user id: %w", err)
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// ListReminderCandidates returns open, un-reminded tasks scheduled in [from, to].
func (s *SQLiteStore) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]*domain.Task, error) {
	return s.queryTasks(ctx, "list reminder candidates", `
		SELECT `+taskColumns+` FROM tasks
		WHERE status != ? AND reminder_sent = 0
		  AND scheduled_at IS NOT NULL AND scheduled_at BETWEEN ? AND ?
		ORDER BY scheduled_at`,
		string(domain.StatusCompleted), from.Unix(), to.Unix())
}

const goalColumns = `id, user_id, title, summary, deadline, status, created_at, updated_at`

func scanGoal(row rowScanner) (*domain.Goal, error) {
	var g domain.Goal
	var summary sql.NullString
	var deadline sql.NullInt64
	var status string
	var createdAt, updatedAt int64
	if err := row.Scan(&g.ID, &g.UserID, &g.Title, &summary, &deadline, &status, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	g.Summary = summary.String
	g.Deadline = fromNullUnix(deadline)
	g.Status = domain.GoalStatus(status)
	g.CreatedAt = unixUTC(createdAt)
	g.UpdatedAt = unixUTC(updatedAt)
	return &g, nil
}

// CreateGoal inserts a goal.
func (s *SQLiteStore) CreateGoal(ctx context.Context, g *domain.Goal) error {
	now := s.now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = domain.GoalActive
	}
	_, err := s.exec(ctx, "create goal", `
		INSERT INTO goals (`+goalColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.UserID, g.Title, g.Summary, nullUnix(g.Deadline), string(g.Status),
		g.CreatedAt.Unix(), g.UpdatedAt.Unix())
	return err
}

// GetGoal retrieves a goal owned by userID.
func (s *SQLiteStore) GetGoal(ctx context.Context, userID, goalID string) (*domain.Goal, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE id = ? AND user_id = ?`, goalID, userID)
	g, err := scanGoal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan goal: %w", err)
	}
	return g, nil
}

// UpdateGoal overwrites a goal's mutable fields.
func (s *SQLiteStore) UpdateGoal(ctx context.Context, g *domain.Goal) error {
	g.UpdatedAt = s.now().UTC()
	res, err := s.exec(ctx, "update goal", `
		UPDATE goals SET title = ?, summary = ?, deadline = ?, status = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		g.Title, g.Summary, nullUnix(g.Deadline), string(g.Status), g.UpdatedAt.Unix(), g.ID, g.UserID)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// DeleteGoal removes a goal and its tasks.
func (s *SQLiteStore) DeleteGoal(ctx context.Context, userID, goalID string) error {
	res, err := s.exec(ctx, "delete goal", `DELETE FROM goals WHERE id = ? AND user_id = ?`, goalID, userID)
	if err != nil {
		return err
	}
	if err := requireAffected(res); err != nil {
		return err
	}
	_, err = s.exec(ctx, "delete goal tasks", `DELETE FROM tasks WHERE goal_id = ? AND user_id = ?`, goalID, userID)
	return err
}

// ListGoals returns a user's goals, newest first.
func (s *SQLiteStore) ListGoals(ctx context.Context, userID string) ([]*domain.Goal, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+goalColumns+` FROM goals WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close goal rows", "error", closeErr)
		}
	}()

	var goals []*domain.Goal
	for rows.Next() {
		g, err := scanGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		goals = append(goals, g)
	}
	return goals, rows.Err()
}
