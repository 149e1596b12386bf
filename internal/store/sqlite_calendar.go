package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ashureev/goally/internal/domain"
)

// ReplaceBusyIntervals swaps a user's busy intervals for the given set.
func (s *SQLiteStore) ReplaceBusyIntervals(ctx context.Context, userID string, intervals []domain.BusyInterval) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin busy tx: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			slog.Warn("failed to roll back busy tx", "error", rbErr)
		}
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM busy_intervals WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("clear busy intervals: %w", err)
	}
	for _, b := range intervals {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO busy_intervals (user_id, start_at, end_at, summary) VALUES (?, ?, ?, ?)`,
			userID, b.Start.Unix(), b.End.Unix(), b.Summary); err != nil {
			return fmt.Errorf("insert busy interval: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit busy intervals: %w", err)
	}
	return nil
}

// ListBusyIntervals returns intervals overlapping [from, to).
func (s *SQLiteStore) ListBusyIntervals(ctx context.Context, userID string, from, to time.Time) ([]domain.BusyInterval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT start_at, end_at, summary FROM busy_intervals
		WHERE user_id = ? AND start_at < ? AND end_at > ?
		ORDER BY start_at`, userID, to.Unix(), from.Unix())
	if err != nil {
		return nil, fmt.Errorf("list busy intervals: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close busy rows", "error", closeErr)
		}
	}()

	var out []domain.BusyInterval
	for rows.Next() {
		var start, end int64
		var summary sql.NullString
		if err := rows.Scan(&start, &end, &summary); err != nil {
			return nil, fmt.Errorf("scan busy interval: %w", err)
		}
		out = append(out, domain.BusyInterval{Start: unixUTC(start), End: unixUTC(end), Summary: summary.String})
	}
	return out, rows.Err()
}

// RecordReschedule appends a reschedule event.
func (s *SQLiteStore) RecordReschedule(ctx context.Context, ev *domain.RescheduleEvent) error {
	_, err := s.exec(ctx, "record reschedule", `
		INSERT INTO reschedule_events (id, task_id, user_id, from_at, to_at, anchor, reason, at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.TaskID, ev.UserID, nullUnix(ev.From), ev.To.Unix(), ev.Anchor, ev.Reason, ev.At.Unix())
	return err
}

// ListRescheduleEvents returns a user's reschedule history, oldest first.
func (s *SQLiteStore) ListRescheduleEvents(ctx context.Context, userID string) ([]*domain.RescheduleEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, user_id, from_at, to_at, anchor, reason, at
		FROM reschedule_events WHERE user_id = ? ORDER BY at, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list reschedule events: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close reschedule rows", "error", closeErr)
		}
	}()

	var out []*domain.RescheduleEvent
	for rows.Next() {
		var ev domain.RescheduleEvent
		var from sql.NullInt64
		var anchor sql.NullString
		var to, at int64
		if err := rows.Scan(&ev.ID, &ev.TaskID, &ev.UserID, &from, &to, &anchor, &ev.Reason, &at); err != nil {
			return nil, fmt.Errorf("scan reschedule event: %w", err)
		}
		ev.From = fromNullUnix(from)
		ev.To = unixUTC(to)
		ev.Anchor = anchor.String
		ev.At = unixUTC(at)
		out = append(out, &ev)
	}
	return out, rows.Err()
}
