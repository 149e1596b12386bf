package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ashureev/goally/internal/domain"
	"github.com/ashureev/goally/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writes to prevent SQLITE_BUSY
	retry   shared.RetryPolicy
	now     func() time.Time
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy, now: time.Now}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS sessions (
		user_id TEXT NOT NULL,
		session_id TEXT NOT NULL,
		state TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (user_id, session_id)
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS profiles (
		user_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		anchors_json TEXT NOT NULL,
		anchor_times_json TEXT,
		timezone TEXT,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS goals (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		summary TEXT,
		deadline INTEGER,
		status TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_goals_user ON goals(user_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		goal_id TEXT,
		name TEXT NOT NULL,
		estimated_minutes INTEGER NOT NULL,
		energy TEXT NOT NULL,
		anchor TEXT NOT NULL,
		scheduled_at INTEGER,
		scheduled_text TEXT,
		rationale TEXT,
		status TEXT NOT NULL,
		was_rescheduled INTEGER DEFAULT 0,
		reminder_sent INTEGER DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		completed_at INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_scheduled ON tasks(scheduled_at) WHERE status != 'completed';

	CREATE TABLE IF NOT EXISTS busy_intervals (
		user_id TEXT NOT NULL,
		start_at INTEGER NOT NULL,
		end_at INTEGER NOT NULL,
		summary TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_busy_user ON busy_intervals(user_id, start_at);

	CREATE TABLE IF NOT EXISTS reschedule_events (
		id TEXT PRIMARY KEY,
		task_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		from_at INTEGER,
		to_at INTEGER NOT NULL,
		anchor TEXT,
		reason TEXT NOT NULL,
		at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reschedule_user ON reschedule_events(user_id, at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// exec runs a write under the write mutex, retrying SQLite conflicts.
func (s *SQLiteStore) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := shared.RetryOnConflict(ctx, op, s.retry, func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		var err error
		res, err = s.db.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// LoadSession returns the stored session or a fresh one.
func (s *SQLiteStore) LoadSession(ctx context.Context, userID, sessionID string) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT state FROM sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID)

	var state string
	err := row.Scan(&state)
	if errors.Is(err, sql.ErrNoRows) {
		sess := domain.NewSession(sessionID, userID, s.now())
		if p, perr := s.GetProfile(ctx, userID); perr == nil && p != nil {
			sess.Profile = *p
		}
		return sess, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session: %w", err)
	}

	var sess domain.Session
	if err := json.Unmarshal([]byte(state), &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// SaveSession upserts the session state.
func (s *SQLiteStore) SaveSession(ctx context.Context, sess *domain.Session) error {
	state, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	now := s.now().Unix()
	_, err = s.exec(ctx, "save session", `
		INSERT INTO sessions (user_id, session_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, session_id) DO UPDATE SET
			state = excluded.state,
			updated_at = excluded.updated_at`,
		sess.UserID, sess.ID, string(state), sess.CreatedAt.Unix(), now)
	return err
}

// DeleteSession removes the session.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.exec(ctx, "delete session",
		`DELETE FROM sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID)
	return err
}

// CleanupExpiredSessions removes sessions idle for longer than ttl.
func (s *SQLiteStore) CleanupExpiredSessions(ctx context.Context, ttl time.Duration) (int64, error) {
	threshold := s.now().Add(-ttl).Unix()
	res, err := s.exec(ctx, "cleanup expired sessions", `DELETE FROM sessions WHERE updated_at < ?`, threshold)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// GetProfile retrieves a user profile, or nil if none exists.
func (s *SQLiteStore) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT user_id, name, role, anchors_json, anchor_times_json, timezone
		FROM profiles WHERE user_id = ?`, userID)

	var p domain.UserProfile
	var anchorsJSON string
	var timesJSON, tz sql.NullString
	err := row.Scan(&p.UserID, &p.Name, &p.Role, &anchorsJSON, &timesJSON, &tz)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(anchorsJSON), &p.Anchors); err != nil {
		return nil, fmt.Errorf("decode anchors: %w", err)
	}
	if timesJSON.Valid && timesJSON.String != "" {
		if err := json.Unmarshal([]byte(timesJSON.String), &p.AnchorTimes); err != nil {
			return nil, fmt.Errorf("decode anchor times: %w", err)
		}
	}
	p.Timezone = tz.String
	return &p, nil
}

// UpsertProfile creates or updates a profile.
func (s *SQLiteStore) UpsertProfile(ctx context.Context, p *domain.UserProfile) error {
	anchors, err := json.Marshal(p.Anchors)
	if err != nil {
		return fmt.Errorf("encode anchors: %w", err)
	}
	var times any
	if len(p.AnchorTimes) > 0 {
		b, err := json.Marshal(p.AnchorTimes)
		if err != nil {
			return fmt.Errorf("encode anchor times: %w", err)
		}
		times = string(b)
	}
	now := s.now().Unix()
	_, err = s.exec(ctx, "upsert profile", `
		INSERT INTO profiles (user_id, name, role, anchors_json, anchor_times_json, timezone, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			anchors_json = excluded.anchors_json,
			anchor_times_json = excluded.anchor_times_json,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		p.UserID, p.Name, p.Role, string(anchors), times, p.Timezone, now, now)
	return err
}

func nullUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func fromNullUnix(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func unixUTC(v int64) time.Time {
	return time.Unix(v, 0).UTC()
}
