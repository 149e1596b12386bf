package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ashureev/goally/internal/domain"
)

// MemoryStore is a volatile Repository. Values are copied on the way in
// and out so callers never share state with the store.
type MemoryStore struct {
	mu         sync.RWMutex
	sessions   map[string][]byte
	tasks      map[string]domain.Task
	goals      map[string]domain.Goal
	profiles   map[string]domain.UserProfile
	busy       map[string][]domain.BusyInterval
	reschedule []domain.RescheduleEvent
	now        func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]byte),
		tasks:    make(map[string]domain.Task),
		goals:    make(map[string]domain.Goal),
		profiles: make(map[string]domain.UserProfile),
		busy:     make(map[string][]domain.BusyInterval),
		now:      time.Now,
	}
}

func sessionKey(userID, sessionID string) string { return userID + "/" + sessionID }

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (m *MemoryStore) Close() error { return nil }

// LoadSession returns a copy of the stored session or a fresh one.
func (m *MemoryStore) LoadSession(_ context.Context, userID, sessionID string) (*domain.Session, error) {
	m.mu.RLock()
	raw, ok := m.sessions[sessionKey(userID, sessionID)]
	profile, hasProfile := m.profiles[userID]
	m.mu.RUnlock()

	if !ok {
		sess := domain.NewSession(sessionID, userID, m.now())
		if hasProfile {
			sess.Profile = profile
		}
		return sess, nil
	}
	var sess domain.Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", sessionID, err)
	}
	return &sess, nil
}

// SaveSession stores a serialized copy of the session.
func (m *MemoryStore) SaveSession(_ context.Context, sess *domain.Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	m.mu.Lock()
	m.sessions[sessionKey(sess.UserID, sess.ID)] = raw
	m.mu.Unlock()
	return nil
}

// DeleteSession removes the session.
func (m *MemoryStore) DeleteSession(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	delete(m.sessions, sessionKey(userID, sessionID))
	m.mu.Unlock()
	return nil
}

func copyTask(t domain.Task) *domain.Task {
	if t.ScheduledAt != nil {
		at := *t.ScheduledAt
		t.ScheduledAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		t.CompletedAt = &at
	}
	return &t
}

// CreateTask stores a task.
func (m *MemoryStore) CreateTask(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.tasks[t.ID]; exists {
		return fmt.Errorf("create task: duplicate id %s", t.ID)
	}
	now := m.now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = domain.StatusPending
	}
	m.tasks[t.ID] = *copyTask(*t)
	return nil
}

// GetTask returns a copy of a user's task.
func (m *MemoryStore) GetTask(_ context.Context, userID, taskID string) (*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return copyTask(t), nil
}

// UpdateTask replaces a task.
func (m *MemoryStore) UpdateTask(_ context.Context, t *domain.Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[t.ID]
	if !ok || cur.UserID != t.UserID {
		return domain.ErrNotFound
	}
	t.UpdatedAt = m.now().UTC()
	m.tasks[t.ID] = *copyTask(*t)
	return nil
}

// RescheduleTask moves an open task.
func (m *MemoryStore) RescheduleTask(_ context.Context, userID, taskID string, at time.Time, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID || !t.IsOpen() {
		return domain.ErrNotFound
	}
	t.ScheduledAt = &at
	t.ScheduledText = text
	t.WasRescheduled = true
	t.ReminderSent = false
	t.UpdatedAt = m.now().UTC()
	m.tasks[taskID] = *copyTask(t)
	return nil
}

// MarkReminderSent flags an open task's reminder as sent.
func (m *MemoryStore) MarkReminderSent(_ context.Context, userID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID || !t.IsOpen() {
		return domain.ErrNotFound
	}
	t.ReminderSent = true
	t.UpdatedAt = m.now().UTC()
	m.tasks[taskID] = t
	return nil
}

// DeleteTask removes a task.
func (m *MemoryStore) DeleteTask(_ context.Context, userID, taskID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[taskID]
	if !ok || cur.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.tasks, taskID)
	return nil
}

// CompleteTask marks a task completed.
func (m *MemoryStore) CompleteTask(_ context.Context, userID, taskID string, at time.Time) (*domain.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok || t.UserID != userID {
		return nil, domain.ErrNotFound
	}
	t.Status = domain.StatusCompleted
	t.CompletedAt = &at
	t.UpdatedAt = m.now().UTC()
	m.tasks[taskID] = *copyTask(t)
	return copyTask(t), nil
}

func sortTasks(tasks []*domain.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		a, b := tasks[i].ScheduledAt, tasks[j].ScheduledAt
		switch {
		case a == nil && b == nil:
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return a.Before(*b)
		}
	})
}

// ListTasks returns a user's tasks ordered by schedule.
func (m *MemoryStore) ListTasks(_ context.Context, userID string, f TaskFilter) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if t.UserID != userID {
			continue
		}
		if f.OpenOnly && !t.IsOpen() {
			continue
		}
		if f.GoalID != "" && t.GoalID != f.GoalID {
			continue
		}
		out = append(out, copyTask(t))
	}
	sortTasks(out)
	return out, nil
}

// ListUsersWithOpenTasks returns users with a non-completed task.
func (m *MemoryStore) ListUsersWithOpenTasks(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	var users []string
	for _, t := range m.tasks {
		if t.IsOpen() && !seen[t.UserID] {
			seen[t.UserID] = true
			users = append(users, t.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}

// ListReminderCandidates returns open, un-reminded tasks scheduled in [from, to].
func (m *MemoryStore) ListReminderCandidates(_ context.Context, from, to time.Time) ([]*domain.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Task
	for _, t := range m.tasks {
		if !t.IsOpen() || t.ReminderSent || t.ScheduledAt == nil {
			continue
		}
		if t.ScheduledAt.Before(from) || t.ScheduledAt.After(to) {
			continue
		}
		out = append(out, copyTask(t))
	}
	sortTasks(out)
	return out, nil
}

// CreateGoal stores a goal.
func (m *MemoryStore) CreateGoal(_ context.Context, g *domain.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.goals[g.ID]; exists {
		return fmt.Errorf("create goal: duplicate id %s", g.ID)
	}
	now := m.now().UTC()
	if g.CreatedAt.IsZero() {
		g.CreatedAt = now
	}
	g.UpdatedAt = now
	if g.Status == "" {
		g.Status = domain.GoalActive
	}
	m.goals[g.ID] = *g
	return nil
}

// GetGoal returns a user's goal.
func (m *MemoryStore) GetGoal(_ context.Context, userID, goalID string) (*domain.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.goals[goalID]
	if !ok || g.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return &g, nil
}

// UpdateGoal replaces a goal.
func (m *MemoryStore) UpdateGoal(_ context.Context, g *domain.Goal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.goals[g.ID]
	if !ok || cur.UserID != g.UserID {
		return domain.ErrNotFound
	}
	g.UpdatedAt = m.now().UTC()
	m.goals[g.ID] = *g
	return nil
}

// DeleteGoal removes a goal and its tasks.
func (m *MemoryStore) DeleteGoal(_ context.Context, userID, goalID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.goals[goalID]
	if !ok || g.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.goals, goalID)
	for id, t := range m.tasks {
		if t.GoalID == goalID && t.UserID == userID {
			delete(m.tasks, id)
		}
	}
	return nil
}

// ListGoals returns a user's goals, newest first.
func (m *MemoryStore) ListGoals(_ context.Context, userID string) ([]*domain.Goal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Goal
	for _, g := range m.goals {
		if g.UserID == userID {
			g := g
			out = append(out, &g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// GetProfile returns the user's profile or nil.
func (m *MemoryStore) GetProfile(_ context.Context, userID string) (*domain.UserProfile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

// UpsertProfile stores a profile.
func (m *MemoryStore) UpsertProfile(_ context.Context, p *domain.UserProfile) error {
	m.mu.Lock()
	m.profiles[p.UserID] = *p
	m.mu.Unlock()
	return nil
}

// ReplaceBusyIntervals swaps a user's busy intervals.
func (m *MemoryStore) ReplaceBusyIntervals(_ context.Context, userID string, intervals []domain.BusyInterval) error {
	m.mu.Lock()
	m.busy[userID] = append([]domain.BusyInterval(nil), intervals...)
	m.mu.Unlock()
	return nil
}

// ListBusyIntervals returns intervals overlapping [from, to).
func (m *MemoryStore) ListBusyIntervals(_ context.Context, userID string, from, to time.Time) ([]domain.BusyInterval, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.BusyInterval
	for _, b := range m.busy[userID] {
		if b.Start.Before(to) && b.End.After(from) {
			out = append(out, b)
		}
	}
	return out, nil
}

// RecordReschedule appends a reschedule event.
func (m *MemoryStore) RecordReschedule(_ context.Context, ev *domain.RescheduleEvent) error {
	m.mu.Lock()
	m.reschedule = append(m.reschedule, *ev)
	m.mu.Unlock()
	return nil
}

// ListRescheduleEvents returns a user's reschedule history.
func (m *MemoryStore) ListRescheduleEvents(_ context.Context, userID string) ([]*domain.RescheduleEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.RescheduleEvent
	for _, ev := range m.reschedule {
		if ev.UserID == userID {
			ev := ev
			out = append(out, &ev)
		}
	}
	return out, nil
}

var (
	_ Repository = (*MemoryStore)(nil)
	_ Repository = (*SQLiteStore)(nil)
)
