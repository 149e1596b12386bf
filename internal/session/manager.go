// Package session enforces single-writer access to conversation sessions
// and tracks live chat connections.
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

type lockEntry struct {
	sem  chan struct{}
	refs int // holders plus waiters
}

// Manager hands out per-session locks and tracks active websocket
// connections per user and session.
type Manager struct {
	mu     sync.Mutex
	locks  map[string]*lockEntry
	active map[string]map[string]*websocket.Conn
}

// NewManager creates a new session manager.
func NewManager() *Manager {
	return &Manager{
		locks:  make(map[string]*lockEntry),
		active: make(map[string]map[string]*websocket.Conn),
	}
}

func lockKey(userID, sessionID string) string { return userID + "/" + sessionID }

// Acquire blocks until the caller holds the session exclusively or ctx is
// done. The returned release func is safe to call more than once.
func (m *Manager) Acquire(ctx context.Context, userID, sessionID string) (func(), error) {
	key := lockKey(userID, sessionID)

	m.mu.Lock()
	e, ok := m.locks[key]
	if !ok {
		e = &lockEntry{sem: make(chan struct{}, 1)}
		m.locks[key] = e
	}
	e.refs++
	m.mu.Unlock()

	select {
	case e.sem <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.sem
				m.drop(key, e)
			})
		}, nil
	case <-ctx.Done():
		m.drop(key, e)
		return nil, ctx.Err()
	}
}

func (m *Manager) drop(key string, e *lockEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e.refs--
	if e.refs == 0 && m.locks[key] == e {
		delete(m.locks, key)
	}
}

// LockCount returns the number of sessions with holders or waiters.
func (m *Manager) LockCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// GetActive returns the active connection for a user and session.
func (m *Manager) GetActive(userID, sessionID string) *websocket.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sessions, ok := m.active[userID]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register records conn as the live connection for a user/session,
// closing any connection it replaces.
func (m *Manager) Register(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[userID]; !exists {
		m.active[userID] = make(map[string]*websocket.Conn)
	}
	if existing, exists := m.active[userID][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}
	m.active[userID][sessionID] = conn
	slog.Info("Chat connection registered", "user_id", userID, "session_id", sessionID)
}

// Unregister removes conn if it is still the live connection.
func (m *Manager) Unregister(userID, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[userID]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, userID)
			}
			slog.Info("Chat connection unregistered", "user_id", userID, "session_id", sessionID)
		}
	}
}

// CloseSession terminates the live connection for one user/session, if
// any.
func (m *Manager) CloseSession(userID, sessionID string) {
	m.mu.Lock()
	sessions := m.active[userID]
	conn, ok := sessions[sessionID]
	if ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(m.active, userID)
		}
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	// Close waits for the peer's close frame; do it outside the lock.
	_ = conn.Close(websocket.StatusNormalClosure, "session reset")
	slog.Info("Chat connection closed", "user_id", userID, "session_id", sessionID)
}
