package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/fableloom/fableloom/internal/ids"
	"github.com/fableloom/fableloom/internal/observe"
)

// ManagerOption configures a [Manager].
type ManagerOption func(*Manager)

// WithManagerMetrics attaches instrumentation for the active-session gauge.
func WithManagerMetrics(m *observe.Metrics) ManagerOption {
	return func(mgr *Manager) { mgr.met = m }
}

// WithManagerLogger sets the structured logger. The default is
// [slog.Default].
func WithManagerLogger(log *slog.Logger) ManagerOption {
	return func(mgr *Manager) {
		if log != nil {
			mgr.log = log
		}
	}
}

// Manager tracks every live session in the process. Sessions for different
// games run fully in parallel; the manager only owns the registry.
type Manager struct {
	gen ids.Generator
	met *observe.Metrics
	log *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager returns an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		log:      slog.Default(),
		sessions: make(map[string]*Session),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Create mints a session id, builds the session through build, and registers
// the result. A build failure registers nothing.
func (m *Manager) Create(build func(id string) (*Session, error)) (*Session, error) {
	id, err := m.gen.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("session: mint id: %w", err)
	}
	s, err := build(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[id] = s
	active := len(m.sessions)
	m.mu.Unlock()

	if m.met != nil {
		m.met.ActiveSessions.Add(context.Background(), 1)
	}
	m.log.Info("session registered", "session", id, "game", s.GameID(), "active", active)
	return s, nil
}

// Get returns the session with the given id.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Remove closes and unregisters the session with the given id. Unknown ids
// are a no-op.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return
	}
	s.Close()
	if m.met != nil {
		m.met.ActiveSessions.Add(context.Background(), -1)
	}
	m.log.Info("session removed", "session", id, "active", active)
}

// CloseAll closes and unregisters every session. Called on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	closing := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		closing = append(closing, s)
	}
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range closing {
		s.Close()
	}
	if m.met != nil && n > 0 {
		m.met.ActiveSessions.Add(context.Background(), int64(-n))
	}
	if n > 0 {
		m.log.Info("all sessions closed", "count", n)
	}
}

// Len returns the number of registered sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
