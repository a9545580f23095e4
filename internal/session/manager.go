package session

import (
	"sync"
	"time"

	"github.com/joeyhaverhals/jhpc-new/pkg/ai"
	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
)

const defaultTTL = 30 * time.Minute

// Manager is the in-memory session registry. Sessions expire after a TTL
// of inactivity so abandoned console tabs do not leak transcripts.
type Manager struct {
	ttl           time.Duration
	dispatcherFor dispatcherFactory
	now           func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

// ManagerOption adjusts construction, mainly for tests.
type ManagerOption func(*Manager)

// WithDispatcherFactory replaces provider dispatch, used by tests to
// observe or fail dispatches without a network.
func WithDispatcherFactory(f func(domain.AccessPolicy) (ai.Dispatcher, error)) ManagerOption {
	return func(m *Manager) { m.dispatcherFor = f }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) ManagerOption {
	return func(m *Manager) { m.now = now }
}

// NewManager builds a registry. ttl <= 0 selects the default.
func NewManager(ttl time.Duration, opts ...ManagerOption) *Manager {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	m := &Manager{
		ttl:           ttl,
		dispatcherFor: ai.ForPolicy,
		now:           time.Now,
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create registers a fresh empty session owned by userID.
func (m *Manager) Create(userID string) *Session {
	s := newSession(userID, m.dispatcherFor, m.now)
	m.mu.Lock()
	m.evictExpiredLocked()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	return s
}

// Get returns the session by id, if it exists and has not expired.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.evictExpiredLocked()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete discards a session and its transcript.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
}

func (m *Manager) evictExpiredLocked() {
	cutoff := m.now().Add(-m.ttl)
	for id, s := range m.sessions {
		if s.touchedBefore(cutoff) {
			delete(m.sessions, id)
		}
	}
}
