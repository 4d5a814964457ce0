package signaling

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// defaultTTLSeconds is the session lifetime applied at creation.
const defaultTTLSeconds = 120

// Manager owns the process-wide signaling session map, initialized once
// at startup.
type Manager struct {
	logger *slog.Logger
	ttl    time.Duration

	sessions sync.Map // string -> *Session
}

// NewManager builds a Manager whose sessions live for defaultTTLSeconds.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger, ttl: defaultTTLSeconds * time.Second}
}

// Create allocates a new session in its Created state with a TTL timer
// armed; it moves to Active on first subscribe and Closed on expiry or
// explicit teardown.
func (m *Manager) Create() (*Session, error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	s := &Session{
		ID:         id,
		Token:      token,
		CreatedAt:  time.Now(),
		TTLSeconds: int(m.ttl / time.Second),
		ICEServers: []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
	}
	m.sessions.Store(id, s)
	s.timer = time.AfterFunc(m.ttl, func() { m.expire(id) })
	return s, nil
}

func (m *Manager) get(id string) (*Session, bool) {
	v, ok := m.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Session), true
}

// expire is the TTL fire path: close every subscriber stream and remove
// the session.
func (m *Manager) expire(id string) {
	v, ok := m.sessions.LoadAndDelete(id)
	if !ok {
		return
	}
	s := v.(*Session)
	s.timer.Stop()
	s.closeAll()
	m.logger.Debug("signaling: session expired", "session_id", id)
}

// Subscribe authenticates and attaches a new subscriber stream to a
// session. The returned unsubscribe func must be called (e.g. via defer)
// when the caller's stream ends.
func (m *Manager) Subscribe(id, token string) (<-chan []byte, func(), error) {
	s, ok := m.get(id)
	if !ok {
		return nil, nil, ErrNotFound
	}
	if !s.Authorize(token) {
		return nil, nil, ErrUnauthorized
	}
	ch, err := s.addSubscriber()
	if err != nil {
		return nil, nil, err
	}
	return ch, s.removeSubscriber, nil
}

// Signal authenticates and fans payload out to every live subscriber of
// a session.
func (m *Manager) Signal(id, token string, payload []byte) error {
	s, ok := m.get(id)
	if !ok {
		return ErrNotFound
	}
	if !s.Authorize(token) {
		return ErrUnauthorized
	}
	s.fanOut(payload)
	return nil
}

// Close tears down every live session — used on process shutdown to
// cancel all deadlines and close all channels.
func (m *Manager) Close() {
	m.sessions.Range(func(key, value any) bool {
		s := value.(*Session)
		s.timer.Stop()
		s.closeAll()
		m.sessions.Delete(key)
		return true
	})
}
