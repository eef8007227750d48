package rolelock

import (
	"context"
	"sync"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/obs"
	"toolcrib.org/internal/session"
)

// InMemory implements Manager with a single mutex guarding the lock table,
// which makes every check-then-act atomic in-process.
type InMemory struct {
	mu       sync.Mutex
	locks    map[auth.Role]Lock
	sessions SessionSource
	now      func() time.Time
}

var _ Manager = (*InMemory)(nil)

// Option configures InMemory behavior.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(m *InMemory) {
		if fn != nil {
			m.now = fn
		}
	}
}

// NewInMemory creates an empty lock table backed by the given session source.
func NewInMemory(sessions SessionSource, opts ...Option) *InMemory {
	m := &InMemory{
		locks:    make(map[auth.Role]Lock),
		sessions: sessions,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *InMemory) CurrentHolder(ctx context.Context, role auth.Role) (Lock, bool, error) {
	if !role.Privileged() {
		return Lock{}, false, ErrNotLockable
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[role]
	if !ok {
		return Lock{}, false, nil
	}
	if !m.holderActive(ctx, l) {
		// Stale: clear it so subsequent callers skip the staleness check.
		delete(m.locks, role)
		obs.SetRoleLockHeld(string(role), false)
		return Lock{}, false, nil
	}
	return l, true, nil
}

func (m *InMemory) Acquire(ctx context.Context, role auth.Role, s session.Session) (bool, error) {
	if !role.Privileged() {
		return false, ErrNotLockable
	}
	if !s.ActiveAt(m.now().UTC()) {
		return false, session.ErrInvalidInput
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[role]; ok {
		if m.holderActive(ctx, l) {
			return false, nil
		}
		delete(m.locks, role)
	}
	m.locks[role] = Lock{Role: role, Token: s.Token, LockedAt: m.now().UTC()}
	obs.SetRoleLockHeld(string(role), true)
	return true, nil
}

func (m *InMemory) ReleaseIfOwner(ctx context.Context, role auth.Role, token string) error {
	if !role.Privileged() {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[role]
	if !ok || l.Token != token {
		return nil
	}
	delete(m.locks, role)
	obs.SetRoleLockHeld(string(role), false)
	return nil
}

// holderActive checks the holding session without mutating it. Unknown
// sessions count as inactive so the lock self-heals.
func (m *InMemory) holderActive(ctx context.Context, l Lock) bool {
	if l.Token == "" || m.sessions == nil {
		return false
	}
	s, err := m.sessions.Peek(ctx, l.Token)
	if err != nil {
		return false
	}
	return s.ActiveAt(m.now().UTC())
}
