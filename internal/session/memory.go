package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/ids"
	"toolcrib.org/internal/obs"
)

// InMemory implements Registry with in-process concurrency safety.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
	releaser LockReleaser
}

var _ Registry = (*InMemory)(nil)

// Option configures InMemory behavior.
type Option func(*InMemory)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *InMemory) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewInMemory creates a fresh registry. A non-positive ttl falls back to
// DefaultTTL.
func NewInMemory(ttl time.Duration, opts ...Option) *InMemory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	r := &InMemory{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetReleaser wires the role lock manager in after construction; the two
// components reference each other, so one side is attached late.
func (r *InMemory) SetReleaser(rel LockReleaser) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.releaser = rel
}

func (r *InMemory) Create(ctx context.Context, userID string, role auth.Role, meta Meta) (Session, error) {
	if userID == "" {
		return Session{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	if !role.Valid() {
		return Session{}, fmt.Errorf("%w: unknown role %q", ErrInvalidInput, role)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now().UTC()
	s := &Session{
		Token:     ids.NewToken(),
		UserID:    userID,
		Role:      role,
		LoginAt:   now,
		ExpiresAt: now.Add(r.ttl),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	r.sessions[s.Token] = s
	return *s, nil
}

func (r *InMemory) Validate(ctx context.Context, token string) (Session, bool, error) {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return Session{}, false, ErrNotFound
	}
	now := r.now().UTC()
	expired := false
	if s.LogoutAt == nil && !s.ExpiresAt.After(now) {
		// Lazy expiry: stamp with the expiry instant, not with now. The
		// logout_at==nil guard makes concurrent validate/end apply the
		// transition at most once.
		at := s.ExpiresAt
		reason := EndReasonExpired
		s.LogoutAt = &at
		s.EndedReason = &reason
		expired = true
	}
	out := *s
	r.mu.Unlock()
	if expired {
		// Notify outside the registry lock; the lock manager reads
		// sessions back through Peek.
		r.releaseLock(ctx, out)
	}
	return out, out.ActiveAt(now), nil
}

func (r *InMemory) End(ctx context.Context, token string, reason EndReason) error {
	r.mu.Lock()
	s, ok := r.sessions[token]
	if !ok {
		r.mu.Unlock()
		return ErrNotFound
	}
	if s.LogoutAt != nil {
		// Already ended; ending again is a no-op.
		r.mu.Unlock()
		return nil
	}
	at := r.now().UTC()
	s.LogoutAt = &at
	s.EndedReason = &reason
	out := *s
	r.mu.Unlock()
	r.releaseLock(ctx, out)
	return nil
}

func (r *InMemory) Peek(ctx context.Context, token string) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return *s, nil
}

func (r *InMemory) List(ctx context.Context, f Filter) ([]Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	now := r.now().UTC()
	out := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		if f.Role != "" && s.Role != f.Role {
			continue
		}
		if f.UserID != "" && s.UserID != f.UserID {
			continue
		}
		active := s.ActiveAt(now)
		if f.ActiveOnly && !active {
			continue
		}
		if f.EndedOnly && active {
			continue
		}
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LoginAt.After(out[j].LoginAt) })
	return out, nil
}

func (r *InMemory) releaseLock(ctx context.Context, s Session) {
	r.mu.RLock()
	rel := r.releaser
	r.mu.RUnlock()
	if rel == nil || !s.Role.Privileged() {
		return
	}
	if err := rel.ReleaseIfOwner(ctx, s.Role, s.Token); err != nil {
		obs.LogError("release role lock on session end", err)
	}
}
