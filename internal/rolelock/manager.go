package rolelock

import (
	"context"
	"errors"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/session"
)

// Lock records the current holder of a privileged role. A lock whose holder
// session is no longer active is stale and treated as unheld.
type Lock struct {
	Role     auth.Role `json:"role"`
	Token    string    `json:"token"`
	LockedAt time.Time `json:"locked_at"`
}

var (
	// ErrNotLockable is returned when a caller tries to lock a role outside
	// the privileged set.
	ErrNotLockable = errors.New("rolelock: role is not lockable")
	// ErrAlreadyLocked reports lock contention to callers that want an error
	// rather than a boolean.
	ErrAlreadyLocked = errors.New("rolelock: role already locked")
)

// SessionSource provides side-effect-free session reads for staleness checks.
// The manager never mutates sessions; lazy expiry belongs to the registry.
type SessionSource interface {
	Peek(ctx context.Context, token string) (session.Session, error)
}

// Manager enforces at most one active-session holder per privileged role.
// The lock is a mutex over a role, not over data; its lifetime is tied to the
// holding session rather than to an explicit unlock alone, because sessions
// can die by timeout with no cooperating client.
type Manager interface {
	// CurrentHolder returns the lock for the role if one is held by an
	// active session. A stale row is cleared as a side effect.
	CurrentHolder(ctx context.Context, role auth.Role) (Lock, bool, error)
	// Acquire claims the role for the session. It returns false without
	// side effects when another active session already holds it. The
	// check-and-set is atomic with respect to concurrent Acquire calls.
	Acquire(ctx context.Context, role auth.Role, s session.Session) (bool, error)
	// ReleaseIfOwner removes the lock only when the holder token matches.
	// Safe to call redundantly.
	ReleaseIfOwner(ctx context.Context, role auth.Role, token string) error
}
