package session

import (
	"context"

	"toolcrib.org/internal/auth"
)

// LockReleaser releases a privileged role lock held by a session. The role
// lock manager implements it; the registry calls it whenever a session ends,
// whether by explicit logout or lazy expiry, so locks never outlive their
// owning session.
type LockReleaser interface {
	ReleaseIfOwner(ctx context.Context, role auth.Role, token string) error
}

// Meta carries optional client attributes recorded at login.
type Meta struct {
	IPAddress string
	UserAgent string
}

// Filter narrows session listings.
type Filter struct {
	Role       auth.Role
	UserID     string
	ActiveOnly bool
	EndedOnly  bool
}

// Registry creates, validates, and expires login sessions.
type Registry interface {
	// Create allocates a session with a unique token expiring at now+TTL.
	Create(ctx context.Context, userID string, role auth.Role, meta Meta) (Session, error)
	// Validate loads a session by token and reports whether it is active.
	// A found-but-expired session is lazily ended (logout_at = expires_at,
	// reason EXPIRED) exactly once, and any role lock it held is released.
	Validate(ctx context.Context, token string) (Session, bool, error)
	// End terminates a session. Ending an already-ended session is a no-op.
	End(ctx context.Context, token string, reason EndReason) error
	// Peek reads a session without side effects. Used by the role lock
	// manager for staleness checks.
	Peek(ctx context.Context, token string) (Session, error)
	// List returns sessions matching the filter, newest first.
	List(ctx context.Context, f Filter) ([]Session, error)
}
