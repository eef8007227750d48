package session

import (
	"errors"
	"time"

	"toolcrib.org/internal/auth"
)

// EndReason records why a session stopped being active.
type EndReason string

const (
	EndReasonLogout  EndReason = "LOGOUT"
	EndReasonExpired EndReason = "EXPIRED"
)

// DefaultTTL is the session lifetime applied when none is configured.
const DefaultTTL = 30 * time.Minute

// Session is the unit of identity for every privileged operation. Sessions
// are never deleted; ended sessions remain as an audit trail.
type Session struct {
	Token       string     `json:"token"`
	UserID      string     `json:"user_id"`
	Role        auth.Role  `json:"role"`
	LoginAt     time.Time  `json:"login_at"`
	ExpiresAt   time.Time  `json:"expires_at"`
	LogoutAt    *time.Time `json:"logout_at,omitempty"`
	EndedReason *EndReason `json:"ended_reason,omitempty"`
	IPAddress   string     `json:"ip_address,omitempty"`
	UserAgent   string     `json:"user_agent,omitempty"`
}

// ActiveAt reports whether the session is active at the given instant:
// not ended and not past its expiry.
func (s Session) ActiveAt(now time.Time) bool {
	return s.LogoutAt == nil && s.ExpiresAt.After(now)
}

var (
	ErrNotFound     = errors.New("session: not found")
	ErrInvalidInput = errors.New("session: invalid input")
)
