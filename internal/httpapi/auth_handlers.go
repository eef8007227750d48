package httpapi

import (
	"net/http"
	"strings"
	"time"

	"toolcrib.org/internal/audit"
	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token      string    `json:"token"`
	ExpiresAt  time.Time `json:"expires_at"`
	User       userView  `json:"user"`
	FirstLogin bool      `json:"first_login,omitempty"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	user, err := a.deps.Users.FindByUsername(r.Context(), username)
	if err != nil || !user.Active {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.Password); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}

	// A first-login account must set its own password before it gets a
	// session.
	if user.FirstLogin {
		writeJSON(w, http.StatusOK, map[string]any{
			"first_login": true,
			"message":     "password change required before login",
		})
		return
	}

	sess, err := a.deps.Sessions.Create(r.Context(), user.ID, user.Role, session.Meta{
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		handleDomainError(w, r, err)
		return
	}

	// Privileged roles admit one active session at a time. On contention
	// the fresh session is ended immediately so it leaves no residue.
	if user.Role.Privileged() {
		ok, err := a.deps.Locks.Acquire(r.Context(), user.Role, sess)
		if err != nil {
			_ = a.deps.Sessions.End(r.Context(), sess.Token, session.EndReasonLogout)
			handleDomainError(w, r, err)
			return
		}
		if !ok {
			_ = a.deps.Sessions.End(r.Context(), sess.Token, session.EndReasonLogout)
			writeError(w, r, http.StatusConflict, "role is already in use by another session")
			return
		}
	}

	_ = audit.LogEvent(r.Context(), "auth.login", map[string]any{
		"user_id":  user.ID,
		"username": user.Username,
		"role":     string(user.Role),
	})

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     sess.Token,
		ExpiresAt: sess.ExpiresAt,
		User:      viewUser(user),
	})
}

func (a *API) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	if err := a.deps.Sessions.End(r.Context(), p.SessionToken, session.EndReasonLogout); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.logout", map[string]any{
		"user_id": p.User.ID,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSessionCheck(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	sess, err := a.deps.Sessions.Peek(r.Context(), p.SessionToken)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":       viewUser(p.User),
		"expires_at": sess.ExpiresAt,
	})
}

type changePasswordRequest struct {
	Username    string `json:"username"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// handleChangePassword serves the first-login flow: it authenticates with
// credentials, not a session, because the account has no session yet.
func (a *API) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req changePasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, r, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}
	user, err := a.deps.Users.FindByUsername(r.Context(), strings.TrimSpace(req.Username))
	if err != nil || !user.Active {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	if err := auth.VerifyPassword(user.PasswordHash, req.OldPassword); err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid credentials")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.deps.Users.UpdatePassword(r.Context(), user.ID, hash, false); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.changed", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password updated, log in with the new password",
	})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// handleForgotPassword issues a short-lived reset token. The response never
// reveals whether the address exists; the token reaches the user out of
// band.
func (a *API) handleForgotPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req forgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		writeError(w, r, http.StatusBadRequest, "email is required")
		return
	}
	if user, err := a.deps.Users.FindByEmail(r.Context(), email); err == nil && user.Active {
		token, err := auth.NewResetToken(a.cfg.AuthSecret, user.Email, a.cfg.ResetTokenTTL)
		if err == nil {
			_ = audit.LogEvent(r.Context(), "auth.password.reset_requested", map[string]any{
				"user_id":     user.ID,
				"reset_token": token,
			})
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"message": "if the account exists, a reset token has been issued",
	})
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"new_password"`
}

func (a *API) handleResetPassword(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	var req resetPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if len(req.NewPassword) < 8 {
		writeError(w, r, http.StatusBadRequest, "new password must be at least 8 characters")
		return
	}
	email, err := auth.ParseResetToken(a.cfg.AuthSecret, req.Token)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired reset token")
		return
	}
	user, err := a.deps.Users.FindByEmail(r.Context(), email)
	if err != nil {
		writeError(w, r, http.StatusUnauthorized, "invalid or expired reset token")
		return
	}
	hash, err := auth.HashPassword(req.NewPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	if err := a.deps.Users.UpdatePassword(r.Context(), user.ID, hash, false); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "auth.password.reset", map[string]any{
		"user_id": user.ID,
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "password updated, log in with the new password",
	})
}
