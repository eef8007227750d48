package httpapi

import (
	"net/http"
	"strings"
	"time"

	"toolcrib.org/internal/audit"
	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/session"
)

// userView is the wire shape for accounts; it never carries the hash.
type userView struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	ContactNumber string    `json:"contact_number,omitempty"`
	Role          auth.Role `json:"role"`
	FirstLogin    bool      `json:"first_login"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
}

func viewUser(u auth.User) userView {
	return userView{
		ID:            u.ID,
		Username:      u.Username,
		FullName:      u.FullName,
		Email:         u.Email,
		ContactNumber: u.ContactNumber,
		Role:          u.Role,
		FirstLogin:    u.FirstLogin,
		Active:        u.Active,
		CreatedAt:     u.CreatedAt,
	}
}

type createUserRequest struct {
	Username      string `json:"username"`
	FullName      string `json:"full_name"`
	Email         string `json:"email"`
	ContactNumber string `json:"contact_number"`
	Role          string `json:"role"`
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		a.createUser(w, r)
	case http.MethodGet:
		a.listUsers(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// createUser provisions an account with the configured default password;
// the owner must change it on first login.
func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	role, err := auth.ParseRole(strings.ToUpper(strings.TrimSpace(req.Role)))
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" {
		writeError(w, r, http.StatusBadRequest, "username and email are required")
		return
	}
	hash, err := auth.HashPassword(a.cfg.DefaultPassword)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal error")
		return
	}
	user := auth.User{
		Username:      strings.TrimSpace(req.Username),
		FullName:      strings.TrimSpace(req.FullName),
		Email:         strings.TrimSpace(req.Email),
		ContactNumber: strings.TrimSpace(req.ContactNumber),
		Role:          role,
		PasswordHash:  hash,
		FirstLogin:    true,
		Active:        true,
	}
	if err := a.deps.Users.Create(r.Context(), &user); err != nil {
		handleDomainError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "users.create", map[string]any{
		"created_id": user.ID,
		"username":   user.Username,
		"role":       string(role),
	})
	w.Header().Set("Location", "/v1/officer/users/"+user.ID)
	writeJSON(w, http.StatusCreated, viewUser(user))
}

func (a *API) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.deps.Users.List(r.Context())
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]userView, 0, len(users))
	for _, u := range users {
		views = append(views, viewUser(u))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/officer/users/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		user, err := a.deps.Users.Get(r.Context(), id)
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, viewUser(user))
	case http.MethodDelete:
		if p, ok := auth.PrincipalFromContext(r.Context()); ok && p.User.ID == id {
			writeError(w, r, http.StatusConflict, "cannot delete own account")
			return
		}
		if err := a.deps.Users.Delete(r.Context(), id); err != nil {
			handleDomainError(w, r, err)
			return
		}
		_ = audit.LogEvent(r.Context(), "users.delete", map[string]any{
			"deleted_id": id,
		})
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

// handleSessionsList exposes the session log: ?active=true narrows to live
// sessions, ?role= and ?user_id= filter further.
func (a *API) handleSessionsList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	f := session.Filter{
		UserID: strings.TrimSpace(r.URL.Query().Get("user_id")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("role")); raw != "" {
		role, err := auth.ParseRole(strings.ToUpper(raw))
		if err != nil {
			handleDomainError(w, r, err)
			return
		}
		f.Role = role
	}
	switch r.URL.Query().Get("active") {
	case "true":
		f.ActiveOnly = true
	case "false":
		f.EndedOnly = true
	}
	sessions, err := a.deps.Sessions.List(r.Context(), f)
	if err != nil {
		handleDomainError(w, r, err)
		return
	}
	views := make([]sessionView, 0, len(sessions))
	for _, s := range sessions {
		views = append(views, viewSession(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": views})
}

// sessionView redacts the token; the log shows who was on, not how to
// impersonate them.
type sessionView struct {
	UserID      string             `json:"user_id"`
	Role        auth.Role          `json:"role"`
	LoginAt     time.Time          `json:"login_at"`
	ExpiresAt   time.Time          `json:"expires_at"`
	LogoutAt    *time.Time         `json:"logout_at,omitempty"`
	EndedReason *session.EndReason `json:"ended_reason,omitempty"`
	IPAddress   string             `json:"ip_address,omitempty"`
	UserAgent   string             `json:"user_agent,omitempty"`
}

func viewSession(s session.Session) sessionView {
	return sessionView{
		UserID:      s.UserID,
		Role:        s.Role,
		LoginAt:     s.LoginAt,
		ExpiresAt:   s.ExpiresAt,
		LogoutAt:    s.LogoutAt,
		EndedReason: s.EndedReason,
		IPAddress:   s.IPAddress,
		UserAgent:   s.UserAgent,
	}
}
