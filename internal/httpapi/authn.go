package httpapi

import (
	"net/http"
	"strings"

	"toolcrib.org/internal/auth"
)

// Session tokens travel in this header; the token itself is opaque.
const sessionHeader = "X-Session-Id"

var publicPaths = []string{
	"/",
	"/healthz",
	"/readyz",
	"/metrics",
	"/v1/info",
	"/v1/auth/login",
	"/v1/auth/change-password",
	"/v1/auth/forgot-password",
	"/v1/auth/reset-password",
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}

// withAuth resolves the session token into a principal. Validation applies
// lazy expiry, so a request arriving on a dead session both gets a 401 and
// finalizes that session as EXPIRED.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimSpace(r.Header.Get(sessionHeader))
		if token == "" {
			writeError(w, r, http.StatusUnauthorized, "missing session token")
			return
		}

		sess, active, err := a.deps.Sessions.Validate(r.Context(), token)
		if err != nil || !active {
			writeError(w, r, http.StatusUnauthorized, "session is not active")
			return
		}

		user, err := a.deps.Users.Get(r.Context(), sess.UserID)
		if err != nil || !user.Active {
			writeError(w, r, http.StatusUnauthorized, "account is not active")
			return
		}

		ctx := auth.ContextWithPrincipal(r.Context(), auth.Principal{
			User:         user,
			SessionToken: token,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole guards a handler behind an exact role match.
func (a *API) requireRole(role auth.Role, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := auth.PrincipalFromContext(r.Context())
		if !ok {
			writeError(w, r, http.StatusUnauthorized, "authentication required")
			return
		}
		if p.User.Role != role {
			writeError(w, r, http.StatusForbidden, "insufficient role")
			return
		}
		h(w, r)
	}
}
