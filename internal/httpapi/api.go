package httpapi

import (
	"context"
	"net/http"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/notify"
	"toolcrib.org/internal/obs"
	"toolcrib.org/internal/rolelock"
	"toolcrib.org/internal/session"
	"toolcrib.org/internal/stream"
	"toolcrib.org/internal/workflow"
)

// ReadyProbe checks downstream readiness (e.g. database ping).
type ReadyProbe struct {
	Check func(ctx context.Context) error
}

func (rp ReadyProbe) Ok(ctx context.Context) error {
	if rp.Check == nil {
		return nil
	}
	return rp.Check(ctx)
}

// Config carries the API-level settings read from the environment.
type Config struct {
	Version         string
	AuthSecret      []byte
	DefaultPassword string
	ResetTokenTTL   time.Duration
}

// Deps are the domain services the handlers dispatch to.
type Deps struct {
	Users    auth.UserStore
	Sessions session.Registry
	Locks    rolelock.Manager
	Ledger   inventory.Ledger
	Engine   workflow.Engine
	Notices  *notify.Service
	Events   *stream.Stream
}

// API is the HTTP layer.
type API struct {
	mux   *http.ServeMux
	ready ReadyProbe
	cfg   Config
	deps  Deps
}

func New(cfg Config, deps Deps, ready ReadyProbe) *API {
	if cfg.ResetTokenTTL <= 0 {
		cfg.ResetTokenTTL = 15 * time.Minute
	}
	a := &API{
		mux:   http.NewServeMux(),
		ready: ready,
		cfg:   cfg,
		deps:  deps,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// auth flows
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.HandleFunc("/v1/auth/logout", a.handleLogout)
	a.mux.HandleFunc("/v1/auth/session", a.handleSessionCheck)
	a.mux.HandleFunc("/v1/auth/change-password", a.handleChangePassword)
	a.mux.HandleFunc("/v1/auth/forgot-password", a.handleForgotPassword)
	a.mux.HandleFunc("/v1/auth/reset-password", a.handleResetPassword)

	// shared reads
	a.mux.HandleFunc("/v1/tools", a.handleTools)
	a.mux.HandleFunc("/v1/notifications", a.handleNotifications)
	a.mux.HandleFunc("/v1/notifications/", a.handleNotificationAction)
	a.mux.HandleFunc("/v1/events", a.Stream)

	// officer surface
	a.mux.HandleFunc("/v1/officer/users", a.requireRole(auth.RoleOfficer, a.handleUsersCollection))
	a.mux.HandleFunc("/v1/officer/users/", a.requireRole(auth.RoleOfficer, a.handleUserResource))
	a.mux.HandleFunc("/v1/officer/tool-additions", a.requireRole(auth.RoleOfficer, a.handleAdditionsList))
	a.mux.HandleFunc("/v1/officer/tool-additions/", a.requireRole(auth.RoleOfficer, a.handleAdditionAction))
	a.mux.HandleFunc("/v1/officer/sessions", a.requireRole(auth.RoleOfficer, a.handleSessionsList))

	// supervisor surface
	a.mux.HandleFunc("/v1/supervisor/tool-additions", a.requireRole(auth.RoleSupervisor, a.handleAdditionsCollection))
	a.mux.HandleFunc("/v1/supervisor/tool-requests", a.requireRole(auth.RoleSupervisor, a.handleUsageList))
	a.mux.HandleFunc("/v1/supervisor/tool-requests/", a.requireRole(auth.RoleSupervisor, a.handleUsageReview))

	// operator surface
	a.mux.HandleFunc("/v1/operator/tool-requests", a.requireRole(auth.RoleOperator, a.handleUsageCollection))
	a.mux.HandleFunc("/v1/operator/tool-requests/", a.requireRole(auth.RoleOperator, a.handleUsageAction))

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler assembles the middleware chain around the mux.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = obs.Instrument(h)
	return h
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "toolcrib-api",
		"version": a.cfg.Version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.ready.Ok(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}

func (a *API) Info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "toolcrib-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.cfg.Version,
	})
}
