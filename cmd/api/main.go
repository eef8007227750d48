package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/httpapi"
	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/notify"
	"toolcrib.org/internal/obs"
	"toolcrib.org/internal/rolelock"
	"toolcrib.org/internal/session"
	"toolcrib.org/internal/store/pg"
	"toolcrib.org/internal/stream"
	"toolcrib.org/internal/workflow"
)

var version = "0.3.1"

func main() {
	obs.Init()
	obs.InitBuildInfo(version, os.Getenv("TOOLCRIB_COMMIT"))

	cfg := httpapi.Config{
		Version:         version,
		AuthSecret:      []byte(envOr("TOOLCRIB_AUTH_SECRET", "dev-only-secret")),
		DefaultPassword: envOr("TOOLCRIB_DEFAULT_PASSWORD", "ToolCrib@123"),
	}
	ttl := envDuration("TOOLCRIB_SESSION_TTL", 30*time.Minute)

	var (
		deps  httpapi.Deps
		ready httpapi.ReadyProbe
		store *pg.Store
	)
	if dsn := os.Getenv("TOOLCRIB_PG_DSN"); dsn != "" {
		notices := notify.NewService(nil)
		events := stream.New()

		var err error
		store, err = pg.Open(dsn,
			pg.WithSessionTTL(ttl),
			pg.WithNotifier(notices),
			pg.WithEvents(events),
		)
		if err != nil {
			log.Fatalf("open store: %v", err)
		}
		notices.SetStore(store)

		deps = httpapi.Deps{
			Users:    store.Users(),
			Sessions: store.Sessions(),
			Locks:    store,
			Ledger:   store.Inventory(),
			Engine:   store,
			Notices:  notices,
			Events:   events,
		}
		ready = httpapi.ReadyProbe{Check: store.Ping}
	} else {
		log.Printf("TOOLCRIB_PG_DSN not set, running with in-memory state")
		users := auth.NewInMemoryUsers()
		sessions := session.NewInMemory(ttl)
		locks := rolelock.NewInMemory(sessions)
		sessions.SetReleaser(locks)
		ledger := inventory.NewInMemory()
		notices := notify.NewService(notify.NewInMemory())
		events := stream.New()
		engine := workflow.NewInMemory(ledger,
			workflow.WithNotifier(notices),
			workflow.WithEvents(events),
		)
		deps = httpapi.Deps{
			Users:    users,
			Sessions: sessions,
			Locks:    locks,
			Ledger:   ledger,
			Engine:   engine,
			Notices:  notices,
			Events:   events,
		}
	}

	if err := bootstrapOfficer(deps.Users, cfg.DefaultPassword); err != nil {
		log.Fatalf("bootstrap officer: %v", err)
	}

	api := httpapi.New(cfg, deps, ready)

	handler := api.Handler()
	handler = httpapi.RateLimit(handler, 50, 25)
	handler = httpapi.MaxBodyBytes(handler, 1<<20)
	handler = httpapi.CORS(handler)
	handler = httpapi.SecurityHeaders(handler)
	handler = httpapi.LoggingJSON(handler)
	handler = httpapi.RequestID(handler)

	srv := &http.Server{
		Addr:              envOr("TOOLCRIB_ADDR", ":8080"),
		Handler:           handler,
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting toolcrib-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if store != nil {
		_ = store.Close()
	}
	log.Println("Stopped")
}

// bootstrapOfficer seeds the very first officer account so a fresh
// deployment has someone who can create the rest of the staff. The
// account uses the default password and the first-login flow, so the
// seeded credential never survives past the first sign-in.
func bootstrapOfficer(users auth.UserStore, defaultPassword string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	existing, err := users.List(ctx)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	hash, err := auth.HashPassword(defaultPassword)
	if err != nil {
		return err
	}
	u := auth.User{
		Username:     envOr("TOOLCRIB_BOOTSTRAP_USER", "admin"),
		FullName:     "Crib Officer",
		Email:        envOr("TOOLCRIB_BOOTSTRAP_EMAIL", "officer@toolcrib.local"),
		Role:         auth.RoleOfficer,
		PasswordHash: hash,
		FirstLogin:   true,
		Active:       true,
	}
	if err := users.Create(ctx, &u); err != nil {
		return err
	}
	log.Printf("bootstrapped officer account %q", u.Username)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Fatalf("parse %s: %v", key, err)
	}
	return d
}
