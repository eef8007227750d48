package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/notify"
	"toolcrib.org/internal/rolelock"
	"toolcrib.org/internal/session"
	"toolcrib.org/internal/stream"
	"toolcrib.org/internal/workflow"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store is the Postgres-backed implementation of every persistence
// interface in the service. Keeping them on one handle lets workflow
// transitions and their stock movements share a transaction. Interfaces
// whose method names collide across domains (Create, Get, List) are
// served through the narrow Users, Sessions and Inventory views.
type Store struct {
	db    *sql.DB
	ttl   time.Duration
	now   func() time.Time
	notes workflow.Notifier
	ev    *stream.Stream
}

var (
	_ auth.UserStore   = (*Users)(nil)
	_ session.Registry = (*Sessions)(nil)
	_ rolelock.Manager = (*Store)(nil)
	_ inventory.Ledger = (*Inventory)(nil)
	_ workflow.Engine  = (*Store)(nil)
	_ notify.Store     = (*Store)(nil)
)

type Option func(*Store)

// WithSessionTTL overrides the default session lifetime.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source for tests.
func WithClock(fn func() time.Time) Option {
	return func(s *Store) { s.now = fn }
}

// WithNotifier attaches a notifier invoked after committed workflow
// transitions.
func WithNotifier(n workflow.Notifier) Option {
	return func(s *Store) { s.notes = n }
}

// WithEvents attaches an event stream for committed workflow transitions.
func WithEvents(ev *stream.Stream) Option {
	return func(s *Store) { s.ev = ev }
}

func Open(dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return NewStore(db, opts...), nil
}

// NewStore wraps an existing handle; tests use it with sqlmock.
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, ttl: session.DefaultTTL, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping verifies connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(v string) sql.NullString {
	v = strings.TrimSpace(v)
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}
