package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/obs"
	"toolcrib.org/internal/rolelock"
	"toolcrib.org/internal/session"
)

func (s *Store) CurrentHolder(ctx context.Context, role auth.Role) (rolelock.Lock, bool, error) {
	if !role.Privileged() {
		return rolelock.Lock{}, false, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rolelock.Lock{}, false, err
	}
	defer func() { _ = tx.Rollback() }()

	lock, held, err := lockedHolder(ctx, tx, role, s.now())
	if err != nil {
		return rolelock.Lock{}, false, err
	}
	if err := tx.Commit(); err != nil {
		return rolelock.Lock{}, false, err
	}
	return lock, held, nil
}

// Acquire claims the role for the session inside one transaction. The lock
// row is read with `for update`, so two concurrent acquirers serialize on
// it; a stale row left by a dead session is reclaimed in place.
func (s *Store) Acquire(ctx context.Context, role auth.Role, sess session.Session) (bool, error) {
	if !role.Privileged() {
		return false, rolelock.ErrNotLockable
	}
	now := s.now()
	if !sess.ActiveAt(now) {
		return false, session.ErrInvalidInput
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	_, held, err := lockedHolder(ctx, tx, role, now)
	if err != nil {
		return false, err
	}
	if held {
		return false, tx.Commit()
	}
	if _, err := tx.ExecContext(ctx, `
		insert into role_locks (role, token, locked_at) values ($1, $2, $3)
	`, string(role), sess.Token, now); err != nil {
		// A concurrent acquirer that committed first wins the race.
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return false, nil
		}
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	obs.SetRoleLockHeld(string(role), true)
	return true, nil
}

func (s *Store) ReleaseIfOwner(ctx context.Context, role auth.Role, token string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from role_locks where role = $1 and token = $2
	`, string(role), token)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		obs.SetRoleLockHeld(string(role), false)
	}
	return nil
}

// lockedHolder reads the lock row for update, clearing it when the holding
// session is no longer active. Callers own the transaction.
func lockedHolder(ctx context.Context, tx *sql.Tx, role auth.Role, now time.Time) (rolelock.Lock, bool, error) {
	var (
		lock      rolelock.Lock
		logoutAt  sql.NullTime
		expiresAt time.Time
	)
	err := tx.QueryRowContext(ctx, `
		select l.role, l.token, l.locked_at, s.logout_at, s.expires_at
		from role_locks l
		join sessions s on s.token = l.token
		where l.role = $1
		for update of l
	`, string(role)).Scan(&lock.Role, &lock.Token, &lock.LockedAt, &logoutAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return rolelock.Lock{}, false, nil
	}
	if err != nil {
		return rolelock.Lock{}, false, err
	}
	active := !logoutAt.Valid && expiresAt.After(now)
	if active {
		return lock, true, nil
	}
	if _, err := tx.ExecContext(ctx, `
		delete from role_locks where role = $1 and token = $2
	`, string(role), lock.Token); err != nil {
		return rolelock.Lock{}, false, err
	}
	obs.SetRoleLockHeld(string(role), false)
	return rolelock.Lock{}, false, nil
}
