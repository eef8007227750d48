package pg

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/ids"
	"toolcrib.org/internal/obs"
	"toolcrib.org/internal/session"
)

// Sessions adapts the store to session.Registry.
type Sessions struct {
	s *Store
}

func (s *Store) Sessions() *Sessions { return &Sessions{s: s} }

func (v *Sessions) Create(ctx context.Context, userID string, role auth.Role, meta session.Meta) (session.Session, error) {
	return v.s.CreateSession(ctx, userID, role, meta)
}

func (v *Sessions) Validate(ctx context.Context, token string) (session.Session, bool, error) {
	return v.s.Validate(ctx, token)
}

func (v *Sessions) End(ctx context.Context, token string, reason session.EndReason) error {
	return v.s.End(ctx, token, reason)
}

func (v *Sessions) Peek(ctx context.Context, token string) (session.Session, error) {
	return v.s.Peek(ctx, token)
}

func (v *Sessions) List(ctx context.Context, f session.Filter) ([]session.Session, error) {
	return v.s.ListSessions(ctx, f)
}

const sessionColumns = `token, user_id, role, login_at, expires_at, logout_at, ended_reason, coalesce(ip_address,''), coalesce(user_agent,'')`

func (s *Store) CreateSession(ctx context.Context, userID string, role auth.Role, meta session.Meta) (session.Session, error) {
	if userID == "" || !role.Valid() {
		return session.Session{}, session.ErrInvalidInput
	}
	now := s.now()
	sess := session.Session{
		Token:     ids.NewToken(),
		UserID:    userID,
		Role:      role,
		LoginAt:   now,
		ExpiresAt: now.Add(s.ttl),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
	}
	_, err := s.db.ExecContext(ctx, `
		insert into sessions (token, user_id, role, login_at, expires_at, ip_address, user_agent)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, sess.Token, sess.UserID, string(sess.Role), sess.LoginAt, sess.ExpiresAt,
		nullIfEmpty(sess.IPAddress), nullIfEmpty(sess.UserAgent))
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
			return session.Session{}, session.ErrInvalidInput
		}
		return session.Session{}, err
	}
	return sess, nil
}

// Validate loads a session and applies lazy expiry: a found-but-expired
// session is stamped logout_at = expires_at with reason EXPIRED, and any
// role lock it holds is removed in the same transaction. The guard on
// logout_at being null makes the stamp happen exactly once under races.
func (s *Store) Validate(ctx context.Context, token string) (session.Session, bool, error) {
	sess, err := s.Peek(ctx, token)
	if err != nil {
		return session.Session{}, false, err
	}
	now := s.now()
	if sess.ActiveAt(now) {
		return sess, true, nil
	}
	if sess.LogoutAt == nil {
		stamped, err := s.expireSession(ctx, token)
		if err != nil {
			return session.Session{}, false, err
		}
		if !stamped {
			// A concurrent End won the guarded update; report what the
			// database recorded instead of a locally invented EXPIRED.
			sess, err = s.Peek(ctx, token)
			if err != nil {
				return session.Session{}, false, err
			}
			return sess, false, nil
		}
		at := sess.ExpiresAt
		reason := session.EndReasonExpired
		sess.LogoutAt = &at
		sess.EndedReason = &reason
	}
	return sess, false, nil
}

func (s *Store) expireSession(ctx context.Context, token string) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update sessions set logout_at = expires_at, ended_reason = 'EXPIRED'
		where token = $1 and logout_at is null
	`, token)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		if err := releaseLocksHeldBy(ctx, tx, token); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *Store) End(ctx context.Context, token string, reason session.EndReason) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
		update sessions set logout_at = $2, ended_reason = $3
		where token = $1 and logout_at is null
	`, token, s.now(), string(reason))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	// Already-ended sessions are left untouched; the call is idempotent.
	if n > 0 {
		if err := releaseLocksHeldBy(ctx, tx, token); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func releaseLocksHeldBy(ctx context.Context, tx *sql.Tx, token string) error {
	rows, err := tx.QueryContext(ctx, `delete from role_locks where token = $1 returning role`, token)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return err
		}
		obs.SetRoleLockHeld(role, false)
	}
	return rows.Err()
}

func (s *Store) Peek(ctx context.Context, token string) (session.Session, error) {
	if token == "" {
		return session.Session{}, session.ErrInvalidInput
	}
	return scanSession(s.db.QueryRowContext(ctx, `select `+sessionColumns+` from sessions where token = $1`, token))
}

func (s *Store) ListSessions(ctx context.Context, f session.Filter) ([]session.Session, error) {
	query := `select ` + sessionColumns + ` from sessions`
	var (
		conds []string
		args  []any
	)
	if f.Role != "" {
		args = append(args, string(f.Role))
		conds = append(conds, `role = $`+strconv.Itoa(len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, `user_id = $`+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		args = append(args, s.now())
		conds = append(conds, `logout_at is null and expires_at > $`+strconv.Itoa(len(args)))
	}
	if f.EndedOnly {
		conds = append(conds, `logout_at is not null`)
	}
	for i, c := range conds {
		if i == 0 {
			query += ` where ` + c
		} else {
			query += ` and ` + c
		}
	}
	query += ` order by login_at desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []session.Session
	for rows.Next() {
		sess, err := scanSessionRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, sess)
	}
	return result, rows.Err()
}

func scanSession(row rowScanner) (session.Session, error) {
	sess, err := scanSessionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, session.ErrNotFound
	}
	return sess, err
}

func scanSessionRow(row rowScanner) (session.Session, error) {
	var (
		sess   session.Session
		role   string
		out    sql.NullTime
		reason sql.NullString
	)
	err := row.Scan(&sess.Token, &sess.UserID, &role, &sess.LoginAt, &sess.ExpiresAt,
		&out, &reason, &sess.IPAddress, &sess.UserAgent)
	if err != nil {
		return session.Session{}, err
	}
	sess.Role = auth.Role(role)
	if out.Valid {
		t := out.Time
		sess.LogoutAt = &t
	}
	if reason.Valid {
		r := session.EndReason(reason.String)
		sess.EndedReason = &r
	}
	return sess, nil
}
