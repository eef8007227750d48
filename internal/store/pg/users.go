package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/ids"
)

// Users adapts the store to auth.UserStore.
type Users struct {
	s *Store
}

func (s *Store) Users() *Users { return &Users{s: s} }

func (v *Users) Create(ctx context.Context, u *auth.User) error { return v.s.CreateUser(ctx, u) }

func (v *Users) Get(ctx context.Context, id string) (auth.User, error) { return v.s.GetUser(ctx, id) }

func (v *Users) FindByUsername(ctx context.Context, username string) (auth.User, error) {
	return v.s.FindByUsername(ctx, username)
}

func (v *Users) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return v.s.FindByEmail(ctx, email)
}

func (v *Users) List(ctx context.Context) ([]auth.User, error) { return v.s.ListUsers(ctx) }

func (v *Users) UpdatePassword(ctx context.Context, userID, passwordHash string, firstLogin bool) error {
	return v.s.UpdatePassword(ctx, userID, passwordHash, firstLogin)
}

func (v *Users) Delete(ctx context.Context, id string) error { return v.s.DeleteUser(ctx, id) }

const userColumns = `id, username, full_name, email, contact_number, role, password_hash, first_login, active, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u *auth.User) error {
	if u.Username == "" || u.Email == "" {
		return auth.ErrInvalidInput
	}
	if !u.Role.Valid() {
		return auth.ErrInvalidInput
	}
	if u.ID == "" {
		u.ID = ids.NewToken()
	}
	err := s.db.QueryRowContext(ctx, `
		insert into users (id, username, full_name, email, contact_number, role, password_hash, first_login, active)
		values ($1, $2, $3, lower($4), $5, $6, $7, $8, $9)
		returning created_at, updated_at
	`, u.ID, strings.TrimSpace(u.Username), u.FullName, strings.TrimSpace(u.Email), u.ContactNumber,
		string(u.Role), u.PasswordHash, u.FirstLogin, u.Active).Scan(&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return auth.ErrConflict
		}
		return err
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, id string) (auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx, `select `+userColumns+` from users where id = $1`, id))
}

func (s *Store) FindByUsername(ctx context.Context, username string) (auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where username = $1`, strings.TrimSpace(username)))
}

func (s *Store) FindByEmail(ctx context.Context, email string) (auth.User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email = lower($1)`, strings.TrimSpace(email)))
}

func (s *Store) ListUsers(ctx context.Context) ([]auth.User, error) {
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by created_at desc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []auth.User
	for rows.Next() {
		u, err := scanUserRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	return result, rows.Err()
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string, firstLogin bool) error {
	res, err := s.db.ExecContext(ctx, `
		update users set password_hash = $2, first_login = $3, updated_at = now()
		where id = $1
	`, userID, passwordHash, firstLogin)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteUser(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from users where id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return auth.ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (auth.User, error) {
	u, err := scanUserRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.User{}, auth.ErrNotFound
	}
	return u, err
}

func scanUserRow(row rowScanner) (auth.User, error) {
	var (
		u    auth.User
		role string
	)
	err := row.Scan(&u.ID, &u.Username, &u.FullName, &u.Email, &u.ContactNumber, &role,
		&u.PasswordHash, &u.FirstLogin, &u.Active, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return auth.User{}, err
	}
	u.Role = auth.Role(role)
	return u, nil
}
