package pg

import (
	"context"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/ids"
	"toolcrib.org/internal/notify"
)

func (s *Store) Append(ctx context.Context, n *notify.Notification) error {
	if n.ID == "" {
		n.ID = ids.NewToken()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		insert into notifications (id, user_id, role, title, body, created_at)
		values ($1, nullif($2,''), nullif($3,''), $4, $5, $6)
	`, n.ID, n.UserID, string(n.Role), n.Title, n.Body, n.CreatedAt)
	return err
}

func (s *Store) ListFor(ctx context.Context, userID string, role auth.Role) ([]notify.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, coalesce(user_id,''), coalesce(role,''), title, coalesce(body,''), read, created_at
		from notifications
		where user_id = $1 or role = $2
		order by created_at desc
	`, userID, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notify.Notification
	for rows.Next() {
		var (
			n notify.Notification
			r string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &r, &n.Title, &n.Body, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Role = auth.Role(r)
		result = append(result, n)
	}
	return result, rows.Err()
}

// MarkRead is recipient-guarded in the where clause, so a foreign caller
// cannot tell a mismatch from a missing id.
func (s *Store) MarkRead(ctx context.Context, id, userID string, role auth.Role) error {
	res, err := s.db.ExecContext(ctx, `
		update notifications set read = true
		where id = $1 and (user_id = $2 or role = $3)
	`, id, userID, string(role))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notify.ErrNotFound
	}
	return nil
}
