package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/obs"
)

// Inventory adapts the store to inventory.Ledger.
type Inventory struct {
	s *Store
}

func (s *Store) Inventory() *Inventory { return &Inventory{s: s} }

func (v *Inventory) IncreaseStock(ctx context.Context, key inventory.Key, qty int) (inventory.Tool, error) {
	return v.s.IncreaseStock(ctx, key, qty)
}

func (v *Inventory) Reserve(ctx context.Context, toolID string, qty int) error {
	return v.s.Reserve(ctx, toolID, qty)
}

func (v *Inventory) Release(ctx context.Context, toolID string, qty int) error {
	return v.s.ReleaseStock(ctx, toolID, qty)
}

func (v *Inventory) Get(ctx context.Context, toolID string) (inventory.Tool, error) {
	return v.s.GetTool(ctx, toolID)
}

func (v *Inventory) ListAvailable(ctx context.Context) ([]inventory.Tool, error) {
	return v.s.ListAvailable(ctx)
}

const toolColumns = `id, name, make, range, location, quantity_total, quantity_available, created_at`

func (s *Store) IncreaseStock(ctx context.Context, key inventory.Key, qty int) (inventory.Tool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return inventory.Tool{}, err
	}
	defer func() { _ = tx.Rollback() }()

	tool, err := increaseStockTx(ctx, tx, key, qty)
	if err != nil {
		return inventory.Tool{}, err
	}
	if err := tx.Commit(); err != nil {
		return inventory.Tool{}, err
	}
	return tool, nil
}

// increaseStockTx merges qty into the record matching key, or creates a new
// record with a sequence-generated code. The upsert is a single statement so
// concurrent approvals of the same brand-new tuple both land as a merge
// instead of one losing on the unique index. Runs inside the caller's
// transaction so an approval and its stock movement commit together.
// Merges burn a sequence value; codes are not gapless.
func increaseStockTx(ctx context.Context, tx *sql.Tx, key inventory.Key, qty int) (inventory.Tool, error) {
	if strings.TrimSpace(key.Name) == "" {
		return inventory.Tool{}, inventory.ErrInvalidKey
	}
	if qty <= 0 {
		return inventory.Tool{}, inventory.ErrInvalidQuantity
	}
	return scanTool(tx.QueryRowContext(ctx, `
		insert into tools (id, name, make, range, location, quantity_total, quantity_available)
		values ('T' || lpad(nextval('tool_code_seq')::text, 5, '0'), $1, $2, $3, $4, $5, $5)
		on conflict (name, make, range, location) do update
		set quantity_total = tools.quantity_total + excluded.quantity_total,
		    quantity_available = tools.quantity_available + excluded.quantity_available
		returning `+toolColumns+`
	`, key.Name, key.Make, key.Range, key.Location, qty))
}

// Reserve decrements quantity_available only when the check and the
// decrement can happen in one statement; the where clause is the guard, so
// concurrent reservations can never oversubscribe a row.
func (s *Store) Reserve(ctx context.Context, toolID string, qty int) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	return reserveTx(ctx, s.db, toolID, qty)
}

type execQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func reserveTx(ctx context.Context, q execQuerier, toolID string, qty int) error {
	res, err := q.ExecContext(ctx, `
		update tools set quantity_available = quantity_available - $2
		where id = $1 and quantity_available >= $2
	`, toolID, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		obs.CountReservation("ok")
		return nil
	}
	var exists bool
	if err := q.QueryRowContext(ctx, `select exists(select 1 from tools where id = $1)`, toolID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return inventory.ErrNotFound
	}
	obs.CountReservation("insufficient")
	return inventory.ErrInsufficientStock
}

func (s *Store) ReleaseStock(ctx context.Context, toolID string, qty int) error {
	if qty <= 0 {
		return inventory.ErrInvalidQuantity
	}
	return releaseTx(ctx, s.db, toolID, qty)
}

func releaseTx(ctx context.Context, q execQuerier, toolID string, qty int) error {
	res, err := q.ExecContext(ctx, `
		update tools set quantity_available = least(quantity_total, quantity_available + $2)
		where id = $1
	`, toolID, qty)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return inventory.ErrNotFound
	}
	return nil
}

func (s *Store) GetTool(ctx context.Context, toolID string) (inventory.Tool, error) {
	return scanTool(s.db.QueryRowContext(ctx, `select `+toolColumns+` from tools where id = $1`, toolID))
}

func (s *Store) ListAvailable(ctx context.Context) ([]inventory.Tool, error) {
	rows, err := s.db.QueryContext(ctx, `
		select `+toolColumns+` from tools where quantity_available > 0 order by name
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []inventory.Tool
	for rows.Next() {
		t, err := scanToolRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func scanTool(row rowScanner) (inventory.Tool, error) {
	t, err := scanToolRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return inventory.Tool{}, inventory.ErrNotFound
	}
	return t, err
}

func scanToolRow(row rowScanner) (inventory.Tool, error) {
	var t inventory.Tool
	err := row.Scan(&t.ID, &t.Name, &t.Make, &t.Range, &t.Location,
		&t.QuantityTotal, &t.QuantityAvailable, &t.CreatedAt)
	if err != nil {
		return inventory.Tool{}, err
	}
	return t, nil
}
