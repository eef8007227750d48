package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/stream"
	"toolcrib.org/internal/workflow"
)

const (
	additionColumns = `id, tool_name, tool_make, tool_range, tool_location, quantity, status, supervisor_id, requested_at, reviewed_at, coalesce(reviewer_id,''), coalesce(remarks,'')`
	usageColumns    = `id, operator_id, tool_id, quantity, status, requested_at, reviewed_at, coalesce(approver_id,''), coalesce(remarks,''), received_at, returned_at`
)

func (s *Store) SubmitAddition(ctx context.Context, tool workflow.ToolDescriptor, qty int, supervisorID string) (workflow.AdditionRequest, error) {
	if qty <= 0 {
		return workflow.AdditionRequest{}, workflow.ErrInvalidQuantity
	}
	if strings.TrimSpace(tool.Name) == "" {
		return workflow.AdditionRequest{}, inventory.ErrInvalidKey
	}
	req, err := scanAddition(s.db.QueryRowContext(ctx, `
		insert into addition_requests (id, tool_name, tool_make, tool_range, tool_location, quantity, status, supervisor_id, requested_at)
		values ('TAR' || lpad(nextval('addition_code_seq')::text, 5, '0'), $1, $2, $3, $4, $5, 'PENDING', $6, $7)
		returning `+additionColumns+`
	`, tool.Name, tool.Make, tool.Range, tool.Location, qty, supervisorID, s.now()))
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	s.emit(ctx, "addition.submitted", req.ID, "", req.Quantity, supervisorID)
	s.notify(ctx, "", auth.RoleOfficer, "New tool addition request",
		fmt.Sprintf("%s requested %d x %s", supervisorID, req.Quantity, tool.Name))
	return req, nil
}

// ApproveAddition flips the request and applies the stock increase in one
// transaction; locking the request row first makes the PENDING check and
// the flip atomic under concurrent approvals.
func (s *Store) ApproveAddition(ctx context.Context, requestID, officerID string) (workflow.AdditionRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockAddition(ctx, tx, requestID)
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	if req.Status != workflow.StatusPending {
		return workflow.AdditionRequest{}, workflow.ErrAlreadyProcessed
	}
	if _, err := increaseStockTx(ctx, tx, req.Tool.Key(), req.Quantity); err != nil {
		return workflow.AdditionRequest{}, err
	}
	req, err = scanAddition(tx.QueryRowContext(ctx, `
		update addition_requests
		set status = 'APPROVED', reviewed_at = $2, reviewer_id = $3
		where id = $1
		returning `+additionColumns+`
	`, requestID, s.now(), officerID))
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.AdditionRequest{}, err
	}
	s.emit(ctx, "addition.approved", req.ID, "", req.Quantity, officerID)
	s.notify(ctx, req.SupervisorID, "", "Tool addition approved",
		fmt.Sprintf("%s approved %s", officerID, req.ID))
	return req, nil
}

func (s *Store) RejectAddition(ctx context.Context, requestID, officerID, remarks string) (workflow.AdditionRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockAddition(ctx, tx, requestID)
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	if req.Status != workflow.StatusPending {
		return workflow.AdditionRequest{}, workflow.ErrAlreadyProcessed
	}
	req, err = scanAddition(tx.QueryRowContext(ctx, `
		update addition_requests
		set status = 'REJECTED', reviewed_at = $2, reviewer_id = $3, remarks = nullif($4,'')
		where id = $1
		returning `+additionColumns+`
	`, requestID, s.now(), officerID, remarks))
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.AdditionRequest{}, err
	}
	s.emit(ctx, "addition.rejected", req.ID, "", req.Quantity, officerID)
	s.notify(ctx, req.SupervisorID, "", "Tool addition rejected", remarks)
	return req, nil
}

func (s *Store) ListAdditions(ctx context.Context, status workflow.Status) ([]workflow.AdditionRequest, error) {
	query := `select ` + additionColumns + ` from addition_requests`
	var args []any
	if status != "" {
		query += ` where status = $1`
		args = append(args, string(status))
	}
	query += ` order by requested_at desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workflow.AdditionRequest
	for rows.Next() {
		req, err := scanAdditionRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func (s *Store) SubmitUsage(ctx context.Context, toolID string, qty int, operatorID string) (workflow.UsageRequest, error) {
	if qty <= 0 {
		return workflow.UsageRequest{}, workflow.ErrInvalidQuantity
	}
	tool, err := s.GetTool(ctx, toolID)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	// Advisory pre-check only; the authoritative check is the reserve at
	// approval time.
	if qty > tool.QuantityAvailable {
		return workflow.UsageRequest{}, workflow.ErrExceedsAvailable
	}
	req, err := scanUsage(s.db.QueryRowContext(ctx, `
		insert into usage_requests (id, operator_id, tool_id, quantity, status, requested_at)
		values ('TR' || lpad(nextval('usage_code_seq')::text, 5, '0'), $1, $2, $3, 'PENDING', $4)
		returning `+usageColumns+`
	`, operatorID, toolID, qty, s.now()))
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	s.emit(ctx, "usage.submitted", req.ID, toolID, qty, operatorID)
	s.notify(ctx, "", auth.RoleSupervisor, "New tool usage request",
		fmt.Sprintf("%s requested %d x %s", operatorID, qty, tool.Name))
	return req, nil
}

// ApproveUsage reserves stock and flips the request in one transaction. A
// failed reservation rolls everything back and the request stays PENDING,
// so the approval can be retried once stock frees up.
func (s *Store) ApproveUsage(ctx context.Context, requestID, supervisorID string) (workflow.UsageRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockUsage(ctx, tx, requestID)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if req.Status != workflow.StatusPending {
		return workflow.UsageRequest{}, workflow.ErrAlreadyProcessed
	}
	if err := reserveTx(ctx, tx, req.ToolID, req.Quantity); err != nil {
		return workflow.UsageRequest{}, err
	}
	req, err = scanUsage(tx.QueryRowContext(ctx, `
		update usage_requests
		set status = 'APPROVED', reviewed_at = $2, approver_id = $3
		where id = $1
		returning `+usageColumns+`
	`, requestID, s.now(), supervisorID))
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.UsageRequest{}, err
	}
	s.emit(ctx, "usage.approved", req.ID, req.ToolID, req.Quantity, supervisorID)
	s.notify(ctx, req.OperatorID, "", "Tool request approved",
		fmt.Sprintf("%s approved %s", supervisorID, req.ID))
	return req, nil
}

func (s *Store) RejectUsage(ctx context.Context, requestID, supervisorID, remarks string) (workflow.UsageRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockUsage(ctx, tx, requestID)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if req.Status != workflow.StatusPending {
		return workflow.UsageRequest{}, workflow.ErrAlreadyProcessed
	}
	req, err = scanUsage(tx.QueryRowContext(ctx, `
		update usage_requests
		set status = 'REJECTED', reviewed_at = $2, approver_id = $3, remarks = nullif($4,'')
		where id = $1
		returning `+usageColumns+`
	`, requestID, s.now(), supervisorID, remarks))
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.UsageRequest{}, err
	}
	s.emit(ctx, "usage.rejected", req.ID, req.ToolID, req.Quantity, supervisorID)
	s.notify(ctx, req.OperatorID, "", "Tool request rejected", remarks)
	return req, nil
}

func (s *Store) MarkReceived(ctx context.Context, requestID, operatorID string) (workflow.UsageRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockUsage(ctx, tx, requestID)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if req.OperatorID != operatorID {
		return workflow.UsageRequest{}, workflow.ErrForbidden
	}
	if req.Status != workflow.StatusApproved {
		return workflow.UsageRequest{}, workflow.ErrInvalidState
	}
	req, err = scanUsage(tx.QueryRowContext(ctx, `
		update usage_requests set status = 'RECEIVED', received_at = $2
		where id = $1
		returning `+usageColumns+`
	`, requestID, s.now()))
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.UsageRequest{}, err
	}
	s.emit(ctx, "usage.received", req.ID, req.ToolID, req.Quantity, operatorID)
	return req, nil
}

func (s *Store) ReturnTool(ctx context.Context, requestID, operatorID string) (workflow.UsageRequest, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	defer func() { _ = tx.Rollback() }()

	req, err := lockUsage(ctx, tx, requestID)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if req.OperatorID != operatorID {
		return workflow.UsageRequest{}, workflow.ErrForbidden
	}
	if req.Status != workflow.StatusReceived {
		return workflow.UsageRequest{}, workflow.ErrInvalidState
	}
	if err := releaseTx(ctx, tx, req.ToolID, req.Quantity); err != nil {
		return workflow.UsageRequest{}, err
	}
	req, err = scanUsage(tx.QueryRowContext(ctx, `
		update usage_requests set status = 'RETURNED', returned_at = $2
		where id = $1
		returning `+usageColumns+`
	`, requestID, s.now()))
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	if err := tx.Commit(); err != nil {
		return workflow.UsageRequest{}, err
	}
	s.emit(ctx, "usage.returned", req.ID, req.ToolID, req.Quantity, operatorID)
	s.notify(ctx, "", auth.RoleSupervisor, "Tool returned",
		fmt.Sprintf("%s returned %d for %s", operatorID, req.Quantity, req.ID))
	return req, nil
}

func (s *Store) ListUsage(ctx context.Context, f workflow.UsageFilter) ([]workflow.UsageRequest, error) {
	query := `select ` + usageColumns + ` from usage_requests`
	var (
		conds []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, `status = $`+strconv.Itoa(len(args)))
	}
	if f.OperatorID != "" {
		args = append(args, f.OperatorID)
		conds = append(conds, `operator_id = $`+strconv.Itoa(len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			query += ` where ` + c
		} else {
			query += ` and ` + c
		}
	}
	query += ` order by requested_at desc`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []workflow.UsageRequest
	for rows.Next() {
		req, err := scanUsageRow(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, req)
	}
	return result, rows.Err()
}

func lockAddition(ctx context.Context, tx *sql.Tx, requestID string) (workflow.AdditionRequest, error) {
	req, err := scanAddition(tx.QueryRowContext(ctx,
		`select `+additionColumns+` from addition_requests where id = $1 for update`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.AdditionRequest{}, workflow.ErrNotFound
	}
	return req, err
}

func lockUsage(ctx context.Context, tx *sql.Tx, requestID string) (workflow.UsageRequest, error) {
	req, err := scanUsage(tx.QueryRowContext(ctx,
		`select `+usageColumns+` from usage_requests where id = $1 for update`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.UsageRequest{}, workflow.ErrNotFound
	}
	return req, err
}

func scanAddition(row rowScanner) (workflow.AdditionRequest, error) {
	req, err := scanAdditionRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.AdditionRequest{}, workflow.ErrNotFound
	}
	return req, err
}

func scanAdditionRow(row rowScanner) (workflow.AdditionRequest, error) {
	var (
		req      workflow.AdditionRequest
		status   string
		reviewed sql.NullTime
	)
	err := row.Scan(&req.ID, &req.Tool.Name, &req.Tool.Make, &req.Tool.Range, &req.Tool.Location,
		&req.Quantity, &status, &req.SupervisorID, &req.RequestedAt, &reviewed, &req.ReviewerID, &req.Remarks)
	if err != nil {
		return workflow.AdditionRequest{}, err
	}
	req.Status = workflow.Status(status)
	if reviewed.Valid {
		t := reviewed.Time
		req.ReviewedAt = &t
	}
	return req, nil
}

func scanUsage(row rowScanner) (workflow.UsageRequest, error) {
	req, err := scanUsageRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return workflow.UsageRequest{}, workflow.ErrNotFound
	}
	return req, err
}

func scanUsageRow(row rowScanner) (workflow.UsageRequest, error) {
	var (
		req      workflow.UsageRequest
		status   string
		reviewed sql.NullTime
		received sql.NullTime
		returned sql.NullTime
	)
	err := row.Scan(&req.ID, &req.OperatorID, &req.ToolID, &req.Quantity, &status,
		&req.RequestedAt, &reviewed, &req.ApproverID, &req.Remarks, &received, &returned)
	if err != nil {
		return workflow.UsageRequest{}, err
	}
	req.Status = workflow.Status(status)
	if reviewed.Valid {
		t := reviewed.Time
		req.ReviewedAt = &t
	}
	if received.Valid {
		t := received.Time
		req.ReceivedAt = &t
	}
	if returned.Valid {
		t := returned.Time
		req.ReturnedAt = &t
	}
	return req, nil
}

// notify and emit run after the transition committed; they never affect it.

func (s *Store) notify(ctx context.Context, userID string, role auth.Role, title, body string) {
	if s.notes == nil {
		return
	}
	s.notes.Notify(ctx, userID, role, title, body)
}

func (s *Store) emit(ctx context.Context, kind, requestID, toolID string, qty int, actorID string) {
	if s.ev == nil {
		return
	}
	s.ev.Publish(stream.Event{
		Kind:      kind,
		RequestID: requestID,
		ToolID:    toolID,
		Quantity:  qty,
		ActorID:   actorID,
	})
}
