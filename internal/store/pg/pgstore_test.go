package pg

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"toolcrib.org/internal/auth"
	"toolcrib.org/internal/inventory"
	"toolcrib.org/internal/notify"
	"toolcrib.org/internal/session"
	"toolcrib.org/internal/workflow"
)

func newMockStore(t *testing.T, opts ...Option) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return NewStore(db, opts...), mock
}

func verify(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestReserveDecrementsWithGuard(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update tools set quantity_available").
		WithArgs("T00001", 3).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Reserve(context.Background(), "T00001", 3); err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	verify(t, mock)
}

func TestReserveInsufficientStock(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update tools set quantity_available").
		WithArgs("T00001", 99).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("T00001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := s.Reserve(context.Background(), "T00001", 99)
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	verify(t, mock)
}

func TestReserveUnknownTool(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update tools set quantity_available").
		WithArgs("T99999", 1).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("T99999").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := s.Reserve(context.Background(), "T99999", 1)
	if !errors.Is(err, inventory.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func sessionRows(token string, loginAt, expiresAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"token", "user_id", "role", "login_at", "expires_at", "logout_at", "ended_reason", "ip_address", "user_agent",
	}).AddRow(token, "u-1", "SUPERVISOR", loginAt, expiresAt, nil, nil, "", "")
}

func TestValidateAppliesLazyExpiry(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	expiresAt := now.Add(-time.Minute)
	mock.ExpectQuery("select (.+) from sessions where token").
		WithArgs("tok-1").
		WillReturnRows(sessionRows("tok-1", now.Add(-time.Hour), expiresAt))
	mock.ExpectBegin()
	mock.ExpectExec("update sessions set logout_at = expires_at").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("delete from role_locks where token").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("SUPERVISOR"))
	mock.ExpectCommit()

	sess, active, err := s.Validate(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if active {
		t.Fatal("expired session reported active")
	}
	if sess.LogoutAt == nil || !sess.LogoutAt.Equal(expiresAt) {
		t.Fatalf("logout_at should equal expires_at, got %v", sess.LogoutAt)
	}
	if sess.EndedReason == nil || *sess.EndedReason != session.EndReasonExpired {
		t.Fatalf("expected EXPIRED reason, got %v", sess.EndedReason)
	}
	verify(t, mock)
}

func TestValidateActiveSession(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	mock.ExpectQuery("select (.+) from sessions where token").
		WithArgs("tok-1").
		WillReturnRows(sessionRows("tok-1", now, now.Add(30*time.Minute)))

	sess, active, err := s.Validate(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if !active || sess.LogoutAt != nil {
		t.Fatalf("expected active session, got active=%v %+v", active, sess)
	}
	verify(t, mock)
}

func TestValidateReportsConcurrentLogout(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	expiresAt := now.Add(-time.Minute)
	loggedOut := now.Add(-2 * time.Minute)
	mock.ExpectQuery("select (.+) from sessions where token").
		WithArgs("tok-1").
		WillReturnRows(sessionRows("tok-1", now.Add(-time.Hour), expiresAt))
	mock.ExpectBegin()
	// A concurrent End committed between the read and our guarded update,
	// so the stamp matches no rows.
	mock.ExpectExec("update sessions set logout_at = expires_at").
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectQuery("select (.+) from sessions where token").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"token", "user_id", "role", "login_at", "expires_at", "logout_at", "ended_reason", "ip_address", "user_agent",
		}).AddRow("tok-1", "u-1", "SUPERVISOR", now.Add(-time.Hour), expiresAt, loggedOut, "LOGOUT", "", ""))

	sess, active, err := s.Validate(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if active {
		t.Fatal("ended session reported active")
	}
	// Report what the database recorded, not a locally invented EXPIRED.
	if sess.EndedReason == nil || *sess.EndedReason != session.EndReasonLogout {
		t.Fatalf("expected LOGOUT reason, got %v", sess.EndedReason)
	}
	if sess.LogoutAt == nil || !sess.LogoutAt.Equal(loggedOut) {
		t.Fatalf("expected recorded logout time, got %v", sess.LogoutAt)
	}
	verify(t, mock)
}

func TestEndIsIdempotent(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	// Guard on logout_at is null: a second End matches no rows and must
	// not touch role_locks.
	mock.ExpectExec("update sessions set logout_at").
		WithArgs("tok-1", sqlmock.AnyArg(), "LOGOUT").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := s.End(context.Background(), "tok-1", session.EndReasonLogout); err != nil {
		t.Fatalf("End: %v", err)
	}
	verify(t, mock)
}

func TestEndReleasesHeldLock(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("update sessions set logout_at").
		WithArgs("tok-1", sqlmock.AnyArg(), "LOGOUT").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("delete from role_locks where token").
		WithArgs("tok-1").
		WillReturnRows(sqlmock.NewRows([]string{"role"}).AddRow("OFFICER"))
	mock.ExpectCommit()

	if err := s.End(context.Background(), "tok-1", session.EndReasonLogout); err != nil {
		t.Fatalf("End: %v", err)
	}
	verify(t, mock)
}

func usageRequestRows(id, status string, requestedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "operator_id", "tool_id", "quantity", "status", "requested_at",
		"reviewed_at", "approver_id", "remarks", "received_at", "returned_at",
	}).AddRow(id, "op-1", "T00001", 3, status, requestedAt, nil, "", "", nil, nil)
}

func TestApproveUsageRollsBackOnInsufficientStock(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from usage_requests where id (.+) for update").
		WithArgs("TR00001").
		WillReturnRows(usageRequestRows("TR00001", "PENDING", now.Add(-time.Hour)))
	mock.ExpectExec("update tools set quantity_available").
		WithArgs("T00001", 3).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("select exists").
		WithArgs("T00001").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := s.ApproveUsage(context.Background(), "TR00001", "sup-1")
	if !errors.Is(err, inventory.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	verify(t, mock)
}

func TestApproveUsageAlreadyProcessed(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from usage_requests where id (.+) for update").
		WithArgs("TR00001").
		WillReturnRows(usageRequestRows("TR00001", "APPROVED", now.Add(-time.Hour)))
	mock.ExpectRollback()

	_, err := s.ApproveUsage(context.Background(), "TR00001", "sup-1")
	if !errors.Is(err, workflow.ErrAlreadyProcessed) {
		t.Fatalf("expected ErrAlreadyProcessed, got %v", err)
	}
	verify(t, mock)
}

func additionRows(id, status string, qty int, requestedAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "tool_name", "tool_make", "tool_range", "tool_location", "quantity",
		"status", "supervisor_id", "requested_at", "reviewed_at", "reviewer_id", "remarks",
	}).AddRow(id, "Vernier Caliper", "Mitutoyo", "0-150mm", "Rack A1", qty,
		status, "sup-1", requestedAt, nil, "", "")
}

func toolRows(id string, total, avail int, createdAt time.Time) *sqlmock.Rows {
	return sqlmock.NewRows([]string{
		"id", "name", "make", "range", "location", "quantity_total", "quantity_available", "created_at",
	}).AddRow(id, "Vernier Caliper", "Mitutoyo", "0-150mm", "Rack A1", total, avail, createdAt)
}

func TestApproveAdditionMergesConcurrentCreate(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from addition_requests where id (.+) for update").
		WithArgs("TAR00002").
		WillReturnRows(additionRows("TAR00002", "PENDING", 5, now.Add(-time.Hour)))
	// A concurrent approval created the same (name, make, range, location)
	// tuple an instant earlier. The stock increase is a single upsert, so
	// this side lands as a merge instead of dying on the unique index.
	mock.ExpectQuery(`on conflict \(name, make, range, location\) do update`).
		WithArgs("Vernier Caliper", "Mitutoyo", "0-150mm", "Rack A1", 5).
		WillReturnRows(toolRows("T00001", 15, 15, now))
	mock.ExpectQuery("update addition_requests").
		WithArgs("TAR00002", now, "off-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "tool_name", "tool_make", "tool_range", "tool_location", "quantity",
			"status", "supervisor_id", "requested_at", "reviewed_at", "reviewer_id", "remarks",
		}).AddRow("TAR00002", "Vernier Caliper", "Mitutoyo", "0-150mm", "Rack A1", 5,
			"APPROVED", "sup-1", now.Add(-time.Hour), now, "off-1", ""))
	mock.ExpectCommit()

	req, err := s.ApproveAddition(context.Background(), "TAR00002", "off-1")
	if err != nil {
		t.Fatalf("ApproveAddition: %v", err)
	}
	if req.Status != workflow.StatusApproved {
		t.Fatalf("expected APPROVED, got %s", req.Status)
	}
	verify(t, mock)
}

var pgErrDup = pgconn.PgError{Code: pgErrUniqueViolation}

func TestAcquireClaimsFreeRole(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	sess := session.Session{
		Token:     "tok-1",
		UserID:    "u-1",
		Role:      auth.RoleSupervisor,
		LoginAt:   now,
		ExpiresAt: now.Add(30 * time.Minute),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from role_locks").
		WithArgs("SUPERVISOR").
		WillReturnRows(sqlmock.NewRows([]string{"role", "token", "locked_at", "logout_at", "expires_at"}))
	mock.ExpectExec("insert into role_locks").
		WithArgs("SUPERVISOR", "tok-1", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := s.Acquire(context.Background(), auth.RoleSupervisor, sess)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	verify(t, mock)
}

func TestAcquireHeldByActiveSession(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	sess := session.Session{
		Token:     "tok-2",
		UserID:    "u-2",
		Role:      auth.RoleSupervisor,
		LoginAt:   now,
		ExpiresAt: now.Add(30 * time.Minute),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from role_locks").
		WithArgs("SUPERVISOR").
		WillReturnRows(sqlmock.NewRows([]string{"role", "token", "locked_at", "logout_at", "expires_at"}).
			AddRow("SUPERVISOR", "tok-1", now.Add(-time.Minute), nil, now.Add(20*time.Minute)))
	mock.ExpectCommit()

	ok, err := s.Acquire(context.Background(), auth.RoleSupervisor, sess)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatal("expected contention, lock was granted")
	}
	verify(t, mock)
}

func TestAcquireReclaimsStaleLock(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	sess := session.Session{
		Token:     "tok-2",
		UserID:    "u-2",
		Role:      auth.RoleOfficer,
		LoginAt:   now,
		ExpiresAt: now.Add(30 * time.Minute),
	}

	mock.ExpectBegin()
	// The old holder's session expired; the stale row is cleared in place.
	mock.ExpectQuery("select (.+) from role_locks").
		WithArgs("OFFICER").
		WillReturnRows(sqlmock.NewRows([]string{"role", "token", "locked_at", "logout_at", "expires_at"}).
			AddRow("OFFICER", "tok-1", now.Add(-2*time.Hour), nil, now.Add(-time.Hour)))
	mock.ExpectExec("delete from role_locks").
		WithArgs("OFFICER", "tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("insert into role_locks").
		WithArgs("OFFICER", "tok-2", now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := s.Acquire(context.Background(), auth.RoleOfficer, sess)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	verify(t, mock)
}

func TestAcquireLosesInsertRace(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	s, mock := newMockStore(t, WithClock(func() time.Time { return now }))

	sess := session.Session{
		Token:     "tok-2",
		UserID:    "u-2",
		Role:      auth.RoleSupervisor,
		LoginAt:   now,
		ExpiresAt: now.Add(30 * time.Minute),
	}

	mock.ExpectBegin()
	mock.ExpectQuery("select (.+) from role_locks").
		WithArgs("SUPERVISOR").
		WillReturnRows(sqlmock.NewRows([]string{"role", "token", "locked_at", "logout_at", "expires_at"}))
	// Another acquirer committed between our read and our insert.
	mock.ExpectExec("insert into role_locks").
		WithArgs("SUPERVISOR", "tok-2", now).
		WillReturnError(&pgErrDup)
	mock.ExpectRollback()

	ok, err := s.Acquire(context.Background(), auth.RoleSupervisor, sess)
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if ok {
		t.Fatal("lost race must report contention, not success")
	}
	verify(t, mock)
}

func TestAcquireRejectsUnprivilegedRole(t *testing.T) {
	s, _ := newMockStore(t)
	_, err := s.Acquire(context.Background(), auth.RoleOperator, session.Session{Token: "tok-1"})
	if err == nil {
		t.Fatal("expected error for operator role")
	}
}

func TestMarkReadRecipientGuarded(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("update notifications set read").
		WithArgs("n-1", "u-1", "SUPERVISOR").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkRead(context.Background(), "n-1", "u-1", auth.RoleSupervisor); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	// Wrong recipient matches no row and reads as absent.
	mock.ExpectExec("update notifications set read").
		WithArgs("n-1", "u-2", "OPERATOR").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.MarkRead(context.Background(), "n-1", "u-2", auth.RoleOperator); !errors.Is(err, notify.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	verify(t, mock)
}

func TestCreateUserConflict(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("insert into users").
		WillReturnError(&pgErrDup)

	u := auth.User{Username: "jdoe", Email: "jdoe@example.com", Role: auth.RoleOperator, Active: true}
	if err := s.CreateUser(context.Background(), &u); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	verify(t, mock)
}
