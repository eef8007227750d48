package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestParseRole(t *testing.T) {
	for _, valid := range []string{"OFFICER", "SUPERVISOR", "OPERATOR"} {
		if _, err := ParseRole(valid); err != nil {
			t.Fatalf("ParseRole(%q): %v", valid, err)
		}
	}
	if _, err := ParseRole("ADMIN"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestPrivilegedRoles(t *testing.T) {
	if !RoleOfficer.Privileged() || !RoleSupervisor.Privileged() {
		t.Fatal("officer and supervisor must be privileged")
	}
	if RoleOperator.Privileged() {
		t.Fatal("operator must not be privileged")
	}
}

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if err := VerifyPassword(hash, "s3cret"); err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if err := VerifyPassword(hash, "wrong"); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestResetTokenRoundTrip(t *testing.T) {
	secret := []byte("test-secret")
	token, err := NewResetToken(secret, "Op@Example.Com ", time.Minute)
	if err != nil {
		t.Fatalf("NewResetToken: %v", err)
	}
	email, err := ParseResetToken(secret, token)
	if err != nil {
		t.Fatalf("ParseResetToken: %v", err)
	}
	if email != "op@example.com" {
		t.Fatalf("unexpected email %q", email)
	}
	if _, err := ParseResetToken([]byte("other-secret"), token); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}
}

func TestResetTokenExpiry(t *testing.T) {
	secret := []byte("test-secret")
	token, err := NewResetToken(secret, "op@example.com", time.Nanosecond)
	if err != nil {
		t.Fatalf("NewResetToken: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := ParseResetToken(secret, token); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected expired token to fail, got %v", err)
	}
}

func TestInMemoryUsers(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryUsers()

	u := &User{Username: "officer1", FullName: "Officer One", Email: "o1@example.com", Role: RoleOfficer, Active: true, FirstLogin: true}
	if err := store.Create(ctx, u); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if u.ID == "" {
		t.Fatal("expected generated id")
	}

	dup := &User{Username: "officer1", Email: "other@example.com", Role: RoleOfficer}
	if err := store.Create(ctx, dup); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict for duplicate username, got %v", err)
	}

	found, err := store.FindByUsername(ctx, "officer1")
	if err != nil || found.ID != u.ID {
		t.Fatalf("FindByUsername: %v (%+v)", err, found)
	}

	if err := store.UpdatePassword(ctx, u.ID, "new-hash", false); err != nil {
		t.Fatalf("UpdatePassword: %v", err)
	}
	got, _ := store.Get(ctx, u.ID)
	if got.PasswordHash != "new-hash" || got.FirstLogin {
		t.Fatalf("password update not applied: %+v", got)
	}

	if err := store.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, u.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestPrincipalContext(t *testing.T) {
	ctx := context.Background()
	if _, ok := PrincipalFromContext(ctx); ok {
		t.Fatal("expected no principal on empty context")
	}
	ctx = ContextWithPrincipal(ctx, Principal{User: User{ID: "u1"}, SessionToken: "tok"})
	p, ok := PrincipalFromContext(ctx)
	if !ok || p.User.ID != "u1" || p.SessionToken != "tok" {
		t.Fatalf("unexpected principal: %+v ok=%v", p, ok)
	}
	if id, ok := UserIDFromContext(ctx); !ok || id != "u1" {
		t.Fatalf("UserIDFromContext: %q ok=%v", id, ok)
	}
}
