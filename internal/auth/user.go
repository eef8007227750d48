package auth

import (
	"context"
	"time"
)

// User represents a crib operator account. Accounts are created by an
// officer with the default password and must change it on first login.
type User struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	FullName      string    `json:"full_name"`
	Email         string    `json:"email"`
	ContactNumber string    `json:"contact_number"`
	Role          Role      `json:"role"`
	PasswordHash  string    `json:"-"`
	FirstLogin    bool      `json:"first_login"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// UserStore describes persistence operations required for accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Get(ctx context.Context, id string) (User, error)
	FindByUsername(ctx context.Context, username string) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
	List(ctx context.Context) ([]User, error)
	// UpdatePassword replaces the stored hash and clears the first-login
	// flag when firstLogin is false.
	UpdatePassword(ctx context.Context, userID, passwordHash string, firstLogin bool) error
	Delete(ctx context.Context, id string) error
}
