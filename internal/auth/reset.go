package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const resetIssuer = "toolcrib"

// ErrInvalidResetToken indicates the reset token failed validation.
var ErrInvalidResetToken = errors.New("auth: invalid reset token")

type resetClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// NewResetToken signs a short-lived HS256 password-reset token bound to an
// email address.
func NewResetToken(secret []byte, email string, ttl time.Duration) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", errors.New("email is required")
	}
	if len(secret) == 0 {
		return "", errors.New("reset secret is not configured")
	}
	if ttl <= 0 {
		return "", errors.New("ttl must be greater than zero")
	}
	now := time.Now().UTC()
	claims := resetClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    resetIssuer,
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ParseResetToken validates a reset token and returns the bound email.
func ParseResetToken(secret []byte, token string) (string, error) {
	if len(secret) == 0 {
		return "", ErrInvalidResetToken
	}
	parsed, err := jwt.ParseWithClaims(token, &resetClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidResetToken
		}
		return secret, nil
	}, jwt.WithIssuer(resetIssuer), jwt.WithExpirationRequired())
	if err != nil {
		return "", ErrInvalidResetToken
	}
	claims, ok := parsed.Claims.(*resetClaims)
	if !ok || !parsed.Valid || claims.Email == "" {
		return "", ErrInvalidResetToken
	}
	return claims.Email, nil
}
