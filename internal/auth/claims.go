package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims are the fields of an access token that the client reads. The
// signature is never checked here; the server does that.
type Claims struct {
	UserID    string
	TokenType string
	ExpiresAt time.Time
}

// Expired reports whether the token carried an expiry that is before now.
func (c Claims) Expired(now time.Time) bool {
	return !c.ExpiresAt.IsZero() && !now.Before(c.ExpiresAt)
}

type accessClaims struct {
	jwt.RegisteredClaims
	UserID    any    `json:"user_id"`
	TokenType string `json:"token_type"`
}

// Inspect decodes the claims of a JWT access token without verifying it.
func Inspect(token string) (Claims, error) {
	var parsed accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &parsed); err != nil {
		return Claims{}, fmt.Errorf("inspect token: %w", err)
	}
	c := Claims{TokenType: parsed.TokenType}
	if parsed.UserID != nil {
		c.UserID = fmt.Sprint(parsed.UserID)
	} else {
		c.UserID = parsed.Subject
	}
	if parsed.ExpiresAt != nil {
		c.ExpiresAt = parsed.ExpiresAt.Time
	}
	return c, nil
}
