package token

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

type TokenType string

const (
	AccessTokenType  TokenType = "access"
	RefreshTokenType TokenType = "refresh"
)

// Subject is the authenticated identity a token pair is minted for.
type Subject struct {
	UserID      string
	Email       string
	Role        string
	Permissions []string
	SessionID   string
}

// AccessClaims is the payload of an access token.
type AccessClaims struct {
	Email       string    `json:"email,omitempty"`
	Role        string    `json:"role"`
	Permissions []string  `json:"permissions"`
	SessionID   string    `json:"sid,omitempty"`
	TokenType   TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token.
type RefreshClaims struct {
	FamilyID  string    `json:"family_id"`
	TokenType TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int       `json:"expires_in"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	FamilyID         string    `json:"-"`
}

// Family tracks the rotation chain of refresh tokens started by one login.
type Family struct {
	ID            string
	RotationCount int
	LastUsed      time.Time
}

// Rejected reports whether the family has gone past the allowed rotations.
func (f *Family) Rejected(maxRotations int) bool {
	return f.RotationCount > maxRotations
}

func expiryOf(rc jwt.RegisteredClaims) time.Time {
	if rc.ExpiresAt == nil {
		return time.Time{}
	}
	return rc.ExpiresAt.Time
}
