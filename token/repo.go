package token

import (
	"context"
	"time"
)

// RevocationStore holds revoked token ids until their natural expiry.
type RevocationStore interface {
	Revoke(ctx context.Context, jti string, expiresAt time.Time) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	// Prune removes entries whose token would have expired anyway.
	Prune(ctx context.Context, now time.Time) (int, error)
}

// FamilyStore persists refresh token family records.
type FamilyStore interface {
	// IncrementFamily creates the family on first use and returns the new rotation count.
	IncrementFamily(ctx context.Context, familyID string, now time.Time) (int, error)
	// GetFamily returns errors.ErrNotFound when the family is unknown.
	GetFamily(ctx context.Context, familyID string) (*Family, error)
	// RejectFamily raises the rotation count to at least floor. It never lowers it.
	RejectFamily(ctx context.Context, familyID string, floor int, now time.Time) error
}

// Store is the state the Manager needs.
type Store interface {
	RevocationStore
	FamilyStore
}
