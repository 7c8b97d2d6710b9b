package users

import (
	"context"
	"time"

	"github.com/jrsteele09/go-grant-auth/rbac"
)

// UserRepo returns errors.ErrUserNotFound for unknown users.
type UserRepo interface {
	Upsert(ctx context.Context, user *User) error
	Delete(ctx context.Context, id string) error
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	List(ctx context.Context, offset, limit int) (ListResponse, error)
	SetBlocked(ctx context.Context, id string, blocked bool) error
	SetRole(ctx context.Context, id string, role rbac.Role) error
	RecordLogin(ctx context.Context, id string, at time.Time) error
}

// IdentityRepo stores Nostr identity links.
type IdentityRepo interface {
	// Link stores l. Relinking a key to its current owner updates the link;
	// a key owned by another user fails with errors.ErrIdentityAlreadyLinked.
	Link(ctx context.Context, l *IdentityLink) error
	// GetByPubkey returns errors.ErrIdentityNotLinked for unknown keys.
	GetByPubkey(ctx context.Context, pubkey string) (*IdentityLink, error)
	ListByUser(ctx context.Context, userID string) ([]*IdentityLink, error)
	Unlink(ctx context.Context, userID, pubkey string) error
}
