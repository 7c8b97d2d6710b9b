package users

import "time"

// IdentityLink binds a Nostr public key to a platform user. A public key
// belongs to at most one user; a user may link several keys.
type IdentityLink struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	PubKey    string    `json:"pubkey"`          // Lowercase hex
	NIP05     string    `json:"nip05,omitempty"` // Only set once verified
	DID       string    `json:"did"`
	CreatedAt time.Time `json:"created_at"`
}
