// Package did converts Nostr public keys to did:nostr identifiers and builds,
// verifies and resolves their DID documents.
package did

import (
	"strings"

	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/nostr"
)

const (
	Method = "nostr"
	Prefix = "did:" + Method + ":"
)

// PubkeyToDID returns did:nostr:<pubkey>. Hex input is accepted in either
// case and lowercased.
func PubkeyToDID(pubkey string) (string, error) {
	normalized, ok := nostr.NormalizePubkey(pubkey)
	if !ok {
		return "", errors.Wrapf(apperrors.ErrInvalidPubkey, "%q", pubkey)
	}
	return Prefix + normalized, nil
}

// DIDToPubkey extracts the public key from a did:nostr identifier. Only the
// canonical lowercase form is accepted.
func DIDToPubkey(did string) (string, error) {
	if !strings.HasPrefix(did, Prefix) {
		return "", errors.Wrapf(apperrors.ErrInvalidDID, "%q is not a did:%s identifier", did, Method)
	}
	pubkey := strings.TrimPrefix(did, Prefix)
	if !isLowerHex(pubkey, 64) {
		return "", errors.Wrapf(apperrors.ErrInvalidDID, "%q does not carry a 64 character lowercase hex key", did)
	}
	return pubkey, nil
}

// IsValid reports whether did is a canonical did:nostr identifier.
func IsValid(did string) bool {
	_, err := DIDToPubkey(did)
	return err == nil
}

func isLowerHex(s string, n int) bool {
	if len(s) != n {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
