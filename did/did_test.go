package did_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-grant-auth/did"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

var pubkey = strings.Repeat("ab", 32)

func TestPubkeyToDID(t *testing.T) {
	d, err := did.PubkeyToDID(pubkey)
	require.NoError(t, err)
	require.Equal(t, "did:nostr:"+pubkey, d)

	d, err = did.PubkeyToDID(strings.ToUpper(pubkey))
	require.NoError(t, err)
	require.Equal(t, "did:nostr:"+pubkey, d)

	for _, bad := range []string{"", "abc", pubkey + "00", strings.Repeat("zz", 32)} {
		_, err := did.PubkeyToDID(bad)
		require.ErrorIs(t, err, apperrors.ErrInvalidPubkey, bad)
	}
}

func TestDIDToPubkey_RoundTrip(t *testing.T) {
	for _, d := range []string{
		"did:nostr:" + pubkey,
		"did:nostr:" + strings.Repeat("0", 64),
		"did:nostr:" + strings.Repeat("f", 64),
	} {
		pk, err := did.DIDToPubkey(d)
		require.NoError(t, err)
		back, err := did.PubkeyToDID(pk)
		require.NoError(t, err)
		require.Equal(t, d, back)
		require.True(t, did.IsValid(d))
	}
}

func TestDIDToPubkey_Invalid(t *testing.T) {
	for _, bad := range []string{
		"",
		pubkey,
		"did:web:example.com",
		"did:nostr:",
		"did:nostr:" + pubkey[:63],
		"did:nostr:" + pubkey + "a",
		"did:nostr:" + strings.ToUpper(pubkey),
		"DID:NOSTR:" + pubkey,
		"did:nostr:" + strings.Repeat("g", 64),
	} {
		_, err := did.DIDToPubkey(bad)
		require.ErrorIs(t, err, apperrors.ErrInvalidDID, bad)
		require.False(t, did.IsValid(bad))
	}
}
