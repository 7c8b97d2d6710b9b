package did_test

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-grant-auth/did"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newClock() *clock {
	return &clock{now: time.Date(2025, 5, 1, 9, 0, 0, 0, time.UTC)}
}

func TestResolve_Success(t *testing.T) {
	r := did.NewResolver()
	res := r.Resolve(context.Background(), "did:nostr:"+pubkey, did.Options{Relays: []string{"wss://relay.one"}})

	require.True(t, res.OK())
	require.Equal(t, did.ContentTypeDIDJSON, res.ResolutionMetadata.ContentType)
	require.Empty(t, res.ResolutionMetadata.Error)
	require.Equal(t, "did:nostr:"+pubkey, res.Document.ID)
	require.False(t, res.DocumentMetadata.Cached)
	require.Empty(t, did.VerifyDocument(res.Document, pubkey))
}

func TestResolve_InvalidDID(t *testing.T) {
	res := did.NewResolver().Resolve(context.Background(), "did:nostr:XYZ", did.Options{})
	require.False(t, res.OK())
	require.Nil(t, res.Document)
	require.Equal(t, did.ErrorInvalidDID, res.ResolutionMetadata.Error)
	require.NotEmpty(t, res.ResolutionMetadata.Message)
	require.Empty(t, res.ResolutionMetadata.ContentType)
}

func TestResolve_CacheTTL(t *testing.T) {
	c := newClock()
	r := did.NewResolver(did.WithNowFunc(c.Now))
	ctx := context.Background()
	d := "did:nostr:" + pubkey

	first := r.Resolve(ctx, d, did.Options{})
	require.False(t, first.DocumentMetadata.Cached)

	c.now = c.now.Add(4 * time.Minute)
	second := r.Resolve(ctx, d, did.Options{})
	require.True(t, second.DocumentMetadata.Cached)
	require.Equal(t, first.DocumentMetadata.Resolved, second.DocumentMetadata.Resolved)

	// cached documents are handed out as copies
	second.Document.Authentication[0] = "mutated"
	require.NotEqual(t, "mutated", r.Resolve(ctx, d, did.Options{}).Document.Authentication[0])

	c.now = c.now.Add(2 * time.Minute)
	third := r.Resolve(ctx, d, did.Options{})
	require.False(t, third.DocumentMetadata.Cached)

	require.NoError(t, r.ClearCache(ctx))
	require.False(t, r.Resolve(ctx, d, did.Options{}).DocumentMetadata.Cached)
}

func TestResolve_ProfileLookup(t *testing.T) {
	known := pubkey
	r := did.NewResolver(did.WithProfileLookup(func(_ context.Context, pk string) (did.Options, error) {
		switch pk {
		case known:
			return did.Options{Relays: []string{"wss://stored.relay"}}, nil
		case strings.Repeat("e", 64):
			return did.Options{}, errors.New("database unavailable")
		}
		return did.Options{}, apperrors.ErrNotFound
	}))
	ctx := context.Background()

	res := r.Resolve(ctx, "did:nostr:"+known, did.Options{})
	require.True(t, res.OK())
	require.Equal(t, []string{"wss://stored.relay"}, res.Document.Service[0].ServiceEndpoint)

	res = r.Resolve(ctx, "did:nostr:"+strings.Repeat("1", 64), did.Options{})
	require.Equal(t, did.ErrorNotFound, res.ResolutionMetadata.Error)
	require.Nil(t, res.Document)

	res = r.Resolve(ctx, "did:nostr:"+strings.Repeat("e", 64), did.Options{})
	require.Equal(t, did.ErrorInternal, res.ResolutionMetadata.Error)
}

func TestResolve_NIP05Alias(t *testing.T) {
	wk := newWellKnown(t, jsonBody(`{"names":{"alice":"`+pubkey+`"},"relays":{"`+pubkey+`":["wss://alice.relay"]}}`))
	r := did.NewResolver(did.WithNIP05Verifier(newNIP05()))
	ctx := context.Background()

	res := r.Resolve(ctx, "did:nostr:"+pubkey, did.Options{NIP05: wk.identifier("alice")})
	require.True(t, res.OK())
	require.True(t, res.DocumentMetadata.NIP05Verified)
	require.Equal(t, []string{"nip05:" + wk.identifier("alice")}, res.Document.AlsoKnownAs)
	var relays any
	for _, s := range res.Document.Service {
		if s.Type == did.ServiceTypeRelay {
			relays = s.ServiceEndpoint
		}
	}
	require.Equal(t, []string{"wss://alice.relay"}, relays)

	// a name that points at another key is not aliased
	other := strings.Repeat("c", 64)
	res = r.Resolve(ctx, "did:nostr:"+other, did.Options{NIP05: wk.identifier("alice")})
	require.True(t, res.OK())
	require.False(t, res.DocumentMetadata.NIP05Verified)
	require.Empty(t, res.Document.AlsoKnownAs)
	require.Equal(t, int32(1), wk.hits.Load())
}

func TestResolve_NIP05Unreachable(t *testing.T) {
	wk := newWellKnown(t, http.NotFound)
	r := did.NewResolver(did.WithNIP05Verifier(newNIP05()))

	res := r.Resolve(context.Background(), "did:nostr:"+pubkey, did.Options{NIP05: wk.identifier("alice")})
	require.True(t, res.OK())
	require.Empty(t, res.Document.AlsoKnownAs)
}
