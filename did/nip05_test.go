package did_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-grant-auth/did"
)

type wellKnown struct {
	server *httptest.Server
	hits   atomic.Int32
}

func newWellKnown(t *testing.T, handler http.HandlerFunc) *wellKnown {
	t.Helper()
	wk := &wellKnown{}
	wk.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wk.hits.Add(1)
		handler(w, r)
	}))
	t.Cleanup(wk.server.Close)
	return wk
}

func (wk *wellKnown) identifier(name string) string {
	return name + "@" + strings.TrimPrefix(wk.server.URL, "http://")
}

func jsonBody(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/.well-known/nostr.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func newNIP05(opts ...did.NIP05Option) *did.NIP05Verifier {
	return did.NewNIP05Verifier(append([]did.NIP05Option{did.WithScheme("http")}, opts...)...)
}

func TestNIP05_Verified(t *testing.T) {
	wk := newWellKnown(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "user", r.URL.Query().Get("name"))
		jsonBody(`{"names":{"user":"` + pubkey + `"},"relays":{"` + pubkey + `":["wss://relay.one"]}}`)(w, r)
	})

	res := newNIP05().Verify(context.Background(), wk.identifier("User"), strings.ToUpper(pubkey))
	require.True(t, res.Verified)
	require.Empty(t, res.Failure)
	require.Equal(t, pubkey, res.Pubkey)
	require.Equal(t, []string{"wss://relay.one"}, res.Relays)
}

func TestNIP05_PubkeyMismatch(t *testing.T) {
	wk := newWellKnown(t, jsonBody(`{"names":{"user":"`+pubkey+`"}}`))

	res := newNIP05().Verify(context.Background(), wk.identifier("user"), strings.Repeat("0", 64))
	require.False(t, res.Verified)
	require.Equal(t, did.NIP05PubkeyMismatch, res.Failure)
	require.Equal(t, "Pubkey mismatch", res.Reason)
	require.Equal(t, pubkey, res.Pubkey)
}

func TestNIP05_Failures(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    did.NIP05Failure
	}{
		{"name not listed", jsonBody(`{"names":{"other":"` + pubkey + `"}}`), did.NIP05NotFound},
		{"document missing", http.NotFound, did.NIP05NotFound},
		{"server error", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, did.NIP05InvalidResponse},
		{"malformed json", jsonBody(`{"names":`), did.NIP05InvalidResponse},
		{"bad pubkey", jsonBody(`{"names":{"user":"xyz"}}`), did.NIP05InvalidResponse},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			wk := newWellKnown(t, tc.handler)
			res := newNIP05().Verify(context.Background(), wk.identifier("user"), pubkey)
			require.False(t, res.Verified)
			require.Equal(t, tc.want, res.Failure)
			require.NotEmpty(t, res.Reason)
		})
	}
}

func TestNIP05_InvalidIdentifier(t *testing.T) {
	v := newNIP05()
	for _, id := range []string{"", "@example.com", "bad name@example.com", "user@", "user@exa/mple.com"} {
		res := v.Verify(context.Background(), id, pubkey)
		require.Equal(t, did.NIP05InvalidIdentifier, res.Failure, id)
	}
}

func TestParseNIP05(t *testing.T) {
	name, domain, ok := did.ParseNIP05("Bob.Smith@Example.COM")
	require.True(t, ok)
	require.Equal(t, "bob.smith", name)
	require.Equal(t, "example.com", domain)

	name, domain, ok = did.ParseNIP05("example.com")
	require.True(t, ok)
	require.Equal(t, "_", name)
	require.Equal(t, "example.com", domain)
}

func TestNIP05_Timeout(t *testing.T) {
	wk := newWellKnown(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	res := newNIP05(did.WithTimeout(20*time.Millisecond)).Verify(context.Background(), wk.identifier("user"), pubkey)
	require.Equal(t, did.NIP05Timeout, res.Failure)
}

func TestNIP05_Cancelled(t *testing.T) {
	wk := newWellKnown(t, jsonBody(`{"names":{"user":"`+pubkey+`"}}`))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newNIP05().Verify(ctx, wk.identifier("user"), pubkey)
	require.Equal(t, did.NIP05Timeout, res.Failure)
}

func TestNIP05_NetworkError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	host := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	res := newNIP05().Verify(context.Background(), "user@"+host, pubkey)
	require.Equal(t, did.NIP05NetworkError, res.Failure)
}

func TestNIP05_CachesAndSharesFetches(t *testing.T) {
	wk := newWellKnown(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(20 * time.Millisecond)
		jsonBody(`{"names":{"user":"`+pubkey+`"}}`)(w, r)
	})
	v := newNIP05()
	ctx := context.Background()

	results := make([]did.NIP05Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = v.Verify(ctx, wk.identifier("user"), pubkey)
		}(i)
	}
	wg.Wait()
	for _, res := range results {
		require.True(t, res.Verified)
	}
	require.Equal(t, int32(1), wk.hits.Load())

	// a mismatch is answered from the cached record
	require.False(t, v.Verify(ctx, wk.identifier("user"), strings.Repeat("1", 64)).Verified)
	require.Equal(t, int32(1), wk.hits.Load())

	require.NoError(t, v.ClearCache(ctx))
	require.True(t, v.Verify(ctx, wk.identifier("user"), pubkey).Verified)
	require.Equal(t, int32(2), wk.hits.Load())
}

func TestNIP05_FailuresAreNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	wk := newWellKnown(t, func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		jsonBody(`{"names":{"user":"`+pubkey+`"}}`)(w, r)
	})
	v := newNIP05()
	ctx := context.Background()

	require.Equal(t, did.NIP05InvalidResponse, v.Verify(ctx, wk.identifier("user"), pubkey).Failure)
	fail.Store(false)
	require.True(t, v.Verify(ctx, wk.identifier("user"), pubkey).Verified)
}

func TestNIP05_CancelledCallerDoesNotFailSharedFetch(t *testing.T) {
	wk := newWellKnown(t, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(150 * time.Millisecond)
		jsonBody(`{"names":{"user":"`+pubkey+`"}}`)(w, r)
	})
	v := newNIP05()

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	first := make(chan did.NIP05Result, 1)
	go func() { first <- v.Verify(firstCtx, wk.identifier("user"), pubkey) }()

	time.Sleep(20 * time.Millisecond)
	second := make(chan did.NIP05Result, 1)
	go func() { second <- v.Verify(context.Background(), wk.identifier("user"), pubkey) }()

	time.Sleep(20 * time.Millisecond)
	cancelFirst()

	require.Equal(t, did.NIP05Timeout, (<-first).Failure)
	require.True(t, (<-second).Verified)
	require.Equal(t, int32(1), wk.hits.Load())
}
