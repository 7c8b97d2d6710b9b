package nostr_test

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/nostr"
)

const endpoint = "https://api.grants.example/audit/logs?limit=10"

func TestHTTPAuth_VerifyRequest(t *testing.T) {
	key := newKey(t)
	h := nostr.NewHTTPAuth(newVerifier())
	e := signedEvent(t, key, nostr.KindHTTPAuth, nostr.Tags{{"u", endpoint}, {"method", "get"}}, testNow)

	header, err := nostr.EncodeAuthorizationHeader(e)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, endpoint, nil)
	req.Header.Set("Authorization", header)
	got, err := h.VerifyRequest(req, "HTTPS://API.grants.example:443/audit/logs/?limit=10")
	require.NoError(t, err)
	require.Equal(t, e.PubKey, got.PubKey)
}

func TestHTTPAuth_Mismatches(t *testing.T) {
	key := newKey(t)
	h := nostr.NewHTTPAuth(newVerifier())
	e := signedEvent(t, key, nostr.KindHTTPAuth, nostr.Tags{{"u", endpoint}, {"method", "GET"}}, testNow)

	require.ErrorIs(t, h.VerifyEvent(e, "https://api.grants.example/other", "GET", nil), apperrors.ErrURLMismatch)
	require.ErrorIs(t, h.VerifyEvent(e, endpoint, "POST", nil), apperrors.ErrMethodMismatch)

	noTags := signedEvent(t, key, nostr.KindHTTPAuth, nil, testNow)
	require.ErrorIs(t, h.VerifyEvent(noTags, endpoint, "GET", nil), apperrors.ErrURLMismatch)

	wrongKind := signedEvent(t, key, nostr.KindClientAuth, nostr.Tags{{"u", endpoint}, {"method", "GET"}}, testNow)
	require.ErrorIs(t, h.VerifyEvent(wrongKind, endpoint, "GET", nil), apperrors.ErrInvalidEvent)
}

func TestHTTPAuth_PayloadHash(t *testing.T) {
	key := newKey(t)
	h := nostr.NewHTTPAuth(newVerifier())
	body := []byte(`{"role":"assessor"}`)
	sum := sha256.Sum256(body)
	url := "https://api.grants.example/users/u1/role"

	e := signedEvent(t, key, nostr.KindHTTPAuth, nostr.Tags{
		{"u", url}, {"method", "PUT"}, {"payload", hex.EncodeToString(sum[:])},
	}, testNow)
	header, err := nostr.EncodeAuthorizationHeader(e)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, url, bytes.NewReader(body))
	req.Header.Set("Authorization", header)
	_, err = h.VerifyRequest(req, url)
	require.NoError(t, err)

	// body is still readable by the handler
	rest, err := io.ReadAll(req.Body)
	require.NoError(t, err)
	require.Equal(t, body, rest)

	require.ErrorIs(t, h.VerifyEvent(e, url, "PUT", []byte(`{"role":"scheme_owner"}`)), apperrors.ErrInvalidEvent)
}

func TestParseAuthorizationHeader(t *testing.T) {
	_, err := nostr.ParseAuthorizationHeader("")
	require.ErrorIs(t, err, apperrors.ErrMissingToken)

	_, err = nostr.ParseAuthorizationHeader("Bearer abc")
	require.ErrorIs(t, err, apperrors.ErrMissingToken)

	_, err = nostr.ParseAuthorizationHeader("Nostr !!!")
	require.ErrorIs(t, err, apperrors.ErrInvalidEvent)

	_, err = nostr.ParseAuthorizationHeader("Nostr " + base64.StdEncoding.EncodeToString([]byte("[1,2]")))
	require.ErrorIs(t, err, apperrors.ErrInvalidEvent)

	e, err := nostr.ParseAuthorizationHeader("nostr " + base64.RawURLEncoding.EncodeToString([]byte(`{"kind":27235}`)))
	require.NoError(t, err)
	require.Equal(t, nostr.KindHTTPAuth, e.Kind)
}

func TestNormalizeURL(t *testing.T) {
	require.Equal(t, "https://api.example/a?x=1", nostr.NormalizeURL("HTTPS://API.Example:443/a/?x=1#frag"))
	require.Equal(t, "http://api.example:8080/a", nostr.NormalizeURL("http://api.example:8080/a"))
	require.Equal(t, "http://[::1]:9000", nostr.NormalizeURL("http://[::1]:9000/"))
}
