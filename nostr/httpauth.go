package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

const authScheme = "Nostr"

// HTTPAuth verifies requests signed with a kind 27235 event carried in the
// Authorization header.
type HTTPAuth struct {
	verifier *Verifier
}

func NewHTTPAuth(verifier *Verifier) *HTTPAuth {
	return &HTTPAuth{verifier: verifier}
}

// ParseAuthorizationHeader decodes "Nostr <base64 json event>".
func ParseAuthorizationHeader(header string) (*Event, error) {
	scheme, payload, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, authScheme) {
		return nil, apperrors.ErrMissingToken
	}
	payload = strings.TrimSpace(payload)

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		raw, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, errors.Wrap(apperrors.ErrInvalidEvent, "authorization payload is not base64")
		}
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, errors.Wrap(apperrors.ErrInvalidEvent, "authorization payload is not an event")
	}
	return &e, nil
}

// EncodeAuthorizationHeader builds the header value for a signed event.
func EncodeAuthorizationHeader(e *Event) (string, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return "", errors.Wrap(err, "[EncodeAuthorizationHeader]")
	}
	return authScheme + " " + base64.StdEncoding.EncodeToString(raw), nil
}

// VerifyEvent checks e against the request URL and method. body is compared
// to the payload tag when the event carries one.
func (h *HTTPAuth) VerifyEvent(e *Event, requestURL, method string, body []byte) error {
	if err := h.verifier.Verify(e); err != nil {
		return err
	}
	if e.Kind != KindHTTPAuth {
		return errors.Wrapf(apperrors.ErrInvalidEvent, "expected kind %d", KindHTTPAuth)
	}

	u, ok := e.Tags.Value("u")
	if !ok || !strings.EqualFold(NormalizeURL(u), NormalizeURL(requestURL)) {
		return apperrors.ErrURLMismatch
	}
	m, ok := e.Tags.Value("method")
	if !ok || !strings.EqualFold(strings.TrimSpace(m), strings.TrimSpace(method)) {
		return apperrors.ErrMethodMismatch
	}

	if payload, ok := e.Tags.Value("payload"); ok {
		sum := sha256.Sum256(body)
		if !strings.EqualFold(payload, hex.EncodeToString(sum[:])) {
			return errors.Wrap(apperrors.ErrInvalidEvent, "payload hash mismatch")
		}
	}
	return nil
}

// VerifyRequest reads the Authorization header of r and verifies it against
// absoluteURL. The request body is restored after hashing.
func (h *HTTPAuth) VerifyRequest(r *http.Request, absoluteURL string) (*Event, error) {
	e, err := ParseAuthorizationHeader(r.Header.Get("Authorization"))
	if err != nil {
		return nil, err
	}

	var body []byte
	if _, wantsPayload := e.Tags.Value("payload"); wantsPayload && r.Body != nil {
		body, err = io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.Wrap(err, "[HTTPAuth.VerifyRequest] read body")
		}
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	if err := h.VerifyEvent(e, absoluteURL, r.Method, body); err != nil {
		return nil, err
	}
	return e, nil
}

// NormalizeURL lowercases scheme and host, drops default ports, fragments and
// a trailing slash. Unparseable input is returned trimmed.
func NormalizeURL(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return strings.TrimRight(raw, "/")
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	port := u.Port()
	if port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host = host + ":" + port
	}
	u.Host = host
	u.Fragment = ""
	u.RawFragment = ""
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String()
}
