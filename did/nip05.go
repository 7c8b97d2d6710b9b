package did

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/jrsteele09/go-grant-auth/internal/cache"
	"github.com/jrsteele09/go-grant-auth/nostr"
)

const (
	DefaultNIP05Timeout = 10 * time.Second
	DefaultCacheTTL     = 5 * time.Minute

	maxNIP05Body = 64 << 10
)

// NIP05Failure classifies why a NIP-05 lookup did not verify.
type NIP05Failure string

const (
	NIP05InvalidIdentifier NIP05Failure = "invalidIdentifier"
	NIP05NetworkError      NIP05Failure = "networkError"
	NIP05Timeout           NIP05Failure = "timeout"
	NIP05InvalidResponse   NIP05Failure = "invalidResponse"
	NIP05NotFound          NIP05Failure = "notFound"
	NIP05PubkeyMismatch    NIP05Failure = "pubkeyMismatch"
)

// NIP05Result is the outcome of a lookup. Failures are reported here rather
// than as errors.
type NIP05Result struct {
	Identifier string       `json:"identifier"`
	Verified   bool         `json:"verified"`
	Pubkey     string       `json:"pubkey,omitempty"`
	Relays     []string     `json:"relays,omitempty"`
	Failure    NIP05Failure `json:"failure,omitempty"`
	Reason     string       `json:"reason,omitempty"`
}

type nip05Record struct {
	Pubkey string
	Relays []string
}

type nip05Document struct {
	Names  map[string]string   `json:"names"`
	Relays map[string][]string `json:"relays"`
}

type lookupError struct {
	failure NIP05Failure
	reason  string
}

func (e *lookupError) Error() string { return string(e.failure) + ": " + e.reason }

// NIP05Verifier checks name@domain identifiers against
// https://<domain>/.well-known/nostr.json.
type NIP05Verifier struct {
	client  *http.Client
	scheme  string
	timeout time.Duration
	ttl     time.Duration
	cache   cache.Cache[nip05Record]
	group   singleflight.Group
	log     zerolog.Logger
}

type NIP05Option func(*NIP05Verifier)

func WithHTTPClient(c *http.Client) NIP05Option {
	return func(v *NIP05Verifier) { v.client = c }
}

// WithScheme overrides "https", for tests against plain HTTP servers.
func WithScheme(scheme string) NIP05Option {
	return func(v *NIP05Verifier) { v.scheme = scheme }
}

func WithTimeout(d time.Duration) NIP05Option {
	return func(v *NIP05Verifier) { v.timeout = d }
}

func WithNIP05CacheTTL(d time.Duration) NIP05Option {
	return func(v *NIP05Verifier) { v.ttl = d }
}

func WithNIP05Logger(l zerolog.Logger) NIP05Option {
	return func(v *NIP05Verifier) { v.log = l }
}

func NewNIP05Verifier(opts ...NIP05Option) *NIP05Verifier {
	v := &NIP05Verifier{
		client:  http.DefaultClient,
		scheme:  "https",
		timeout: DefaultNIP05Timeout,
		ttl:     DefaultCacheTTL,
		cache:   cache.NewMemoryCache[nip05Record](),
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify resolves identifier and compares it to expectedPubkey. Successful
// lookups are cached; concurrent lookups of one identifier share a fetch.
func (v *NIP05Verifier) Verify(ctx context.Context, identifier, expectedPubkey string) NIP05Result {
	res := NIP05Result{Identifier: identifier}

	name, domain, ok := ParseNIP05(identifier)
	if !ok {
		res.Failure = NIP05InvalidIdentifier
		res.Reason = "identifier must be name@domain"
		return res
	}
	key := name + "@" + domain

	rec, err := v.lookup(ctx, name, domain, key)
	if err != nil {
		var le *lookupError
		if !errors.As(err, &le) {
			le = classify(err)
		}
		res.Failure = le.failure
		res.Reason = le.reason
		v.log.Debug().Str("identifier", key).Str("failure", string(le.failure)).Msg("nip05 lookup failed")
		return res
	}

	res.Pubkey = rec.Pubkey
	res.Relays = rec.Relays
	expected, _ := nostr.NormalizePubkey(expectedPubkey)
	if expected == "" || expected != rec.Pubkey {
		res.Failure = NIP05PubkeyMismatch
		res.Reason = "Pubkey mismatch"
		return res
	}
	res.Verified = true
	return res
}

// ClearCache drops every cached lookup.
func (v *NIP05Verifier) ClearCache(ctx context.Context) error {
	return v.cache.Clear(ctx)
}

// lookup shares one fetch between concurrent callers of the same key. The
// fetch runs detached from the caller that started it, bounded by the
// verifier timeout, so one caller giving up does not fail the others.
func (v *NIP05Verifier) lookup(ctx context.Context, name, domain, key string) (nip05Record, error) {
	if err := ctx.Err(); err != nil {
		return nip05Record{}, err
	}
	ch := v.group.DoChan(key, func() (any, error) {
		shared := context.WithoutCancel(ctx)
		return cache.GetWithFetch(shared, v.cache, key, v.ttl, func(ctx context.Context) (nip05Record, error) {
			return v.fetch(ctx, name, domain)
		})
	})
	select {
	case <-ctx.Done():
		return nip05Record{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nip05Record{}, res.Err
		}
		return res.Val.(nip05Record), nil
	}
}

func (v *NIP05Verifier) fetch(ctx context.Context, name, domain string) (nip05Record, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	endpoint, _ := wellKnownURL(v.scheme, name+"@"+domain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nip05Record{}, &lookupError{NIP05InvalidIdentifier, err.Error()}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := v.client.Do(req)
	if err != nil {
		return nip05Record{}, classify(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nip05Record{}, &lookupError{NIP05NotFound, "well-known document not found"}
	case resp.StatusCode != http.StatusOK:
		return nip05Record{}, &lookupError{NIP05InvalidResponse, fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNIP05Body))
	if err != nil {
		return nip05Record{}, classify(err)
	}
	var doc nip05Document
	if err := json.Unmarshal(body, &doc); err != nil {
		return nip05Record{}, &lookupError{NIP05InvalidResponse, "malformed nostr.json"}
	}

	var raw string
	var found bool
	for n, pk := range doc.Names {
		if strings.EqualFold(n, name) {
			raw, found = pk, true
			break
		}
	}
	if !found {
		return nip05Record{}, &lookupError{NIP05NotFound, fmt.Sprintf("name %q not listed", name)}
	}
	pubkey, ok := nostr.NormalizePubkey(raw)
	if !ok {
		return nip05Record{}, &lookupError{NIP05InvalidResponse, "listed pubkey is not 64 hex characters"}
	}

	rec := nip05Record{Pubkey: pubkey}
	for k, relays := range doc.Relays {
		if strings.EqualFold(k, pubkey) {
			rec.Relays = cleanRelays(relays)
			break
		}
	}
	return rec, nil
}

func classify(err error) *lookupError {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return &lookupError{NIP05Timeout, "request timed out"}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &lookupError{NIP05Timeout, "request timed out"}
	}
	return &lookupError{NIP05NetworkError, err.Error()}
}

// ParseNIP05 splits name@domain. A bare domain means the root name "_".
func ParseNIP05(identifier string) (name, domain string, ok bool) {
	identifier = strings.ToLower(strings.TrimSpace(identifier))
	name, domain, found := strings.Cut(identifier, "@")
	if !found {
		name, domain = "_", identifier
	}
	if name == "" || domain == "" || strings.ContainsAny(domain, "/?#@ ") {
		return "", "", false
	}
	for _, c := range name {
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '-' && c != '_' && c != '.' {
			return "", "", false
		}
	}
	return name, domain, true
}

func wellKnownURL(scheme, identifier string) (string, bool) {
	name, domain, ok := ParseNIP05(identifier)
	if !ok {
		return "", false
	}
	u := url.URL{
		Scheme:   scheme,
		Host:     domain,
		Path:     "/.well-known/nostr.json",
		RawQuery: url.Values{"name": {name}}.Encode(),
	}
	return u.String(), true
}
