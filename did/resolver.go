package did

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/jrsteele09/go-grant-auth/internal/cache"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
)

const ContentTypeDIDJSON = "application/did+json"

// Resolution error codes.
const (
	ErrorInvalidDID = "invalidDid"
	ErrorNotFound   = "notFound"
	ErrorInternal   = "internalError"
)

type ResolutionMetadata struct {
	ContentType string `json:"contentType,omitempty"`
	Error       string `json:"error,omitempty"`
	Message     string `json:"message,omitempty"`
}

type DocumentMetadata struct {
	Cached        bool      `json:"cached"`
	NIP05Verified bool      `json:"nip05Verified,omitempty"`
	Resolved      time.Time `json:"resolved"`
}

type ResolutionResult struct {
	ResolutionMetadata ResolutionMetadata `json:"didResolutionMetadata"`
	Document           *Document          `json:"didDocument"`
	DocumentMetadata   DocumentMetadata   `json:"didDocumentMetadata"`
}

// OK reports whether a document was resolved.
func (r ResolutionResult) OK() bool { return r.ResolutionMetadata.Error == "" && r.Document != nil }

// ProfileLookup supplies stored options for a pubkey. Returning
// errors.ErrNotFound makes the DID unresolvable.
type ProfileLookup func(ctx context.Context, pubkey string) (Options, error)

type cachedDocument struct {
	doc           *Document
	nip05Verified bool
	resolved      time.Time
}

type Resolver struct {
	cache   *cache.MemoryCache[cachedDocument]
	ttl     time.Duration
	nip05   *NIP05Verifier
	lookup  ProfileLookup
	nowFunc func() time.Time
	log     zerolog.Logger
	metrics metrics.Recorder
}

type ResolverOption func(*Resolver)

func WithCacheTTL(d time.Duration) ResolverOption {
	return func(r *Resolver) { r.ttl = d }
}

// WithNIP05Verifier makes Resolve verify Options.NIP05 before aliasing it.
func WithNIP05Verifier(v *NIP05Verifier) ResolverOption {
	return func(r *Resolver) { r.nip05 = v }
}

func WithProfileLookup(fn ProfileLookup) ResolverOption {
	return func(r *Resolver) { r.lookup = fn }
}

func WithNowFunc(now func() time.Time) ResolverOption {
	return func(r *Resolver) { r.nowFunc = now }
}

func WithLogger(l zerolog.Logger) ResolverOption {
	return func(r *Resolver) { r.log = l }
}

func WithMetrics(m metrics.Recorder) ResolverOption {
	return func(r *Resolver) { r.metrics = m }
}

func NewResolver(opts ...ResolverOption) *Resolver {
	r := &Resolver{
		ttl:     DefaultCacheTTL,
		nowFunc: time.Now,
		log:     zerolog.Nop(),
		metrics: metrics.Noop{},
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = cache.NewMemoryCache[cachedDocument]().WithNowFunc(r.nowFunc)
	return r
}

// Resolve returns the DID document for did, serving it from cache while it
// is younger than the cache TTL.
func (r *Resolver) Resolve(ctx context.Context, did string, opts Options) ResolutionResult {
	pubkey, err := DIDToPubkey(did)
	if err != nil {
		r.metrics.DIDResolution("invalid_did", false)
		return failure(ErrorInvalidDID, err.Error())
	}

	if r.lookup != nil {
		stored, err := r.lookup(ctx, pubkey)
		switch {
		case errors.Is(err, apperrors.ErrNotFound):
			r.metrics.DIDResolution("not_found", false)
			return failure(ErrorNotFound, "no identity is registered for "+did)
		case err != nil:
			r.log.Error().Err(err).Str("did", did).Msg("did profile lookup failed")
			r.metrics.DIDResolution("error", false)
			return failure(ErrorInternal, "profile lookup failed")
		}
		if opts.NIP05 == "" {
			opts.NIP05 = stored.NIP05
		}
		if len(opts.Relays) == 0 {
			opts.Relays = stored.Relays
		}
	}

	key := cacheKey(did, opts)
	if hit, err := r.cache.Get(ctx, key); err == nil {
		r.metrics.DIDResolution("ok", true)
		return success(hit, true)
	}

	verified := false
	if opts.NIP05 != "" && r.nip05 != nil {
		res := r.nip05.Verify(ctx, opts.NIP05, pubkey)
		verified = res.Verified
		if !verified {
			r.log.Info().Str("did", did).Str("nip05", opts.NIP05).Str("failure", string(res.Failure)).Msg("dropping unverified nip05 alias")
			opts.NIP05 = ""
		}
		if verified && len(opts.Relays) == 0 {
			opts.Relays = res.Relays
		}
	}

	doc, err := GenerateDocument(pubkey, opts)
	if err != nil {
		r.metrics.DIDResolution("invalid_did", false)
		return failure(ErrorInvalidDID, err.Error())
	}
	entry := cachedDocument{doc: doc, nip05Verified: verified, resolved: r.nowFunc().UTC()}
	_ = r.cache.Set(ctx, key, entry, r.ttl)

	r.metrics.DIDResolution("ok", false)
	return success(entry, false)
}

// ClearCache drops every cached document.
func (r *Resolver) ClearCache(ctx context.Context) error {
	return r.cache.Clear(ctx)
}

// Prune drops expired cache entries.
func (r *Resolver) Prune() int {
	return r.cache.Prune()
}

func success(entry cachedDocument, cached bool) ResolutionResult {
	return ResolutionResult{
		ResolutionMetadata: ResolutionMetadata{ContentType: ContentTypeDIDJSON},
		Document:           entry.doc.Clone(),
		DocumentMetadata: DocumentMetadata{
			Cached:        cached,
			NIP05Verified: entry.nip05Verified,
			Resolved:      entry.resolved,
		},
	}
}

func failure(code, message string) ResolutionResult {
	return ResolutionResult{ResolutionMetadata: ResolutionMetadata{Error: code, Message: message}}
}

func cacheKey(did string, opts Options) string {
	return did + "|" + strings.ToLower(opts.NIP05) + "|" + strings.Join(cleanRelays(opts.Relays), ",")
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := *d
	c.Context = append([]string(nil), d.Context...)
	c.VerificationMethod = append([]VerificationMethod(nil), d.VerificationMethod...)
	c.Authentication = append([]string(nil), d.Authentication...)
	c.AssertionMethod = append([]string(nil), d.AssertionMethod...)
	c.AlsoKnownAs = append([]string(nil), d.AlsoKnownAs...)
	if d.Service != nil {
		c.Service = make([]Service, len(d.Service))
		for i, s := range d.Service {
			if relays, ok := s.ServiceEndpoint.([]string); ok {
				s.ServiceEndpoint = append([]string(nil), relays...)
			}
			c.Service[i] = s
		}
	}
	return &c
}
