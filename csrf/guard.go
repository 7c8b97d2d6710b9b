// Package csrf implements the double-submit cookie defence: the token travels
// in a cookie and must be echoed in a header or form field.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	stderrors "errors"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
)

const (
	DefaultCookieName  = "csrf_token"
	DefaultHeaderName  = "X-CSRF-Token"
	DefaultFormField   = "csrf_token"
	DefaultTokenLength = 32
	DefaultMaxAge      = time.Hour
)

// Guard issues and validates CSRF tokens.
type Guard struct {
	store        Store
	cookieName   string
	headerName   string
	formField    string
	tokenLength  int
	maxAge       time.Duration
	secureCookie bool
	nowFunc      func() time.Time
	log          zerolog.Logger
	metrics      metrics.Recorder
}

type Option func(*Guard)

func WithCookieName(name string) Option {
	return func(g *Guard) {
		g.cookieName = name
	}
}

func WithHeaderName(name string) Option {
	return func(g *Guard) {
		g.headerName = name
	}
}

func WithFormField(name string) Option {
	return func(g *Guard) {
		g.formField = name
	}
}

// WithTokenLength sets the number of random bytes; the token is hex so twice as long.
func WithTokenLength(n int) Option {
	return func(g *Guard) {
		g.tokenLength = n
	}
}

func WithMaxAge(d time.Duration) Option {
	return func(g *Guard) {
		g.maxAge = d
	}
}

func WithSecureCookie(secure bool) Option {
	return func(g *Guard) {
		g.secureCookie = secure
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(g *Guard) {
		g.nowFunc = now
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(g *Guard) {
		g.log = log
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(g *Guard) {
		g.metrics = r
	}
}

func NewGuard(store Store, opts ...Option) *Guard {
	g := &Guard{
		store:        store,
		cookieName:   DefaultCookieName,
		headerName:   DefaultHeaderName,
		formField:    DefaultFormField,
		tokenLength:  DefaultTokenLength,
		maxAge:       DefaultMaxAge,
		secureCookie: true,
		nowFunc:      time.Now,
		log:          zerolog.Nop(),
		metrics:      metrics.Noop{},
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.tokenLength < 16 {
		g.tokenLength = 16
	}
	return g
}

func (g *Guard) CookieName() string { return g.cookieName }
func (g *Guard) HeaderName() string { return g.headerName }

// Generate creates and stores a token bound to sessionID, which may be empty.
func (g *Guard) Generate(ctx context.Context, sessionID string) (*Token, error) {
	b := make([]byte, g.tokenLength)
	if _, err := rand.Read(b); err != nil {
		return nil, errors.Wrap(err, "[csrf.Generate] random")
	}
	now := g.nowFunc()
	t := Token{
		Value:     hex.EncodeToString(b),
		SessionID: sessionID,
		CreatedAt: now,
		ExpiresAt: now.Add(g.maxAge),
	}
	if err := g.store.Save(ctx, t); err != nil {
		return nil, errors.Wrap(err, "[csrf.Generate] save")
	}
	return &t, nil
}

// ValidateDoubleSubmit fails closed when either value is missing, then
// compares the values in constant time and finally checks the token is live.
func (g *Guard) ValidateDoubleSubmit(ctx context.Context, cookieValue, requestValue string) error {
	err := g.validate(ctx, cookieValue, requestValue)
	g.metrics.CSRFValidation(validationResult(err))
	return err
}

func (g *Guard) validate(ctx context.Context, cookieValue, requestValue string) error {
	if cookieValue == "" || requestValue == "" {
		return apperrors.ErrCSRFMissing
	}
	if len(cookieValue) != len(requestValue) {
		return apperrors.ErrCSRFInvalid
	}
	if subtle.ConstantTimeCompare([]byte(cookieValue), []byte(requestValue)) != 1 {
		return apperrors.ErrCSRFInvalid
	}

	t, err := g.store.Get(ctx, cookieValue)
	if err != nil {
		if stderrors.Is(err, apperrors.ErrNotFound) {
			return apperrors.ErrCSRFInvalid
		}
		return errors.Wrap(err, "[csrf.ValidateDoubleSubmit] lookup")
	}
	if t.Expired(g.nowFunc()) {
		_ = g.store.Delete(ctx, cookieValue)
		return apperrors.ErrCSRFInvalid
	}
	return nil
}

// RequiresValidation exempts only GET, HEAD and OPTIONS.
func (g *Guard) RequiresValidation(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return false
	default:
		return true
	}
}

func (g *Guard) Revoke(ctx context.Context, value string) error {
	return g.store.Delete(ctx, value)
}

// RevokeSession drops every token issued to sessionID, used on logout.
func (g *Guard) RevokeSession(ctx context.Context, sessionID string) (int, error) {
	if sessionID == "" {
		return 0, nil
	}
	return g.store.DeleteSession(ctx, sessionID)
}

// Sweep removes expired tokens.
func (g *Guard) Sweep(ctx context.Context) (int, error) {
	n, err := g.store.DeleteExpired(ctx, g.nowFunc())
	if err != nil {
		return 0, errors.Wrap(err, "[csrf.Sweep]")
	}
	return n, nil
}

// SetCookie writes t as the CSRF cookie. It is readable by script so the
// client can echo it.
func (g *Guard) SetCookie(w http.ResponseWriter, t *Token) {
	http.SetCookie(w, &http.Cookie{
		Name:     g.cookieName,
		Value:    t.Value,
		Path:     "/",
		HttpOnly: false,
		Secure:   g.secureCookie,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(g.maxAge.Seconds()),
	})
}

func validationResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case stderrors.Is(err, apperrors.ErrCSRFMissing):
		return "missing"
	case stderrors.Is(err, apperrors.ErrCSRFInvalid):
		return "invalid"
	default:
		return "error"
	}
}
