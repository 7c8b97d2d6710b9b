package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/jrsteele09/go-grant-auth/audit"
	"github.com/jrsteele09/go-grant-auth/csrf"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/rbac"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const (
	// ContextKeyAccessToken stores the raw bearer token of the request
	ContextKeyAccessToken ContextKey = "access_token"
	// ContextKeyNostrPubkey stores the key that signed a NIP-98 request
	ContextKeyNostrPubkey ContextKey = "nostr_pubkey"
)

// RequireAuth validates the bearer access token and puts the actor into the
// request context for handlers and the audit ledger.
func (s *Server) RequireAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			raw, err := bearerToken(r)
			if err != nil {
				s.writeError(w, r, err)
				return
			}

			actor, err := s.auth.Authenticate(r.Context(), raw)
			if err != nil {
				s.writeError(w, r, err)
				return
			}
			if actor.PasswordChangeRequired && !allowedDuringPasswordChange(r) {
				s.writeError(w, r, apperrors.ErrPasswordChangeRequired)
				return
			}

			ctx := rbac.ContextWithActor(r.Context(), actor)
			ctx = audit.WithActor(ctx, actor.ID, string(actor.Role))
			ctx = context.WithValue(ctx, ContextKeyAccessToken, raw)
			next(w, r.WithContext(ctx))
		}
	}
}

// allowedDuringPasswordChange lists the routes open to an actor that must
// change its password first.
func allowedDuringPasswordChange(r *http.Request) bool {
	switch r.Method + " " + r.URL.Path {
	case http.MethodPost + " " + RouteChangePassword,
		http.MethodPost + " " + RouteAuthLogout,
		http.MethodGet + " " + RouteAuthMe:
		return true
	default:
		return false
	}
}

// RequirePermission must be chained after RequireAuth.
func (s *Server) RequirePermission(p rbac.Permission) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			actor, ok := rbac.ActorFromContext(r.Context())
			if !ok {
				s.writeError(w, r, apperrors.ErrMissingToken)
				return
			}
			if err := s.auth.Authorize(r.Context(), actor, p, nil); err != nil {
				s.writeError(w, r, err)
				return
			}
			next(w, r)
		}
	}
}

// RequireNostrAuth accepts requests signed with a NIP-98 Authorization header.
func (s *Server) RequireNostrAuth() func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			e, err := s.httpAuth.VerifyRequest(r, requestURL(r))
			if err != nil {
				s.log.Debug().Err(err).Str("path", r.URL.Path).Msg("nostr http auth rejected")
				s.writeError(w, r, err)
				return
			}
			ctx := context.WithValue(r.Context(), ContextKeyNostrPubkey, strings.ToLower(e.PubKey))
			next(w, r.WithContext(ctx))
		}
	}
}

// CSRFMiddleware binds new tokens to the authenticated session, when there is
// one, and audits rejections.
func (s *Server) CSRFMiddleware() func(http.HandlerFunc) http.HandlerFunc {
	sessionOf := func(r *http.Request) string {
		if actor, ok := rbac.ActorFromContext(r.Context()); ok {
			return actor.SessionID
		}
		return ""
	}
	onReject := func(r *http.Request, err error) {
		if _, rerr := s.ledger.Record(r.Context(), audit.Event{
			Action:     audit.ActionCSRFRejected,
			TargetType: "route",
			TargetID:   r.Method + " " + r.URL.Path,
			Err:        err,
		}); rerr != nil {
			s.log.Error().Err(rerr).Msg("audit record failed")
		}
	}
	return s.csrf.Middleware(sessionOf, onReject)
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", apperrors.ErrMissingToken
	}
	scheme, token, ok := strings.Cut(strings.TrimSpace(authHeader), " ")
	if !ok || !strings.EqualFold(scheme, "bearer") {
		return "", apperrors.ErrInvalidFormat
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", apperrors.ErrMissingToken
	}
	return token, nil
}

func accessTokenFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyAccessToken).(string)
	return v
}

func nostrPubkeyFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyNostrPubkey).(string)
	return v
}

func csrfTokenFromContext(r *http.Request) (string, bool) {
	return csrf.TokenFromContext(r.Context())
}
