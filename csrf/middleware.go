package csrf

import (
	"context"
	"encoding/json"
	"net/http"
)

type tokenContextKey struct{}

// TokenFromContext returns the token the middleware issued or accepted.
func TokenFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(tokenContextKey{}).(string)
	return v, ok && v != ""
}

// RejectFunc is called when a request fails validation, before the 403 is written.
type RejectFunc func(r *http.Request, err error)

// SessionFunc extracts the session a new token is bound to.
type SessionFunc func(r *http.Request) string

// Middleware issues a token cookie on safe requests that lack a live one and
// enforces the double submit on every other method.
func (g *Guard) Middleware(sessionOf SessionFunc, onReject RejectFunc) func(http.HandlerFunc) http.HandlerFunc {
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			cookieValue := ""
			if c, err := r.Cookie(g.cookieName); err == nil {
				cookieValue = c.Value
			}

			if !g.RequiresValidation(r.Method) {
				if cookieValue == "" || g.validate(ctx, cookieValue, cookieValue) != nil {
					sessionID := ""
					if sessionOf != nil {
						sessionID = sessionOf(r)
					}
					t, err := g.Generate(ctx, sessionID)
					if err != nil {
						g.log.Error().Err(err).Msg("csrf token generation failed")
						writeError(w, "csrf token unavailable", http.StatusInternalServerError)
						return
					}
					g.SetCookie(w, t)
					cookieValue = t.Value
				}
				w.Header().Set(g.headerName, cookieValue)
				next(w, r.WithContext(context.WithValue(ctx, tokenContextKey{}, cookieValue)))
				return
			}

			requestValue := r.Header.Get(g.headerName)
			if requestValue == "" && g.formField != "" {
				requestValue = r.PostFormValue(g.formField)
			}
			if err := g.ValidateDoubleSubmit(ctx, cookieValue, requestValue); err != nil {
				g.log.Warn().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Err(err).
					Msg("csrf validation failed")
				if onReject != nil {
					onReject(r, err)
				}
				writeError(w, err.Error(), http.StatusForbidden)
				return
			}
			next(w, r.WithContext(context.WithValue(ctx, tokenContextKey{}, cookieValue)))
		}
	}
}

func writeError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
