package server

import (
	"net/http"

	"github.com/jrsteele09/go-grant-auth/auth"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/token"
	"github.com/jrsteele09/go-grant-auth/users"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type sessionResponse struct {
	*token.TokenPair
	User                   *users.User `json:"user"`
	CSRFToken              string      `json:"csrf_token,omitempty"`
	PasswordChangeRequired bool        `json:"password_change_required,omitempty"`
}

type meResponse struct {
	Actor       rbac.Actor            `json:"actor"`
	Permissions []rbac.Permission     `json:"permissions"`
	Scope       rbac.QueryScope       `json:"scope"`
	Identities  []*users.IdentityLink `json:"identities"`
}

func (s *Server) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// PreflightHandler answers CORS preflight requests. CorsMiddleware writes the
// headers; this only runs for requests without an Origin.
func (s *Server) PreflightHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		session, err := s.auth.LoginWithPassword(r.Context(), req.Email, req.Password)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSession(w, session)
	}
}

func (s *Server) RefreshHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req refreshRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.RefreshToken == "" {
			s.writeError(w, r, apperrors.ErrMissingToken)
			return
		}
		session, err := s.auth.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSession(w, session)
	}
}

func (s *Server) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.auth.Logout(r.Context(), accessTokenFromContext(r.Context())); err != nil {
			s.writeError(w, r, err)
			return
		}
		http.SetCookie(w, &http.Cookie{
			Name:   s.csrf.CookieName(),
			Value:  "",
			Path:   "/",
			MaxAge: -1,
		})
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := rbac.ActorFromContext(r.Context())
		identities, err := s.auth.Identities(r.Context(), actor.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if identities == nil {
			identities = []*users.IdentityLink{}
		}
		writeJSON(w, http.StatusOK, meResponse{
			Actor:       actor,
			Permissions: s.engine.EffectivePermissions(actor),
			Scope:       s.engine.PermissionScope(actor),
			Identities:  identities,
		})
	}
}

// CSRFTokenHandler returns the token CSRFMiddleware issued or accepted.
func (s *Server) CSRFTokenHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value, ok := csrfTokenFromContext(r)
		if !ok {
			s.writeError(w, r, apperrors.ErrCSRFMissing)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"csrf_token":  value,
			"header_name": s.csrf.HeaderName(),
		})
	}
}

func (s *Server) ChangePasswordHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changePasswordRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		actor, _ := rbac.ActorFromContext(r.Context())
		if err := s.auth.ChangePassword(r.Context(), actor, req.CurrentPassword, req.NewPassword); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeSession sends the token pair and, on login, sets the CSRF cookie.
func (s *Server) writeSession(w http.ResponseWriter, session *auth.Session) {
	resp := sessionResponse{
		TokenPair:              session.Tokens,
		User:                   session.User,
		PasswordChangeRequired: session.PasswordChangeRequired,
	}
	if session.CSRF != nil {
		s.csrf.SetCookie(w, session.CSRF)
		resp.CSRFToken = session.CSRF.Value
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, resp)
}
