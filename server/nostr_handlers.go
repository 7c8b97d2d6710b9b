package server

import (
	"net/http"
	"strings"

	"github.com/jrsteele09/go-grant-auth/did"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/nostr"
	"github.com/jrsteele09/go-grant-auth/rbac"
	"github.com/jrsteele09/go-grant-auth/users"
)

type nostrLoginRequest struct {
	Event *nostr.Event `json:"event"`
}

type linkIdentityRequest struct {
	Event *nostr.Event `json:"event"`
	NIP05 string       `json:"nip05,omitempty"`
}

func (s *Server) NostrChallengeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		c, err := s.auth.IssueNostrChallenge(r.Context())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, c)
	}
}

func (s *Server) NostrLoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req nostrLoginRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Event == nil {
			s.writeError(w, r, apperrors.NewValidation("event", "required"))
			return
		}
		session, err := s.auth.LoginWithNostr(r.Context(), req.Event)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeSession(w, session)
	}
}

func (s *Server) ListIdentitiesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := rbac.ActorFromContext(r.Context())
		links, err := s.auth.Identities(r.Context(), actor.ID)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if links == nil {
			links = []*users.IdentityLink{}
		}
		writeJSON(w, http.StatusOK, links)
	}
}

func (s *Server) LinkIdentityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req linkIdentityRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		if req.Event == nil {
			s.writeError(w, r, apperrors.NewValidation("event", "required"))
			return
		}
		actor, _ := rbac.ActorFromContext(r.Context())
		link, err := s.auth.LinkIdentity(r.Context(), actor, req.Event, strings.TrimSpace(req.NIP05))
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, link)
	}
}

func (s *Server) UnlinkIdentityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actor, _ := rbac.ActorFromContext(r.Context())
		err := s.auth.UnlinkIdentity(r.Context(), actor, r.PathValue("pubkey"))
		switch {
		case err == nil:
			w.WriteHeader(http.StatusNoContent)
		case apperrors.Is(err, apperrors.ErrIdentityNotLinked):
			writeJSON(w, http.StatusNotFound, errorResponse{Error: errorCode(http.StatusNotFound), Description: err.Error()})
		default:
			s.writeError(w, r, err)
		}
	}
}

// NostrWhoAmIHandler reports the key that signed the request.
func (s *Server) NostrWhoAmIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		pubkey := nostrPubkeyFromContext(r.Context())
		didID, err := did.PubkeyToDID(pubkey)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"pubkey": pubkey, "did": didID})
	}
}

// ResolveDIDHandler resolves a did:nostr identifier. Clients asking for
// application/did+json get the bare document; everyone else gets the full
// resolution result.
func (s *Server) ResolveDIDHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		opts := did.Options{NIP05: strings.TrimSpace(q.Get("nip05"))}
		for _, v := range q["relay"] {
			for _, relay := range strings.Split(v, ",") {
				if relay = strings.TrimSpace(relay); relay != "" {
					opts.Relays = append(opts.Relays, relay)
				}
			}
		}

		result := s.resolver.Resolve(r.Context(), r.PathValue("did"), opts)
		status := resolutionStatus(result)
		if result.OK() && strings.Contains(r.Header.Get("Accept"), did.ContentTypeDIDJSON) {
			w.Header().Set("Content-Type", did.ContentTypeDIDJSON)
			w.WriteHeader(status)
			_ = jsonEncode(w, result.Document)
			return
		}
		writeJSON(w, status, result)
	}
}

func resolutionStatus(result did.ResolutionResult) int {
	switch result.ResolutionMetadata.Error {
	case "":
		return http.StatusOK
	case did.ErrorInvalidDID:
		return http.StatusBadRequest
	case did.ErrorNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
