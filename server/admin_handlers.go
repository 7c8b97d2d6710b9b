package server

import (
	"net/http"

	"github.com/jrsteele09/go-grant-auth/rbac"
)

type changeRoleRequest struct {
	Role rbac.Role `json:"role"`
}

// ChangeRoleHandler assigns a role to the user named in the path.
func (s *Server) ChangeRoleHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req changeRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			s.writeError(w, r, err)
			return
		}
		actor, _ := rbac.ActorFromContext(r.Context())
		if err := s.auth.ChangeRole(r.Context(), actor, r.PathValue("id"), req.Role); err != nil {
			s.writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
