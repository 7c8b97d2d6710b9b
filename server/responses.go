package server

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = jsonEncode(w, v)
}

func jsonEncode(w http.ResponseWriter, v any) error {
	return json.NewEncoder(w).Encode(v)
}

// writeError maps err to a status and a JSON body. Server errors are logged
// and never echoed to the client.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	resp := errorResponse{Error: errorCode(status), Description: err.Error()}
	if stderrors.Is(err, apperrors.ErrPasswordChangeRequired) {
		resp.Error = "password_change_required"
	}
	switch status {
	case http.StatusInternalServerError:
		s.log.Error().Err(err).Str("method", r.Method).Str("path", r.URL.Path).Msg("request failed")
		resp.Description = "internal server error"
	case http.StatusUnauthorized:
		w.Header().Set("WWW-Authenticate", `Bearer realm="grant-platform"`)
	}
	writeJSON(w, status, resp)
}

func statusFor(err error) int {
	var validation *apperrors.ValidationError
	switch {
	case stderrors.As(err, &validation):
		return http.StatusBadRequest
	case stderrors.Is(err, apperrors.ErrTooManyAttempts):
		return http.StatusTooManyRequests
	case stderrors.Is(err, apperrors.ErrForbidden),
		stderrors.Is(err, apperrors.ErrPasswordChangeRequired),
		stderrors.Is(err, apperrors.ErrCSRFMissing),
		stderrors.Is(err, apperrors.ErrCSRFInvalid),
		stderrors.Is(err, apperrors.ErrUserBlocked):
		return http.StatusForbidden
	case stderrors.Is(err, apperrors.ErrIdentityAlreadyLinked):
		return http.StatusConflict
	case stderrors.Is(err, apperrors.ErrNoSignatureBackend):
		return http.StatusNotImplemented
	case stderrors.Is(err, apperrors.ErrInvalidDID),
		stderrors.Is(err, apperrors.ErrInvalidPubkey):
		return http.StatusBadRequest
	case apperrors.IsAuthentication(err):
		return http.StatusUnauthorized
	case stderrors.Is(err, apperrors.ErrUserNotFound),
		stderrors.Is(err, apperrors.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func errorCode(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid_request"
	case http.StatusUnauthorized:
		return "unauthorized"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "too_many_requests"
	case http.StatusNotImplemented:
		return "not_implemented"
	default:
		return "server_error"
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apperrors.NewValidation("body", "malformed JSON: "+err.Error())
	}
	return nil
}
