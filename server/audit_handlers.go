package server

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jrsteele09/go-grant-auth/audit"
	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

const targetAuditLog = "audit_log"

func (s *Server) AuditLogsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r.URL.Query())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		page, err := s.ledger.Query(r.Context(), f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.recordAudit(r, audit.ActionAuditView, map[string]any{"returned": len(page.Entries), "total": page.Total})
		writeJSON(w, http.StatusOK, page)
	}
}

func (s *Server) AuditSecurityHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r.URL.Query())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		page, err := s.ledger.SecurityEvents(r.Context(), f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.recordAudit(r, audit.ActionAuditView, map[string]any{"view": "security", "returned": len(page.Entries)})
		writeJSON(w, http.StatusOK, page)
	}
}

func (s *Server) AuditStatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f, err := parseFilter(r.URL.Query())
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		stats, err := s.ledger.Stats(r.Context(), f)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, stats)
	}
}

// AuditExportHandler streams matching entries as JSON or CSV.
func (s *Server) AuditExportHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		f, err := parseFilter(q)
		if err != nil {
			s.writeError(w, r, err)
			return
		}

		format := audit.Format(strings.ToLower(q.Get("format")))
		var contentType string
		switch format {
		case "", audit.FormatJSON:
			format, contentType = audit.FormatJSON, "application/json"
		case audit.FormatCSV:
			contentType = "text/csv"
		default:
			s.writeError(w, r, apperrors.NewValidation("format", "unsupported export format "+string(format)))
			return
		}

		filename := fmt.Sprintf("audit-%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		n, err := s.ledger.Export(r.Context(), f, format, w)
		if err != nil {
			// Headers may already be out; log and stop.
			s.log.Error().Err(err).Str("format", string(format)).Msg("audit export failed")
			return
		}
		s.recordAudit(r, audit.ActionAuditExport, map[string]any{"format": string(format), "count": n})
	}
}

func (s *Server) recordAudit(r *http.Request, action audit.Action, details map[string]any) {
	if _, err := s.ledger.Record(r.Context(), audit.Event{
		Action:     action,
		TargetType: targetAuditLog,
		Details:    details,
	}); err != nil {
		s.log.Error().Err(err).Str("action", string(action)).Msg("audit record failed")
	}
}

// parseFilter reads audit query parameters. Actions may repeat or be comma separated.
func parseFilter(q url.Values) (audit.Filter, error) {
	f := audit.Filter{
		ActorID:    q.Get("actor_id"),
		ActorRole:  q.Get("actor_role"),
		TargetType: q.Get("target_type"),
		TargetID:   q.Get("target_id"),
	}
	for _, v := range q["action"] {
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				f.Actions = append(f.Actions, audit.Action(a))
			}
		}
	}

	var err error
	if f.From, err = parseTime(q, "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q, "to"); err != nil {
		return f, err
	}
	if v := q.Get("success"); v != "" {
		b, perr := strconv.ParseBool(v)
		if perr != nil {
			return f, apperrors.NewValidation("success", "must be true or false")
		}
		f.Success = &b
	}
	if v := q.Get("order"); v != "" {
		switch v {
		case "asc":
			f.Ascending = true
		case "desc":
		default:
			return f, apperrors.NewValidation("order", "must be asc or desc")
		}
	}
	if f.Limit, err = parseInt(q, "limit"); err != nil {
		return f, err
	}
	if f.Offset, err = parseInt(q, "offset"); err != nil {
		return f, err
	}
	return f, nil
}

func parseTime(q url.Values, key string) (time.Time, error) {
	v := q.Get(key)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, apperrors.NewValidation(key, "must be an RFC 3339 timestamp")
	}
	return t, nil
}

func parseInt(q url.Values, key string) (int, error) {
	v := q.Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, apperrors.NewValidation(key, "must be a non-negative integer")
	}
	return n, nil
}
