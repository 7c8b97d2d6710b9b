package audit

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
)

const (
	DefaultRetention = 365 * 24 * time.Hour
	DefaultPageSize  = 50
	MaxPageSize      = 1000
)

// Format is an export encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// CSVHeader is the column order of CSV exports.
var CSVHeader = []string{
	"event_id", "timestamp", "actor_id", "actor_role", "action",
	"target_type", "target_id", "success", "ip_address", "details",
}

// Ledger records and reads audit entries.
type Ledger struct {
	store     Store
	retention time.Duration
	nowFunc   func() time.Time
	log       zerolog.Logger
	metrics   metrics.Recorder
}

type Option func(*Ledger)

func WithRetention(d time.Duration) Option {
	return func(l *Ledger) {
		l.retention = d
	}
}

func WithNowFunc(now func() time.Time) Option {
	return func(l *Ledger) {
		l.nowFunc = now
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(l *Ledger) {
		l.log = log
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(l *Ledger) {
		l.metrics = r
	}
}

func NewLedger(store Store, opts ...Option) *Ledger {
	l := &Ledger{
		store:     store,
		retention: DefaultRetention,
		nowFunc:   time.Now,
		log:       zerolog.Nop(),
		metrics:   metrics.Noop{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Record sanitizes ev and appends it. The returned entry is a copy of what was stored.
func (l *Ledger) Record(ctx context.Context, ev Event) (*Entry, error) {
	if ev.Action == "" {
		return nil, apperrors.NewValidation("action", "required")
	}

	actor := actorFrom(ctx)
	req := requestFrom(ctx)
	entry := Entry{
		EventID:    uuid.NewString(),
		ActorID:    firstNonEmpty(ev.ActorID, actor.id),
		ActorRole:  firstNonEmpty(ev.ActorRole, actor.role),
		Action:     ev.Action,
		TargetType: ev.TargetType,
		TargetID:   ev.TargetID,
		Details:    Sanitize(ev.Details),
		IPAddress:  AnonymizeIP(firstNonEmpty(ev.IPAddress, req.ip)),
		UserAgent:  firstNonEmpty(ev.UserAgent, req.userAgent),
		Timestamp:  l.nowFunc().UTC(),
		Success:    !ev.Failed && ev.Err == nil,
	}
	if ev.Err != nil {
		entry.Error = ev.Err.Error()
	}

	if err := l.store.Append(ctx, entry); err != nil {
		return nil, errors.Wrap(err, "[Ledger.Record] append")
	}
	l.metrics.AuditRecorded(string(entry.Action), entry.Success)

	logEvent := l.log.Info()
	if !entry.Success {
		logEvent = l.log.Warn()
	}
	logEvent.
		Str("event_id", entry.EventID).
		Str("action", string(entry.Action)).
		Str("actor_id", entry.ActorID).
		Str("target_type", entry.TargetType).
		Str("target_id", entry.TargetID).
		Str("ip", entry.IPAddress).
		Bool("success", entry.Success).
		Str("error", entry.Error).
		Msg("audit")

	out := entry.Clone()
	return &out, nil
}

// Query returns a page of entries, newest first by default.
func (l *Ledger) Query(ctx context.Context, f Filter) (*Page, error) {
	entries, err := l.store.Find(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.Query]")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	page := &Page{Total: len(entries), Limit: limit, Offset: offset, Entries: []Entry{}}
	if offset >= len(entries) {
		return page, nil
	}
	end := offset + limit
	if end > len(entries) {
		end = len(entries)
	}
	page.Entries = entries[offset:end]
	return page, nil
}

// SecurityEvents narrows f to login, logout, credential, role and rate-limit events.
func (l *Ledger) SecurityEvents(ctx context.Context, f Filter) (*Page, error) {
	f.Actions = SecurityActions
	return l.Query(ctx, f)
}

// FailedLogins returns failed password or Nostr logins against userID since the given time.
func (l *Ledger) FailedLogins(ctx context.Context, userID string, since time.Time) ([]Entry, error) {
	failed := false
	entries, err := l.store.Find(ctx, Filter{
		Actions:  []Action{ActionLogin, ActionNostrLogin},
		TargetID: userID,
		From:     since,
		Success:  &failed,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.FailedLogins]")
	}
	return entries, nil
}

// Stats counts the entries matching f.
func (l *Ledger) Stats(ctx context.Context, f Filter) (*Stats, error) {
	entries, err := l.store.Find(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "[Ledger.Stats]")
	}
	stats := &Stats{
		ByAction:     make(map[Action]int),
		ByTargetType: make(map[string]int),
		ByRole:       make(map[string]int),
	}
	for _, e := range entries {
		stats.Total++
		if e.Success {
			stats.Successes++
		} else {
			stats.Failures++
		}
		stats.ByAction[e.Action]++
		if e.TargetType != "" {
			stats.ByTargetType[e.TargetType]++
		}
		if e.ActorRole != "" {
			stats.ByRole[e.ActorRole]++
		}
	}
	return stats, nil
}

// Export writes every entry matching f to w. Pagination fields are ignored.
func (l *Ledger) Export(ctx context.Context, f Filter, format Format, w io.Writer) (int, error) {
	entries, err := l.store.Find(ctx, f)
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.Export]")
	}

	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return 0, errors.Wrap(err, "[Ledger.Export] json")
		}
	case FormatCSV:
		if err := writeCSV(w, entries); err != nil {
			return 0, errors.Wrap(err, "[Ledger.Export] csv")
		}
	default:
		return 0, apperrors.NewValidation("format", "unsupported export format "+string(format))
	}
	return len(entries), nil
}

// Purge drops entries older than the retention window.
func (l *Ledger) Purge(ctx context.Context) (int, error) {
	cutoff := l.nowFunc().Add(-l.retention)
	n, err := l.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "[Ledger.Purge]")
	}
	if n > 0 {
		l.log.Info().Int("removed", n).Time("cutoff", cutoff).Msg("audit entries purged")
	}
	return n, nil
}

func writeCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, e := range entries {
		details := ""
		if len(e.Details) > 0 {
			b, err := json.Marshal(e.Details)
			if err != nil {
				return err
			}
			details = string(b)
		}
		record := []string{
			e.EventID,
			e.Timestamp.Format(time.RFC3339Nano),
			e.ActorID,
			e.ActorRole,
			string(e.Action),
			e.TargetType,
			e.TargetID,
			strconv.FormatBool(e.Success),
			e.IPAddress,
			details,
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
