// Package audit is the append-only security ledger. Details are redacted and
// client addresses anonymized before an entry is stored; stored entries are
// never changed.
package audit

import (
	"time"
)

// Action names an audited event.
type Action string

const (
	ActionLogin          Action = "auth.login"
	ActionLogout         Action = "auth.logout"
	ActionNostrLogin     Action = "auth.nostr_login"
	ActionPasswordChange Action = "auth.password_change"
	ActionMFAChange      Action = "auth.mfa_change"
	ActionRoleChange     Action = "user.role_change"
	ActionRateLimit      Action = "security.rate_limit"

	ActionTokenRefresh   Action = "token.refresh"
	ActionTokenRevoke    Action = "token.revoke"
	ActionFamilyRejected Action = "token.family_rejected"

	ActionIdentityLink   Action = "identity.link"
	ActionIdentityUnlink Action = "identity.unlink"

	ActionAccessDenied Action = "authz.denied"
	ActionCSRFRejected Action = "security.csrf_rejected"

	ActionAuditView   Action = "audit.view"
	ActionAuditExport Action = "audit.export"
	ActionAuditPurge  Action = "audit.purge"
)

// SecurityActions are the actions listed by Ledger.SecurityEvents.
var SecurityActions = []Action{
	ActionLogin,
	ActionLogout,
	ActionNostrLogin,
	ActionPasswordChange,
	ActionMFAChange,
	ActionRoleChange,
	ActionRateLimit,
	ActionFamilyRejected,
	ActionCSRFRejected,
}

// Entry is one stored audit record.
type Entry struct {
	EventID    string         `json:"event_id"`
	ActorID    string         `json:"actor_id,omitempty"`
	ActorRole  string         `json:"actor_role,omitempty"`
	Action     Action         `json:"action"`
	TargetType string         `json:"target_type,omitempty"`
	TargetID   string         `json:"target_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// Clone returns a deep copy so callers cannot reach into stored details.
func (e Entry) Clone() Entry {
	e.Details = cloneMap(e.Details)
	return e
}

// Event is what callers hand to Ledger.Record. Actor and request fields left
// empty are taken from the context.
type Event struct {
	Action     Action
	TargetType string
	TargetID   string
	Details    map[string]any
	Failed     bool
	Err        error

	ActorID   string
	ActorRole string
	IPAddress string
	UserAgent string
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneValue(t[i])
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = cloneMap(t[i])
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(t))
		for k, s := range t {
			out[k] = s
		}
		return out
	default:
		return v
	}
}
