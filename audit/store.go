package audit

import (
	"context"
	"time"
)

// Store persists audit entries. Implementations must never modify a stored
// entry and must hand out copies.
type Store interface {
	Append(ctx context.Context, entry Entry) error
	// Find returns every entry matching f, newest first unless f.Ascending.
	// Limit and Offset are ignored.
	Find(ctx context.Context, f Filter) ([]Entry, error)
	// DeleteBefore removes entries older than cutoff.
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// Filter selects entries. Zero values match everything.
type Filter struct {
	ActorID    string
	ActorRole  string
	Actions    []Action
	TargetType string
	TargetID   string
	From       time.Time
	To         time.Time
	Success    *bool
	Ascending  bool
	Limit      int
	Offset     int
}

// Matches reports whether e satisfies every set criterion of f.
func (f Filter) Matches(e Entry) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.ActorRole != "" && e.ActorRole != f.ActorRole {
		return false
	}
	if len(f.Actions) > 0 && !containsAction(f.Actions, e.Action) {
		return false
	}
	if f.TargetType != "" && e.TargetType != f.TargetType {
		return false
	}
	if f.TargetID != "" && e.TargetID != f.TargetID {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && e.Timestamp.After(f.To) {
		return false
	}
	if f.Success != nil && e.Success != *f.Success {
		return false
	}
	return true
}

func containsAction(actions []Action, a Action) bool {
	for _, candidate := range actions {
		if candidate == a {
			return true
		}
	}
	return false
}

// Page is one page of query results.
type Page struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Stats aggregates entries.
type Stats struct {
	Total        int            `json:"total"`
	Successes    int            `json:"successes"`
	Failures     int            `json:"failures"`
	ByAction     map[Action]int `json:"by_action"`
	ByTargetType map[string]int `json:"by_target_type"`
	ByRole       map[string]int `json:"by_role"`
}
