package rbac

import (
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
	"github.com/jrsteele09/go-grant-auth/internal/metrics"
)

// Engine answers permission questions against the static role table.
type Engine struct {
	table   map[Role]map[Permission]struct{}
	log     zerolog.Logger
	metrics metrics.Recorder
}

type EngineOption func(*Engine)

func WithLogger(log zerolog.Logger) EngineOption {
	return func(e *Engine) {
		e.log = log
	}
}

func WithMetrics(r metrics.Recorder) EngineOption {
	return func(e *Engine) {
		e.metrics = r
	}
}

// NewEngine builds an Engine over the built-in role table. The table is copied
// at construction and never changes afterwards.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		table:   make(map[Role]map[Permission]struct{}, len(defaultTable)),
		log:     zerolog.Nop(),
		metrics: metrics.Noop{},
	}
	for role, perms := range defaultTable {
		set := make(map[Permission]struct{}, len(perms))
		for _, p := range perms {
			set[p] = struct{}{}
		}
		e.table[role] = set
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// PermissionsForRole returns the role's permissions sorted, or nil for an
// unknown role.
func (e *Engine) PermissionsForRole(role Role) []Permission {
	set, ok := e.table[role]
	if !ok {
		return nil
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// HasPermission is true when p is an explicit grant of the actor or part of
// its role. Grants add to the role, they never replace it.
func (e *Engine) HasPermission(actor Actor, p Permission) bool {
	for _, granted := range actor.Permissions {
		if granted == p {
			return true
		}
	}
	_, ok := e.table[actor.Role][p]
	return ok
}

func (e *Engine) HasAll(actor Actor, required ...Permission) bool {
	return len(e.Missing(actor, required...)) == 0
}

func (e *Engine) HasAny(actor Actor, required ...Permission) bool {
	for _, p := range required {
		if e.HasPermission(actor, p) {
			return true
		}
	}
	return false
}

// Missing returns the required permissions the actor does not hold.
func (e *Engine) Missing(actor Actor, required ...Permission) []Permission {
	var missing []Permission
	for _, p := range required {
		if !e.HasPermission(actor, p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// EffectivePermissions is the sorted, deduplicated union of role permissions
// and explicit grants.
func (e *Engine) EffectivePermissions(actor Actor) []Permission {
	set := make(map[Permission]struct{})
	for p := range e.table[actor.Role] {
		set[p] = struct{}{}
	}
	for _, p := range actor.Permissions {
		set[p] = struct{}{}
	}
	out := make([]Permission, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// CheckResourceAccess requires p and, for :own scoped permissions, that the
// actor owns the resource. An assessor also passes when listed among the
// resource's assigned assessors. A nil ownership is not checked; callers must
// pass one whenever the permission is :own scoped. Holding the unscoped form
// of p (application:read for application:read:own) grants access to every
// resource.
func (e *Engine) CheckResourceAccess(actor Actor, p Permission, ownership *Ownership) Decision {
	d := e.checkResourceAccess(actor, p, ownership)
	e.metrics.PermissionDecision(string(p), d.Granted)
	if !d.Granted {
		e.log.Debug().
			Str("actor_id", actor.ID).
			Str("role", string(actor.Role)).
			Str("permission", string(p)).
			Str("reason", d.Reason).
			Msg("access denied")
	}
	return d
}

func (e *Engine) checkResourceAccess(actor Actor, p Permission, ownership *Ownership) Decision {
	if p.IsOwnScoped() {
		if broader := p.Unscoped(); broader != p && e.HasPermission(actor, broader) {
			return Allow()
		}
	}
	if !e.HasPermission(actor, p) {
		return Deny(fmt.Sprintf("missing permission %s", p))
	}
	if !p.IsOwnScoped() || ownership == nil {
		return Allow()
	}
	if ownership.OwnerID != "" && ownership.OwnerID == actor.ID {
		return Allow()
	}
	if actor.Role == RoleAssessor && ownership.isAssigned(actor.ID) {
		return Allow()
	}
	return Deny("resource belongs to another user")
}

// RequirePermission returns an AuthorizationError when the actor lacks p.
func (e *Engine) RequirePermission(actor Actor, p Permission) error {
	granted := e.HasPermission(actor, p)
	e.metrics.PermissionDecision(string(p), granted)
	if !granted {
		return &apperrors.AuthorizationError{Permission: string(p), Reason: "missing permission"}
	}
	return nil
}

// Authorize turns a Decision into an error for guard style callers.
func Authorize(d Decision, p Permission) error {
	if d.Granted {
		return nil
	}
	return &apperrors.AuthorizationError{Permission: string(p), Reason: d.Reason}
}

func sortPermissions(ps []Permission) {
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
}
