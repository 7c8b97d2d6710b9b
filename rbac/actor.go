package rbac

import "context"

// Actor is the authenticated identity every decision is made for.
type Actor struct {
	ID          string       `json:"id"`
	Email       string       `json:"email,omitempty"`
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions,omitempty"` // explicit grants on top of the role
	SessionID   string       `json:"session_id,omitempty"`

	// PasswordChangeRequired limits the actor to changing its password.
	PasswordChangeRequired bool `json:"password_change_required,omitempty"`
}

// Ownership describes who a resource belongs to.
type Ownership struct {
	OwnerID           string
	AssignedAssessors []string
}

func (o *Ownership) isAssigned(id string) bool {
	for _, a := range o.AssignedAssessors {
		if a == id {
			return true
		}
	}
	return false
}

// Decision is the result of an access check. Reason is set on denial.
type Decision struct {
	Granted bool   `json:"granted"`
	Reason  string `json:"reason,omitempty"`
}

func Allow() Decision {
	return Decision{Granted: true}
}

func Deny(reason string) Decision {
	return Decision{Reason: reason}
}

type actorContextKey struct{}

// ContextWithActor attaches the authenticated actor to the context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, &actor)
}

// ActorFromContext extracts the authenticated actor from the context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	if ctx == nil {
		return Actor{}, false
	}
	v, ok := ctx.Value(actorContextKey{}).(*Actor)
	if !ok || v == nil {
		return Actor{}, false
	}
	return *v, true
}
