package rbac

import "time"

// ApplicationRef is the part of an application that access rules look at.
type ApplicationRef struct {
	ID                string
	OwnerID           string
	Status            ApplicationStatus
	AssignedAssessors []string
}

type ApplicationStatus string

const (
	ApplicationDraft     ApplicationStatus = "draft"
	ApplicationSubmitted ApplicationStatus = "submitted"
	ApplicationWithdrawn ApplicationStatus = "withdrawn"
)

// AssessmentRef is the part of an assessment that access rules look at.
type AssessmentRef struct {
	ID         string
	AssessorID string
	Submitted  bool
}

// CallRef describes the funding call an application belongs to.
type CallRef struct {
	ID       string
	Deadline time.Time
	Closed   bool
}

func (a ApplicationRef) ownership() *Ownership {
	return &Ownership{OwnerID: a.OwnerID, AssignedAssessors: a.AssignedAssessors}
}

// isOversight reports whether the role oversees a whole scheme.
func isOversight(r Role) bool {
	return r == RoleCoordinator || r == RoleSchemeOwner
}

// CanViewResults is limited to coordinators and scheme owners.
func (e *Engine) CanViewResults(actor Actor) Decision {
	if !isOversight(actor.Role) {
		return Deny("only coordinators and scheme owners may view results")
	}
	return e.CheckResourceAccess(actor, PermResultsViewMaster, nil)
}

// CanViewAssessment lets oversight roles read every assessment and an
// assessor read only their own. An assessor never sees another assessor's
// work, submitted or not.
func (e *Engine) CanViewAssessment(actor Actor, assessment AssessmentRef) Decision {
	switch {
	case isOversight(actor.Role):
		return e.CheckResourceAccess(actor, PermAssessmentRead, nil)
	case actor.Role == RoleAssessor:
		if assessment.AssessorID != actor.ID {
			if assessment.Submitted {
				return Deny("assessors may not view another assessor's submitted assessment")
			}
			return Deny("assessment belongs to another assessor")
		}
		return e.CheckResourceAccess(actor, PermAssessmentReadOwn, &Ownership{OwnerID: assessment.AssessorID})
	default:
		return Deny("role may not view assessments")
	}
}

// CanViewApplication applies ownership and assessor assignment.
func (e *Engine) CanViewApplication(actor Actor, app ApplicationRef) Decision {
	return e.CheckResourceAccess(actor, PermApplicationReadOwn, app.ownership())
}

// CanSubmitApplication allows the owner to submit a draft before the call
// deadline while holding the submit permission.
func (e *Engine) CanSubmitApplication(actor Actor, app ApplicationRef, call CallRef, now time.Time) Decision {
	if d := e.CheckResourceAccess(actor, PermApplicationSubmitOwn, app.ownership()); !d.Granted {
		return d
	}
	if app.OwnerID != actor.ID {
		return Deny("only the applicant may submit the application")
	}
	if app.Status != ApplicationDraft {
		return Deny("application has already been submitted")
	}
	if call.Closed {
		return Deny("call is closed")
	}
	if !call.Deadline.IsZero() && !now.Before(call.Deadline) {
		return Deny("call deadline has passed")
	}
	return Allow()
}

// CanEditApplication lets the owner edit a draft. Coordinators may edit any
// application.
func (e *Engine) CanEditApplication(actor Actor, app ApplicationRef) Decision {
	if e.HasPermission(actor, PermApplicationUpdate) {
		return Allow()
	}
	if d := e.CheckResourceAccess(actor, PermApplicationUpdateOwn, app.ownership()); !d.Granted {
		return d
	}
	if app.OwnerID != actor.ID {
		return Deny("only the applicant may edit the application")
	}
	if app.Status != ApplicationDraft {
		return Deny("submitted applications cannot be edited")
	}
	return Allow()
}

func (e *Engine) CanManageCall(actor Actor) Decision {
	return e.CheckResourceAccess(actor, PermCallUpdate, nil)
}

// CanAssignAssessor requires the assign permission and refuses to assign an
// applicant's own application to them.
func (e *Engine) CanAssignAssessor(actor Actor, app ApplicationRef, assessorID string) Decision {
	if d := e.CheckResourceAccess(actor, PermAssessorAssign, nil); !d.Granted {
		return d
	}
	if assessorID != "" && assessorID == app.OwnerID {
		return Deny("assessor cannot assess their own application")
	}
	return Allow()
}

func (e *Engine) CanManageUsers(actor Actor) Decision {
	return e.CheckResourceAccess(actor, PermUserManage, nil)
}

func (e *Engine) CanViewAuditLog(actor Actor) Decision {
	return e.CheckResourceAccess(actor, PermAuditRead, nil)
}

// QueryScope tells a query builder which rows an actor may list. Exactly one
// of CanAccessAll, OwnerID or AssignedOnly applies.
type QueryScope struct {
	CanAccessAll bool   `json:"can_access_all"`
	OwnerID      string `json:"owner_id,omitempty"`
	AssignedOnly bool   `json:"assigned_only"`
	AssessorID   string `json:"assessor_id,omitempty"`
}

// PermissionScope derives the application listing scope for the actor.
// Unknown roles get the narrowest scope.
func (e *Engine) PermissionScope(actor Actor) QueryScope {
	switch {
	case e.HasPermission(actor, PermApplicationRead):
		return QueryScope{CanAccessAll: true}
	case actor.Role == RoleAssessor:
		return QueryScope{AssignedOnly: true, AssessorID: actor.ID}
	default:
		return QueryScope{OwnerID: actor.ID}
	}
}
