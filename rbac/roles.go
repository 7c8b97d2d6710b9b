package rbac

import (
	"strings"

	apperrors "github.com/jrsteele09/go-grant-auth/internal/errors"
)

// Role is one of the four platform roles.
type Role string

const (
	RoleApplicant   Role = "applicant"    // Prepares and submits applications
	RoleAssessor    Role = "assessor"     // Scores applications assigned to them
	RoleCoordinator Role = "coordinator"  // Runs calls and the assessor pool
	RoleSchemeOwner Role = "scheme_owner" // Owns the funding scheme, approves results
)

// Permission is a resource:action[:scope] string such as application:read:own.
type Permission string

const (
	ScopeOwn = "own"

	PermApplicationCreate    Permission = "application:create"
	PermApplicationRead      Permission = "application:read"
	PermApplicationReadOwn   Permission = "application:read:own"
	PermApplicationUpdate    Permission = "application:update"
	PermApplicationUpdateOwn Permission = "application:update:own"
	PermApplicationSubmitOwn Permission = "application:submit:own"
	PermApplicationDeleteOwn Permission = "application:delete:own"

	PermAssessmentCreateOwn Permission = "assessment:create:own"
	PermAssessmentRead      Permission = "assessment:read"
	PermAssessmentReadOwn   Permission = "assessment:read:own"
	PermAssessmentUpdateOwn Permission = "assessment:update:own"
	PermAssessmentSubmitOwn Permission = "assessment:submit:own"

	PermCallCreate  Permission = "call:create"
	PermCallRead    Permission = "call:read"
	PermCallUpdate  Permission = "call:update"
	PermCallPublish Permission = "call:publish"
	PermCallClose   Permission = "call:close"

	PermAssessorPoolManage Permission = "assessor_pool:manage"
	PermAssessorAssign     Permission = "assessor:assign"

	PermResultsViewMaster Permission = "results:view:master"
	PermResultsExport     Permission = "results:export"
	PermResultsApprove    Permission = "results:approve"

	PermFileUploadOwn Permission = "file:upload:own"
	PermFileReadOwn   Permission = "file:read:own"
	PermFileRead      Permission = "file:read"

	PermProfileReadOwn   Permission = "profile:read:own"
	PermProfileUpdateOwn Permission = "profile:update:own"

	PermUserRead   Permission = "user:read"
	PermUserManage Permission = "user:manage"
	PermRoleAssign Permission = "role:assign"

	PermAuditRead Permission = "audit:read"
)

var defaultTable = map[Role][]Permission{
	RoleApplicant: {
		PermApplicationCreate,
		PermApplicationReadOwn,
		PermApplicationUpdateOwn,
		PermApplicationSubmitOwn,
		PermApplicationDeleteOwn,
		PermCallRead,
		PermFileUploadOwn,
		PermFileReadOwn,
		PermProfileReadOwn,
		PermProfileUpdateOwn,
	},
	RoleAssessor: {
		PermCallRead,
		PermApplicationReadOwn,
		PermAssessmentCreateOwn,
		PermAssessmentReadOwn,
		PermAssessmentUpdateOwn,
		PermAssessmentSubmitOwn,
		PermFileReadOwn,
		PermProfileReadOwn,
		PermProfileUpdateOwn,
	},
	RoleCoordinator: {
		PermCallCreate,
		PermCallRead,
		PermCallUpdate,
		PermCallPublish,
		PermCallClose,
		PermApplicationRead,
		PermApplicationUpdate,
		PermAssessmentRead,
		PermAssessorPoolManage,
		PermAssessorAssign,
		PermResultsViewMaster,
		PermResultsExport,
		PermFileRead,
		PermUserRead,
		PermAuditRead,
		PermProfileReadOwn,
		PermProfileUpdateOwn,
	},
	RoleSchemeOwner: {
		PermCallRead,
		PermApplicationRead,
		PermAssessmentRead,
		PermResultsViewMaster,
		PermResultsExport,
		PermResultsApprove,
		PermFileRead,
		PermUserRead,
		PermUserManage,
		PermRoleAssign,
		PermAuditRead,
		PermProfileReadOwn,
		PermProfileUpdateOwn,
	},
}

// Roles lists the known roles in a stable order.
func Roles() []Role {
	return []Role{RoleApplicant, RoleAssessor, RoleCoordinator, RoleSchemeOwner}
}

func (r Role) Valid() bool {
	_, ok := defaultTable[r]
	return ok
}

// ParseRole accepts the role names case-insensitively.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", apperrors.NewValidation("role", "unknown role "+s)
	}
	return r, nil
}

// ParsedPermission is a permission split into its parts.
type ParsedPermission struct {
	Resource string
	Action   string
	Scope    string
}

// ParsePermission splits p into resource, action and optional scope.
func ParsePermission(p Permission) (ParsedPermission, error) {
	parts := strings.Split(string(p), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return ParsedPermission{}, apperrors.NewValidation("permission", "expected resource:action[:scope]")
	}
	for _, part := range parts {
		if part == "" {
			return ParsedPermission{}, apperrors.NewValidation("permission", "empty segment in "+string(p))
		}
	}
	parsed := ParsedPermission{Resource: parts[0], Action: parts[1]}
	if len(parts) == 3 {
		parsed.Scope = parts[2]
	}
	return parsed, nil
}

// Unscoped drops the scope segment: application:read:own becomes application:read.
func (p Permission) Unscoped() Permission {
	parsed, err := ParsePermission(p)
	if err != nil || parsed.Scope == "" {
		return p
	}
	return Permission(parsed.Resource + ":" + parsed.Action)
}

// IsOwnScoped reports whether p carries the :own scope.
func (p Permission) IsOwnScoped() bool {
	return strings.HasSuffix(string(p), ":"+ScopeOwn)
}
