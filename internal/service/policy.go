package service

import "github.com/noah-isme/campus-dwa-api/internal/models"

// transitionRoles is the authorization table: which roles may trigger which
// transition. Table-driven on purpose so the policy stays auditable and
// testable in isolation. Roles absent from a row are denied, as is any role
// the system does not recognise.
var transitionRoles = map[models.Transition]map[models.UserRole]struct{}{
	models.TransitionSubmit: {
		models.RoleStudent: {},
	},
	models.TransitionApprove: {
		models.RoleStaff: {},
		models.RoleAdmin: {},
	},
	models.TransitionReject: {
		models.RoleStaff: {},
		models.RoleAdmin: {},
	},
	models.TransitionApply: {
		models.RoleStaff:  {},
		models.RoleAdmin:  {},
		models.RoleSystem: {},
	},
}

// Allowed reports whether a role may trigger a transition. A submit is
// additionally gated on record ownership, which the engine checks against
// the authoritative record store; this table covers the role dimension only.
func Allowed(role models.UserRole, transition models.Transition) bool {
	roles, ok := transitionRoles[transition]
	if !ok {
		return false
	}
	_, ok = roles[role]
	return ok
}
