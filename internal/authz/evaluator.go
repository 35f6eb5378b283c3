package authz

import (
	"crm-auth-service/internal/model"
)

// Principal is the resolved identity and claims attached to an authenticated
// request. TenantID is the active tenant the session operates under.
type Principal struct {
	UserID      uint
	Email       string
	TenantID    uint
	TenantRole  string
	UserType    string
	IsAdmin     bool
	IsActive    bool
	Permissions model.PermissionSet
}

// Deny reasons surfaced as machine-readable codes. The missing permission
// string itself is deliberately not echoed to clients.
const (
	ReasonInactive          = "inactive"
	ReasonCrossTenant       = "cross_tenant"
	ReasonMissingPermission = "missing_permission"
)

// Decision is the outcome of an authorization check. A Deny is terminal for
// the request.
type Decision struct {
	Allowed bool
	Reason  string
}

// Allow is the positive decision
var Allow = Decision{Allowed: true}

// Deny builds a negative decision with a reason code
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Authorize decides whether a principal may perform an action against a
// resource in the given tenant. The checks run in a fixed order, cheapest and
// most security-critical first, short-circuiting on the first decisive match:
//
//  1. inactive accounts fail closed, dominating every other flag
//  2. cross-tenant access is denied for everyone except platform_admin,
//     which administers all tenants and is exempt from tenant scoping
//  3. platform_admin is allowed unconditionally
//  4. tenant_admin and the is_admin override are allowed within their own
//     tenant; they bypass the permission model by definition
//  5. everything else consults the role's permission set
func Authorize(p Principal, action string, resourceTenantID uint) Decision {
	if !p.IsActive {
		return Deny(ReasonInactive)
	}

	if resourceTenantID != p.TenantID && p.UserType != model.UserTypePlatformAdmin {
		return Deny(ReasonCrossTenant)
	}

	if p.UserType == model.UserTypePlatformAdmin {
		return Allow
	}

	if p.IsAdmin || p.UserType == model.UserTypeTenantAdmin {
		return Allow
	}

	if p.Permissions.Has(action) {
		return Allow
	}

	return Deny(ReasonMissingPermission)
}
