package authz

import (
	"testing"

	"crm-auth-service/internal/model"

	"github.com/stretchr/testify/assert"
)

func activePrincipal(userType string, tenantID uint) Principal {
	return Principal{
		UserID:   1,
		TenantID: tenantID,
		UserType: userType,
		IsActive: true,
	}
}

func TestAuthorize_InactiveDominatesEverything(t *testing.T) {
	for _, userType := range []string{
		model.UserTypePlatformAdmin,
		model.UserTypeTenantAdmin,
		model.UserTypeTeamMember,
		model.UserTypeCustomer,
	} {
		t.Run(userType, func(t *testing.T) {
			p := Principal{
				UserID:      1,
				TenantID:    10,
				UserType:    userType,
				IsAdmin:     true,
				IsActive:    false,
				Permissions: model.PermissionSet{"deals:delete"},
			}
			decision := Authorize(p, "deals:delete", 10)
			assert.False(t, decision.Allowed)
			assert.Equal(t, ReasonInactive, decision.Reason)
		})
	}
}

func TestAuthorize_CrossTenantDeniedForAllButPlatformAdmin(t *testing.T) {
	for _, userType := range []string{
		model.UserTypeTenantAdmin,
		model.UserTypeTeamMember,
		model.UserTypeCustomer,
	} {
		t.Run(userType, func(t *testing.T) {
			p := activePrincipal(userType, 10)
			p.IsAdmin = true
			p.Permissions = model.PermissionSet{"deals:read"}

			decision := Authorize(p, "deals:read", 11)
			assert.False(t, decision.Allowed)
			assert.Equal(t, ReasonCrossTenant, decision.Reason)
		})
	}

	t.Run("platform_admin is exempt from tenant scoping", func(t *testing.T) {
		p := activePrincipal(model.UserTypePlatformAdmin, 10)
		decision := Authorize(p, "deals:read", 11)
		assert.True(t, decision.Allowed)
	})
}

func TestAuthorize_AdminShortCircuits(t *testing.T) {
	t.Run("tenant_admin allowed without permissions", func(t *testing.T) {
		p := activePrincipal(model.UserTypeTenantAdmin, 10)
		assert.True(t, Authorize(p, "deals:delete", 10).Allowed)
	})

	t.Run("is_admin override allowed without permissions", func(t *testing.T) {
		p := activePrincipal(model.UserTypeTeamMember, 10)
		p.IsAdmin = true
		assert.True(t, Authorize(p, "deals:delete", 10).Allowed)
	})
}

func TestAuthorize_PermissionSetMembership(t *testing.T) {
	p := activePrincipal(model.UserTypeTeamMember, 10)
	p.Permissions = model.PermissionSet{"deals:read", "contacts:read"}

	t.Run("member permission allowed", func(t *testing.T) {
		assert.True(t, Authorize(p, "deals:read", 10).Allowed)
	})

	t.Run("missing permission denied", func(t *testing.T) {
		decision := Authorize(p, "deals:delete", 10)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonMissingPermission, decision.Reason)
	})

	t.Run("granting the permission flips the decision", func(t *testing.T) {
		p.Permissions = append(p.Permissions, "deals:delete")
		assert.True(t, Authorize(p, "deals:delete", 10).Allowed)
	})

	t.Run("empty permission set denies everything", func(t *testing.T) {
		bare := activePrincipal(model.UserTypeCustomer, 10)
		decision := Authorize(bare, "deals:read", 10)
		assert.False(t, decision.Allowed)
		assert.Equal(t, ReasonMissingPermission, decision.Reason)
	})
}
