package tenancy

import (
	"context"
	"errors"
	"fmt"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/internal/model"

	"gorm.io/gorm"
)

// Resolver maps an authenticated user to tenant memberships and validates
// active-tenant selections. With the multi-workspace capability disabled it
// short-circuits to the user's owning tenant.
type Resolver struct {
	db                *gorm.DB
	workspacesEnabled bool
}

// NewResolver creates a tenancy resolver
func NewResolver(db *gorm.DB, workspacesEnabled bool) *Resolver {
	return &Resolver{db: db, workspacesEnabled: workspacesEnabled}
}

// Memberships returns the user's active memberships in stable order: the
// primary membership first, then by join time. Memberships whose tenant has
// been soft-deleted are excluded.
func (r *Resolver) Memberships(ctx context.Context, userID uint) ([]model.UserTenant, error) {
	var memberships []model.UserTenant
	err := r.db.WithContext(ctx).
		Joins("JOIN tenants ON tenants.id = user_tenants.tenant_id AND tenants.deleted_at IS NULL").
		Where("user_tenants.user_id = ? AND user_tenants.active = ?", userID, true).
		Order("user_tenants.is_primary DESC, user_tenants.created_at ASC").
		Preload("Tenant").
		Find(&memberships).Error
	if err != nil {
		return nil, fmt.Errorf("resolving memberships: %w", err)
	}
	return memberships, nil
}

// ActiveTenant resolves the tenant a session should operate under. A claimed
// selection is honored only when it is one of the user's own memberships;
// otherwise the primary membership's tenant is the default. With workspaces
// disabled the user's owning tenant is returned unconditionally.
func (r *Resolver) ActiveTenant(ctx context.Context, user *model.User, claimed *uint) (uint, string, error) {
	if !r.workspacesEnabled {
		return user.TenantID, "", nil
	}

	memberships, err := r.Memberships(ctx, user.ID)
	if err != nil {
		return 0, "", err
	}
	if len(memberships) == 0 {
		// No memberships recorded; the owning tenant is the only context.
		return user.TenantID, "", nil
	}

	if claimed != nil {
		for _, m := range memberships {
			if m.TenantID == *claimed {
				return m.TenantID, m.Role, nil
			}
		}
		return 0, "", apperr.ErrNotAMember
	}

	return memberships[0].TenantID, memberships[0].Role, nil
}

// Switch validates a tenant switch. It never mutates stored state on
// failure: a non-member tenant yields ErrNotAMember and the session's
// selection stands. The caller carries the new selection forward by minting
// a fresh token pair.
func (r *Resolver) Switch(ctx context.Context, user *model.User, tenantID uint) (*model.UserTenant, error) {
	if !r.workspacesEnabled {
		if tenantID == user.TenantID {
			return &model.UserTenant{UserID: user.ID, TenantID: tenantID}, nil
		}
		return nil, apperr.ErrNotAMember
	}

	var membership model.UserTenant
	err := r.db.WithContext(ctx).
		Joins("JOIN tenants ON tenants.id = user_tenants.tenant_id AND tenants.deleted_at IS NULL").
		Where("user_tenants.user_id = ? AND user_tenants.tenant_id = ? AND user_tenants.active = ?", user.ID, tenantID, true).
		First(&membership).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotAMember
		}
		return nil, fmt.Errorf("validating tenant switch: %w", err)
	}
	return &membership, nil
}

// SetPrimary marks a membership as the user's primary tenant. The clear and
// set run in one transaction so exactly one membership stays primary.
func (r *Resolver) SetPrimary(ctx context.Context, userID uint, tenantID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var membership model.UserTenant
		err := tx.Where("user_id = ? AND tenant_id = ? AND active = ?", userID, tenantID, true).
			First(&membership).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrNotAMember
			}
			return fmt.Errorf("validating membership: %w", err)
		}

		if err := tx.Model(&model.UserTenant{}).Where("user_id = ?", userID).
			Update("is_primary", false).Error; err != nil {
			return fmt.Errorf("clearing primary memberships: %w", err)
		}

		membership.IsPrimary = true
		if err := tx.Save(&membership).Error; err != nil {
			return fmt.Errorf("setting primary membership: %w", err)
		}
		return nil
	})
}
