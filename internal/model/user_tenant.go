package model

import (
	"time"

	"gorm.io/gorm"
)

// Membership role labels within a tenant
const (
	MembershipOwner  = "owner"
	MembershipAdmin  = "admin"
	MembershipMember = "member"
)

// UserTenant represents the association between users and tenants. It backs
// the multi-workspace capability: a user may belong to several tenants, has
// exactly one membership marked primary, and the active-tenant selection a
// session operates under must always be one of these rows.
type UserTenant struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	UserID    uint           `json:"user_id" gorm:"index;not null"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Role      string         `json:"role" gorm:"type:varchar(50);not null;default:'member'"`
	IsPrimary bool           `json:"is_primary" gorm:"default:false"`
	Active    bool           `json:"active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	// Relations
	User   User   `json:"user,omitempty" gorm:"foreignKey:UserID"`
	Tenant Tenant `json:"tenant,omitempty" gorm:"foreignKey:TenantID"`
}
