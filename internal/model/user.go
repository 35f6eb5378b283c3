package model

import (
	"strings"
	"time"

	"gorm.io/gorm"
)

// User types. platform_admin administers every tenant and is exempt from
// tenant scoping; tenant_admin and the is_admin flag bypass the fine-grained
// permission model within their own tenant only.
const (
	UserTypePlatformAdmin = "platform_admin"
	UserTypeTenantAdmin   = "tenant_admin"
	UserTypeTeamMember    = "team_member"
	UserTypeCustomer      = "customer"
)

// User represents the user model stored in the database. Email uniqueness is
// global and case-insensitive: the column always holds the lower-cased form.
// Users are never hard-deleted; IsActive=false deactivates the account and
// makes every authorization check fail closed.
type User struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	TenantID  uint           `json:"tenant_id" gorm:"index;not null"`
	Email     string         `json:"email" gorm:"type:varchar(100);uniqueIndex;not null"`
	Password  string         `json:"-" gorm:"type:varchar(255)"`
	RoleID    *uint          `json:"role_id,omitempty" gorm:"index"`
	UserType  string         `json:"user_type" gorm:"type:varchar(30);not null;default:'team_member'"`
	IsAdmin   bool           `json:"is_admin" gorm:"default:false"`
	IsActive  bool           `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`

	Role *Role `json:"role,omitempty" gorm:"foreignKey:RoleID"`
}

// BeforeSave folds the email to its canonical lower-cased form
func (u *User) BeforeSave(tx *gorm.DB) error {
	u.Email = NormalizeEmail(u.Email)
	return nil
}

// NormalizeEmail returns the canonical form used for uniqueness and lookup
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
