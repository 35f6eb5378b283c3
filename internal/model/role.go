package model

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"
)

// PermissionSet is a set of permission strings stored as a jsonb column.
// Only membership tests matter; ordering is not significant.
type PermissionSet []string

// Has reports whether the set contains the given permission string
func (p PermissionSet) Has(perm string) bool {
	for _, s := range p {
		if s == perm {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer for jsonb storage
func (p PermissionSet) Value() (driver.Value, error) {
	if p == nil {
		return "[]", nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (p *PermissionSet) Scan(value interface{}) error {
	if value == nil {
		*p = PermissionSet{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, p)
	case string:
		return json.Unmarshal([]byte(v), p)
	default:
		return errors.New("unsupported type for PermissionSet")
	}
}

// Role is a named, tenant-scoped bundle of permissions. A role with a nil
// TenantID is a platform-wide template; otherwise its tenant must match the
// tenant of any user referencing it.
type Role struct {
	ID          uint          `json:"id" gorm:"primaryKey"`
	TenantID    *uint         `json:"tenant_id,omitempty" gorm:"index"`
	Name        string        `json:"name" gorm:"type:varchar(100);not null"`
	Permissions PermissionSet `json:"permissions" gorm:"type:jsonb"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
