package model

import (
	"time"

	"gorm.io/gorm"
)

// Tenant is the isolation boundary for all business data. A tenant is
// soft-deleted on cancellation and must never be resolved afterwards; the
// gorm.DeletedAt marker keeps soft-deleted rows out of every default query.
type Tenant struct {
	ID        uint           `json:"id" gorm:"primaryKey"`
	Name      string         `json:"name" gorm:"type:varchar(100);not null"`
	PackageID *uint          `json:"package_id,omitempty" gorm:"index"`
	Active    bool           `json:"active" gorm:"default:true"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}
