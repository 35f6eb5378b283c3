package model

import (
	"crypto/rand"
	"encoding/base64"
	"time"

	"gorm.io/gorm"
)

// AuthToken pairs an opaque refresh-token value with its owning user. A row
// exists for every outstanding refresh token; rotation deletes the old row
// and inserts a new one, so a value that is absent has been rotated, revoked,
// or never issued.
type AuthToken struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	UserID       uint      `json:"user_id" gorm:"index;not null"`
	RefreshToken string    `json:"-" gorm:"type:varchar(64);uniqueIndex;not null"`
	ExpiresAt    time.Time `json:"expires_at"`
	CreatedAt    time.Time `json:"created_at"`
}

// BeforeCreate generates the opaque token value if not already set
func (t *AuthToken) BeforeCreate(tx *gorm.DB) error {
	if t.RefreshToken == "" {
		t.RefreshToken = generateSecureToken()
	}
	return nil
}

// IsExpired checks if the token is expired
func (t *AuthToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// generateSecureToken creates a secure random token string
func generateSecureToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		panic(err)
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
