package jwtutil

import (
	"errors"
	"time"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/pkg/config"

	"github.com/golang-jwt/jwt/v4"
)

var (
	secret            []byte
	accessTTL         = 15 * time.Minute
	permissionVersion = 1
)

// Initialize configures the signing key and access-token lifetime
func Initialize(cfg *config.JWTConfig) {
	secret = []byte(cfg.SigningKey)
	if cfg.AccessTokenTTL > 0 {
		accessTTL = cfg.AccessTokenTTL
	}
	if cfg.PermissionVersion > 0 {
		permissionVersion = cfg.PermissionVersion
	}
}

// UserClaims represents the JWT claims for user authentication. TenantID is
// the active tenant the session operates under; switching tenants mints a new
// token rather than mutating server state. PermVersion is bumped when the
// permission model changes so stale tokens can be spotted downstream.
type UserClaims struct {
	Email       string `json:"email"`
	UserID      uint   `json:"user_id"`
	TenantID    uint   `json:"tenant_id"`
	TenantRole  string `json:"tenant_role,omitempty"`
	UserType    string `json:"user_type"`
	IsAdmin     bool   `json:"is_admin"`
	PermVersion int    `json:"perm_version"`
	jwt.RegisteredClaims
}

// GenerateToken creates a signed access token with user and tenant context
func GenerateToken(email string, userID uint, tenantID uint, tenantRole string, userType string, isAdmin bool) (string, error) {
	claims := UserClaims{
		Email:       email,
		UserID:      userID,
		TenantID:    tenantID,
		TenantRole:  tenantRole,
		UserType:    userType,
		IsAdmin:     isAdmin,
		PermVersion: permissionVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(accessTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// ValidateToken validates and parses an access token. Expiry and signature
// failures are distinguished so callers can decide whether a silent refresh
// is worth attempting.
func ValidateToken(tokenString string) (*UserClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, apperr.ErrInvalidToken
		}
		return secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, apperr.ErrExpiredToken
		}
		return nil, apperr.ErrInvalidToken
	}

	if claims, ok := token.Claims.(*UserClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, apperr.ErrInvalidToken
}

// AccessTokenTTL returns the configured access-token lifetime
func AccessTokenTTL() time.Duration {
	return accessTTL
}
