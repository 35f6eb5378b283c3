package token

import (
	"context"
	"errors"
	"fmt"
	"time"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/jwtutil"

	"gorm.io/gorm"
)

// Pair is an access/refresh token pair returned to the client
type Pair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
}

// Service issues, verifies, and rotates credentials. Access tokens are
// short-lived signed JWTs and are never revocable before their own expiry;
// refresh tokens are opaque, server-tracked, and single-use-rotatable.
type Service struct {
	db         *gorm.DB
	refreshTTL time.Duration
}

// NewService creates a token service backed by the given database
func NewService(db *gorm.DB, refreshTTL time.Duration) *Service {
	return &Service{db: db, refreshTTL: refreshTTL}
}

// Issue mints a new access/refresh pair for the user under the given active
// tenant. The refresh token row is persisted so it can be independently
// revoked.
func (s *Service) Issue(ctx context.Context, user *model.User, tenantID uint, tenantRole string) (*Pair, error) {
	access, err := jwtutil.GenerateToken(user.Email, user.ID, tenantID, tenantRole, user.UserType, user.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("signing access token: %w", err)
	}

	row := model.AuthToken{
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(s.refreshTTL),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, fmt.Errorf("persisting refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  access,
		RefreshToken: row.RefreshToken,
		TokenType:    "Bearer",
		ExpiresIn:    int(jwtutil.AccessTokenTTL().Seconds()),
	}, nil
}

// VerifyAccess validates an access token and returns its claims.
// ErrExpiredToken and ErrInvalidToken are distinguished.
func (s *Service) VerifyAccess(tokenString string) (*jwtutil.UserClaims, error) {
	return jwtutil.ValidateToken(tokenString)
}

// Refresh rotates a refresh token. The old row is claimed with a guarded
// delete inside a transaction: of two concurrent calls with the same value,
// exactly one delete reports an affected row and wins; the loser observes the
// token as already rotated. A value that does not exist is reported as
// revoked rather than not-found so a stolen-then-rotated token and a bogus
// one are indistinguishable to the caller.
func (s *Service) Refresh(ctx context.Context, refreshToken string, resolveTenant func(user *model.User) (uint, string, error)) (*Pair, error) {
	var pair *Pair
	var expiredID uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row model.AuthToken
		if err := tx.Where("refresh_token = ?", refreshToken).First(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return apperr.ErrRevokedToken
			}
			return fmt.Errorf("looking up refresh token: %w", err)
		}

		if row.IsExpired() {
			expiredID = row.ID
			return apperr.ErrExpiredToken
		}

		// The delete is the claim: under concurrent double-use only one
		// transaction sees RowsAffected == 1.
		res := tx.Where("id = ? AND refresh_token = ?", row.ID, refreshToken).Delete(&model.AuthToken{})
		if res.Error != nil {
			return fmt.Errorf("claiming refresh token: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.ErrRevokedToken
		}

		var user model.User
		if err := tx.Preload("Role").First(&user, row.UserID).Error; err != nil {
			return fmt.Errorf("loading token owner: %w", err)
		}
		if !user.IsActive {
			return apperr.ErrInactive
		}

		tenantID, tenantRole, err := resolveTenant(&user)
		if err != nil {
			return err
		}

		access, err := jwtutil.GenerateToken(user.Email, user.ID, tenantID, tenantRole, user.UserType, user.IsAdmin)
		if err != nil {
			return fmt.Errorf("signing access token: %w", err)
		}

		next := model.AuthToken{
			UserID:    user.ID,
			ExpiresAt: time.Now().Add(s.refreshTTL),
		}
		if err := tx.Create(&next).Error; err != nil {
			return fmt.Errorf("persisting rotated refresh token: %w", err)
		}

		pair = &Pair{
			AccessToken:  access,
			RefreshToken: next.RefreshToken,
			TokenType:    "Bearer",
			ExpiresIn:    int(jwtutil.AccessTokenTTL().Seconds()),
		}
		return nil
	})
	if err != nil {
		// The error return rolled the transaction back, so the dead row has
		// to be purged on its own connection.
		if errors.Is(err, apperr.ErrExpiredToken) && expiredID != 0 {
			if derr := s.db.WithContext(ctx).Delete(&model.AuthToken{}, expiredID).Error; derr != nil {
				return nil, fmt.Errorf("purging expired refresh token: %w", derr)
			}
		}
		return nil, err
	}
	return pair, nil
}

// RevokeAll deletes every outstanding refresh token for the user. Used on
// logout and password change. Already-issued access tokens stay valid until
// their own expiry; the short access TTL bounds the exposure.
func (s *Service) RevokeAll(ctx context.Context, userID uint) error {
	return s.RevokeAllTx(s.db.WithContext(ctx), userID)
}

// RevokeAllTx is RevokeAll running inside the caller's transaction, for
// operations that must revoke atomically with another write.
func (s *Service) RevokeAllTx(tx *gorm.DB, userID uint) error {
	res := tx.Where("user_id = ?", userID).Delete(&model.AuthToken{})
	if res.Error != nil {
		return fmt.Errorf("revoking refresh tokens: %w", res.Error)
	}
	return nil
}
