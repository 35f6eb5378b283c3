package token

import (
	"context"
	"fmt"
	"testing"
	"time"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/config"
	"crm-auth-service/pkg/jwtutil"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Tenant{}, &model.Role{}, &model.User{}, &model.UserTenant{}, &model.AuthToken{},
	))
	return db
}

func seedUser(t *testing.T, db *gorm.DB) *model.User {
	t.Helper()
	tenant := model.Tenant{Name: "acme", Active: true}
	require.NoError(t, db.Create(&tenant).Error)
	user := model.User{
		TenantID: tenant.ID,
		Email:    "owner@acme.test",
		Password: "x",
		UserType: model.UserTypeTenantAdmin,
		IsActive: true,
	}
	require.NoError(t, db.Create(&user).Error)
	return &user
}

func ownTenant(user *model.User) (uint, string, error) {
	return user.TenantID, model.MembershipOwner, nil
}

func initJWT(t *testing.T, accessTTL time.Duration) {
	t.Helper()
	jwtutil.Initialize(&config.JWTConfig{
		SigningKey:        "test-signing-key",
		AccessTokenTTL:    accessTTL,
		PermissionVersion: 1,
	})
}

func TestIssueAndVerifyAccess(t *testing.T) {
	initJWT(t, 15*time.Minute)
	db := setupDB(t)
	user := seedUser(t, db)
	svc := NewService(db, 24*time.Hour)

	pair, err := svc.Issue(context.Background(), user, user.TenantID, model.MembershipOwner)
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, "Bearer", pair.TokenType)

	claims, err := svc.VerifyAccess(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.UserID)
	assert.Equal(t, user.TenantID, claims.TenantID)
	assert.Equal(t, model.UserTypeTenantAdmin, claims.UserType)
	assert.Equal(t, 1, claims.PermVersion)

	// The refresh row is persisted and owned by the user
	var row model.AuthToken
	require.NoError(t, db.Where("refresh_token = ?", pair.RefreshToken).First(&row).Error)
	assert.Equal(t, user.ID, row.UserID)
}

func TestVerifyAccess_DistinguishesExpiryFromTampering(t *testing.T) {
	db := setupDB(t)
	user := seedUser(t, db)
	svc := NewService(db, 24*time.Hour)

	t.Run("expired", func(t *testing.T) {
		initJWT(t, time.Millisecond)
		pair, err := svc.Issue(context.Background(), user, user.TenantID, "")
		require.NoError(t, err)

		time.Sleep(20 * time.Millisecond)
		_, err = svc.VerifyAccess(pair.AccessToken)
		assert.ErrorIs(t, err, apperr.ErrExpiredToken)
	})

	t.Run("garbage", func(t *testing.T) {
		initJWT(t, 15*time.Minute)
		_, err := svc.VerifyAccess("not-a-token")
		assert.ErrorIs(t, err, apperr.ErrInvalidToken)
	})

	t.Run("wrong key", func(t *testing.T) {
		initJWT(t, 15*time.Minute)
		pair, err := svc.Issue(context.Background(), user, user.TenantID, "")
		require.NoError(t, err)

		jwtutil.Initialize(&config.JWTConfig{SigningKey: "another-key", AccessTokenTTL: 15 * time.Minute})
		_, err = svc.VerifyAccess(pair.AccessToken)
		assert.ErrorIs(t, err, apperr.ErrInvalidToken)
	})
}

func TestRefresh_RotatesSingleUse(t *testing.T) {
	initJWT(t, 15*time.Minute)
	db := setupDB(t)
	user := seedUser(t, db)
	svc := NewService(db, 24*time.Hour)

	pair, err := svc.Issue(context.Background(), user, user.TenantID, model.MembershipOwner)
	require.NoError(t, err)

	next, err := svc.Refresh(context.Background(), pair.RefreshToken, ownTenant)
	require.NoError(t, err)
	assert.NotEmpty(t, next.AccessToken)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	// The original value has been rotated away; a second use must fail
	_, err = svc.Refresh(context.Background(), pair.RefreshToken, ownTenant)
	assert.ErrorIs(t, err, apperr.ErrRevokedToken)

	// The rotated value still works exactly once
	_, err = svc.Refresh(context.Background(), next.RefreshToken, ownTenant)
	require.NoError(t, err)
	_, err = svc.Refresh(context.Background(), next.RefreshToken, ownTenant)
	assert.ErrorIs(t, err, apperr.ErrRevokedToken)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	initJWT(t, 15*time.Minute)
	db := setupDB(t)
	user := seedUser(t, db)
	svc := NewService(db, 24*time.Hour)

	row := model.AuthToken{UserID: user.ID, ExpiresAt: time.Now().Add(-time.Hour)}
	require.NoError(t, db.Create(&row).Error)

	_, err := svc.Refresh(context.Background(), row.RefreshToken, ownTenant)
	assert.ErrorIs(t, err, apperr.ErrExpiredToken)

	// The expired row is also gone
	var count int64
	db.Model(&model.AuthToken{}).Where("id = ?", row.ID).Count(&count)
	assert.Equal(t, int64(0), count)
}

func TestRefresh_UnknownTokenReportsRevoked(t *testing.T) {
	initJWT(t, 15*time.Minute)
	db := setupDB(t)
	svc := NewService(db, 24*time.Hour)

	_, err := svc.Refresh(context.Background(), "never-issued", ownTenant)
	assert.ErrorIs(t, err, apperr.ErrRevokedToken)
}

func TestRefresh_InactiveUserFailsClosed(t *testing.T) {
	initJWT(t, 15*time.Minute)
	db := setupDB(t)
	user := seedUser(t, db)
	svc := NewService(db, 24*time.Hour)

	pair, err := svc.Issue(context.Background(), user, user.TenantID, "")
	require.NoError(t, err)

	require.NoError(t, db.Model(user).Update("is_active", false).Error)

	_, err = svc.Refresh(context.Background(), pair.RefreshToken, ownTenant)
	assert.ErrorIs(t, err, apperr.ErrInactive)
}

func TestRevokeAll(t *testing.T) {
	initJWT(t, 15*time.Minute)
	db := setupDB(t)
	user := seedUser(t, db)
	svc := NewService(db, 24*time.Hour)

	var pairs []*Pair
	for i := 0; i < 3; i++ {
		pair, err := svc.Issue(context.Background(), user, user.TenantID, "")
		require.NoError(t, err)
		pairs = append(pairs, pair)
	}

	require.NoError(t, svc.RevokeAll(context.Background(), user.ID))

	var count int64
	db.Model(&model.AuthToken{}).Where("user_id = ?", user.ID).Count(&count)
	assert.Equal(t, int64(0), count)

	for _, pair := range pairs {
		_, err := svc.Refresh(context.Background(), pair.RefreshToken, ownTenant)
		assert.ErrorIs(t, err, apperr.ErrRevokedToken)

		// Access tokens remain valid until natural expiry
		_, err = svc.VerifyAccess(pair.AccessToken)
		assert.NoError(t, err)
	}
}
