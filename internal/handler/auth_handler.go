package handler

import (
	"errors"
	"net/http"
	"time"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// Login authenticates a user and issues an access/refresh token pair. An
// optional tenant_id selects the active tenant; it must be one of the user's
// memberships, otherwise the primary membership's tenant is used.
func Login(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.LoginCounter.Inc()

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		TenantID *uint  `json:"tenant_id,omitempty"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse login request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	result := db.Where("email = ?", model.NormalizeEmail(req.Email)).First(&user)
	if result.Error != nil {
		log.Warn("User not found", zap.String("email", req.Email))
		prometheus.RecordAuthError("user_not_found")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidCredentials)})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		log.Warn("Invalid password", zap.String("email", user.Email))
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidCredentials)})
	}

	if !user.IsActive {
		log.Warn("Login attempt for inactive account", zap.Uint("user_id", user.ID))
		prometheus.RecordAuthError("inactive_account")
		return c.JSON(http.StatusForbidden, echo.Map{"error": apperr.Code(apperr.ErrInactive)})
	}

	ctx := c.Request().Context()
	tenantID, tenantRole, err := resolver.ActiveTenant(ctx, &user, req.TenantID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotAMember) {
			log.Warn("Login with non-member tenant",
				zap.Uint("user_id", user.ID), zap.Uint("tenant_id", *req.TenantID))
			prometheus.RecordAuthError("tenant_access_denied")
			return c.JSON(http.StatusForbidden, echo.Map{"error": apperr.Code(apperr.ErrNotAMember)})
		}
		log.Error("Failed to resolve active tenant", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	pair, err := tokens.Issue(ctx, &user, tenantID, tenantRole)
	if err != nil {
		log.Error("Failed to issue tokens", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.IncreaseActiveTokens()
	log.Info("User logged in",
		zap.String("email", user.Email),
		zap.Uint("tenant_id", tenantID))

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
		"user": map[string]interface{}{
			"id":        user.ID,
			"email":     user.Email,
			"user_type": user.UserType,
		},
		"tenant": map[string]interface{}{
			"id":   tenantID,
			"role": tenantRole,
		},
	})
}

// Register creates a new user and bootstraps a workspace for them: a tenant,
// the tenant-admin user owning it, and the owner membership marked primary.
func Register(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RegisterCounter.Inc()

	var req struct {
		Email      string `json:"email"`
		Password   string `json:"password"`
		TenantName string `json:"tenant_name"`
	}

	if err := c.Bind(&req); err != nil {
		log.Error("Failed to parse registration request", zap.Error(err))
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	if req.Email == "" || req.Password == "" {
		prometheus.RecordAuthError("incomplete_registration")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "email and password are required"})
	}
	if req.TenantName == "" {
		req.TenantName = req.Email + "'s workspace"
	}

	// Email uniqueness is global and case-insensitive
	defer prometheus.TrackDBOperation("query")(time.Now())
	var existing model.User
	if result := db.Where("email = ?", model.NormalizeEmail(req.Email)).First(&existing); result.Error == nil {
		log.Warn("User already exists", zap.String("email", req.Email))
		prometheus.RecordAuthError("email_already_exists")
		return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		prometheus.RecordAuthError("password_hash_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	var user model.User
	err = db.Transaction(func(tx *gorm.DB) error {
		tenant := model.Tenant{Name: req.TenantName, Active: true}
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}

		user = model.User{
			TenantID: tenant.ID,
			Email:    req.Email,
			Password: string(hashedPassword),
			UserType: model.UserTypeTenantAdmin,
			IsActive: true,
		}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}

		membership := model.UserTenant{
			UserID:    user.ID,
			TenantID:  tenant.ID,
			Role:      model.MembershipOwner,
			IsPrimary: true,
			Active:    true,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		// The pre-check races with concurrent registrations; the unique index
		// is the authority and its violation is still a duplicate, not a
		// server fault.
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			prometheus.RecordAuthError("email_already_exists")
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		log.Error("Failed to create user", zap.Error(err))
		prometheus.RecordAuthError("user_creation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "registration failed"})
	}

	log.Info("User registered", zap.String("email", user.Email), zap.Uint("tenant_id", user.TenantID))
	return c.JSON(http.StatusCreated, echo.Map{
		"message": "User registered successfully",
		"user": map[string]interface{}{
			"id":        user.ID,
			"email":     user.Email,
			"tenant_id": user.TenantID,
		},
	})
}

// Refresh rotates a refresh token for a new access/refresh pair. The old
// token is single-use: a second call with the same value fails with
// revoked_token. An optional tenant_id carries the session's active tenant
// forward; it must still be one of the user's memberships.
func Refresh(c echo.Context) error {
	log := logger.FromContext(c)

	var req struct {
		RefreshToken string `json:"refresh_token"`
		TenantID     *uint  `json:"tenant_id,omitempty"`
	}

	if err := c.Bind(&req); err != nil || req.RefreshToken == "" {
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "refresh_token is required"})
	}

	ctx := c.Request().Context()
	pair, err := tokens.Refresh(ctx, req.RefreshToken, func(user *model.User) (uint, string, error) {
		return resolver.ActiveTenant(ctx, user, req.TenantID)
	})
	if err != nil {
		switch {
		case errors.Is(err, apperr.ErrRevokedToken):
			log.Warn("Refresh with revoked or unknown token")
			prometheus.RecordAuthError("revoked_token")
		case errors.Is(err, apperr.ErrExpiredToken):
			prometheus.RecordAuthError("expired_refresh_token")
		case errors.Is(err, apperr.ErrInactive):
			prometheus.RecordAuthError("inactive_account")
		case errors.Is(err, apperr.ErrNotAMember):
			prometheus.RecordAuthError("tenant_access_denied")
		default:
			log.Error("Refresh failed", zap.Error(err))
			return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
		}
		return c.JSON(apperr.Status(err), echo.Map{"error": apperr.Code(err)})
	}

	prometheus.TokenRefreshCounter.Inc()
	return c.JSON(http.StatusOK, pair)
}

// Logout revokes every outstanding refresh token for the caller. Access
// tokens already in the wild stay valid until their own expiry.
func Logout(c echo.Context) error {
	log := logger.FromContext(c)

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	if err := tokens.RevokeAll(c.Request().Context(), p.UserID); err != nil {
		log.Error("Failed to revoke tokens", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	prometheus.DecreaseActiveTokens()
	log.Info("User logged out", zap.Uint("user_id", p.UserID))
	return c.JSON(http.StatusOK, echo.Map{"message": "logged out"})
}

// ChangePassword verifies the current password, stores the new hash, and
// revokes every refresh token so other sessions must re-authenticate.
func ChangePassword(c echo.Context) error {
	log := logger.FromContext(c)

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}

	if err := c.Bind(&req); err != nil || req.CurrentPassword == "" || req.NewPassword == "" {
		prometheus.RecordAuthError("invalid_request")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "current_password and new_password are required"})
	}

	var user model.User
	if err := db.First(&user, p.UserID).Error; err != nil {
		log.Error("Failed to load user", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.CurrentPassword)); err != nil {
		prometheus.RecordAuthError("invalid_password")
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidCredentials)})
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("Failed to hash password", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "password change failed"})
	}

	// The hash update and the revocation commit together: a failed revocation
	// must not leave other sessions alive against a changed password.
	defer prometheus.TrackDBOperation("update")(time.Now())
	err = db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Update("password", string(hashed)).Error; err != nil {
			return err
		}
		return tokens.RevokeAllTx(tx, user.ID)
	})
	if err != nil {
		log.Error("Failed to change password", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	log.Info("Password changed", zap.Uint("user_id", user.ID))
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed"})
}

// MetricsHandler exposes the Prometheus metrics endpoint
func MetricsHandler(c echo.Context) error {
	handler := prometheus.GetPrometheusHandler()
	handler.ServeHTTP(c.Response(), c.Request())
	return nil
}
