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
	"gorm.io/gorm"
)

// ListTenants returns the caller's workspace memberships, primary first
func ListTenants(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("list")

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	memberships, err := resolver.Memberships(c.Request().Context(), p.UserID)
	if err != nil {
		log.Error("Failed to retrieve memberships", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	type TenantResponse struct {
		ID        uint      `json:"id"`
		Name      string    `json:"name"`
		Role      string    `json:"role"`
		IsPrimary bool      `json:"is_primary"`
		IsActive  bool      `json:"is_active"`
		JoinedAt  time.Time `json:"joined_at"`
	}

	response := make([]TenantResponse, 0, len(memberships))
	for _, m := range memberships {
		response = append(response, TenantResponse{
			ID:        m.TenantID,
			Name:      m.Tenant.Name,
			Role:      m.Role,
			IsPrimary: m.IsPrimary,
			IsActive:  m.TenantID == p.TenantID,
			JoinedAt:  m.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, response)
}

// SwitchTenant validates the requested tenant against the caller's
// memberships and mints a fresh token pair carrying the new active tenant.
// A non-member tenant yields 403 and the current session is untouched.
func SwitchTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("switch")

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		TenantID uint `json:"tenant_id"`
	}
	if err := c.Bind(&req); err != nil || req.TenantID == 0 {
		prometheus.RecordAuthError("invalid_tenant_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant_id is required"})
	}

	ctx := c.Request().Context()

	var user model.User
	if err := db.WithContext(ctx).First(&user, p.UserID).Error; err != nil {
		log.Error("Failed to load user", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	// Minting a fresh pair is a credential operation; a deactivated account
	// must not be able to extend its session lifetime through it.
	if !user.IsActive {
		prometheus.RecordAuthError("inactive_account")
		return c.JSON(http.StatusForbidden, echo.Map{"error": apperr.Code(apperr.ErrInactive)})
	}

	membership, err := resolver.Switch(ctx, &user, req.TenantID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotAMember) {
			log.Warn("Unauthorized tenant switch attempt",
				zap.Uint("user_id", p.UserID),
				zap.Uint("tenant_id", req.TenantID))
			prometheus.RecordAuthError("tenant_access_denied")
			return c.JSON(http.StatusForbidden, echo.Map{"error": apperr.Code(apperr.ErrNotAMember)})
		}
		log.Error("Failed to validate tenant switch", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	// The new selection is carried in the token pair; per-tenant caches held
	// by downstream consumers are theirs to invalidate on seeing it.
	pair, err := tokens.Issue(ctx, &user, membership.TenantID, membership.Role)
	if err != nil {
		log.Error("Failed to issue tokens", zap.Error(err))
		prometheus.RecordAuthError("token_generation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "token error"})
	}

	prometheus.IncreaseActiveTokens()
	log.Info("User switched tenant",
		zap.Uint("user_id", p.UserID),
		zap.Uint("tenant_id", req.TenantID))

	return c.JSON(http.StatusOK, echo.Map{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"token_type":    pair.TokenType,
		"expires_in":    pair.ExpiresIn,
		"tenant": map[string]interface{}{
			"id":   membership.TenantID,
			"role": membership.Role,
		},
	})
}

// SetPrimaryTenant marks one of the caller's memberships as primary
func SetPrimaryTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("set_primary")

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		TenantID uint `json:"tenant_id"`
	}
	if err := c.Bind(&req); err != nil || req.TenantID == 0 {
		prometheus.RecordAuthError("invalid_tenant_id")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "tenant_id is required"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := resolver.SetPrimary(c.Request().Context(), p.UserID, req.TenantID); err != nil {
		if errors.Is(err, apperr.ErrNotAMember) {
			prometheus.RecordAuthError("tenant_access_denied")
			return c.JSON(http.StatusForbidden, echo.Map{"error": apperr.Code(apperr.ErrNotAMember)})
		}
		log.Error("Failed to set primary tenant", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	log.Info("Set primary tenant",
		zap.Uint("user_id", p.UserID),
		zap.Uint("tenant_id", req.TenantID))
	return c.JSON(http.StatusOK, echo.Map{
		"message":   "Primary tenant set successfully",
		"tenant_id": req.TenantID,
	})
}

// CreateTenant creates a new workspace owned by the caller, with an owner
// membership. The first workspace a user creates becomes their primary.
func CreateTenant(c echo.Context) error {
	log := logger.FromContext(c)
	prometheus.RecordTenantOperation("create")

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		Name string `json:"name"`
	}
	if err := c.Bind(&req); err != nil || req.Name == "" {
		prometheus.RecordAuthError("incomplete_tenant_creation")
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())

	var tenant model.Tenant
	err := db.WithContext(c.Request().Context()).Transaction(func(tx *gorm.DB) error {
		tenant = model.Tenant{Name: req.Name, Active: true}
		if err := tx.Create(&tenant).Error; err != nil {
			return err
		}

		var existing int64
		if err := tx.Model(&model.UserTenant{}).Where("user_id = ?", p.UserID).Count(&existing).Error; err != nil {
			return err
		}

		membership := model.UserTenant{
			UserID:    p.UserID,
			TenantID:  tenant.ID,
			Role:      model.MembershipOwner,
			IsPrimary: existing == 0,
			Active:    true,
		}
		return tx.Create(&membership).Error
	})
	if err != nil {
		log.Error("Failed to create tenant", zap.Error(err))
		prometheus.RecordAuthError("tenant_creation_failed")
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "tenant creation failed"})
	}

	log.Info("Tenant created",
		zap.String("name", tenant.Name),
		zap.Uint("id", tenant.ID),
		zap.Uint("owner_id", p.UserID))

	return c.JSON(http.StatusCreated, echo.Map{
		"message": "Tenant created successfully",
		"tenant":  tenant,
	})
}
