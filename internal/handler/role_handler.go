package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CreateRole creates a role scoped to the caller's active tenant. Routes
// using this handler are guarded by the roles:manage authorization check.
func CreateRole(c echo.Context) error {
	log := logger.FromContext(c)

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		Name        string   `json:"name"`
		Permissions []string `json:"permissions"`
	}
	if err := c.Bind(&req); err != nil || req.Name == "" {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "name is required"})
	}

	tenantID := p.TenantID
	role := model.Role{
		TenantID:    &tenantID,
		Name:        req.Name,
		Permissions: model.PermissionSet(req.Permissions),
	}

	defer prometheus.TrackDBOperation("insert")(time.Now())
	if err := db.WithContext(c.Request().Context()).Create(&role).Error; err != nil {
		log.Error("Failed to create role", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "role creation failed"})
	}

	log.Info("Role created",
		zap.String("name", role.Name),
		zap.Uint("tenant_id", tenantID))
	return c.JSON(http.StatusCreated, role)
}

// GetRole returns a role belonging to the caller's active tenant. Platform
// templates (roles with no tenant) are visible to every tenant.
func GetRole(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role ID"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var role model.Role
	result := db.WithContext(c.Request().Context()).
		Where("id = ? AND (tenant_id = ? OR tenant_id IS NULL)", id, p.TenantID).
		First(&role)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
		}
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	return c.JSON(http.StatusOK, role)
}

// UpdateRolePermissions replaces a role's permission set. Only roles scoped
// to the caller's active tenant can be mutated; platform templates are
// read-only here.
func UpdateRolePermissions(c echo.Context) error {
	log := logger.FromContext(c)

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid role ID"})
	}

	var req struct {
		Permissions []string `json:"permissions"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	var role model.Role
	result := db.WithContext(c.Request().Context()).
		Where("id = ? AND tenant_id = ?", id, p.TenantID).
		First(&role)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "role not found"})
		}
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	role.Permissions = model.PermissionSet(req.Permissions)
	if err := db.Save(&role).Error; err != nil {
		log.Error("Failed to update role permissions", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "role update failed"})
	}

	log.Info("Role permissions updated",
		zap.Uint("role_id", role.ID),
		zap.Uint("tenant_id", p.TenantID))
	return c.JSON(http.StatusOK, role)
}
