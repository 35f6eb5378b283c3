package handler

import (
	"errors"
	"net/http"
	"time"

	"crm-auth-service/internal/middleware"
	"crm-auth-service/internal/model"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// GetProfile returns the caller's own user record with role
func GetProfile(c echo.Context) error {
	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	defer prometheus.TrackDBOperation("query")(time.Now())
	var user model.User
	if err := db.WithContext(c.Request().Context()).Preload("Role").First(&user, p.UserID).Error; err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	return c.JSON(http.StatusOK, user)
}

// UpdateProfile lets users update their own mutable fields. Email changes go
// through the same case-insensitive uniqueness rule as registration. Bodies
// have already passed the sanitizer.
func UpdateProfile(c echo.Context) error {
	log := logger.FromContext(c)

	p, ok := middleware.PrincipalFrom(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "authentication required"})
	}

	var req struct {
		Email *string `json:"email,omitempty"`
	}
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request"})
	}

	var user model.User
	if err := db.First(&user, p.UserID).Error; err != nil {
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
	}

	if req.Email != nil && model.NormalizeEmail(*req.Email) != user.Email {
		normalized := model.NormalizeEmail(*req.Email)
		var existing model.User
		if result := db.Where("email = ?", normalized).First(&existing); result.Error == nil {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		user.Email = normalized
	}

	defer prometheus.TrackDBOperation("update")(time.Now())
	if err := db.Save(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "email already registered"})
		}
		log.Error("Failed to update profile", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "profile update failed"})
	}

	log.Info("Profile updated", zap.Uint("user_id", user.ID))
	return c.JSON(http.StatusOK, user)
}
