package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/internal/authz"
	"crm-auth-service/internal/model"
	"crm-auth-service/internal/token"
	"crm-auth-service/pkg/logger"
	"crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// PrincipalKey is the context key the resolved principal is stored under
const PrincipalKey = "principal"

// PrincipalFrom returns the principal resolved by the Auth middleware
func PrincipalFrom(c echo.Context) (authz.Principal, bool) {
	p, ok := c.Get(PrincipalKey).(authz.Principal)
	return p, ok
}

// Auth validates the bearer token, resolves the principal (including the
// role's permission set, loaded fresh so permission edits take effect without
// reissuing tokens), and attaches it to the request context. An expired token
// is flagged in the response body so clients know a silent refresh is worth
// attempting.
func Auth(tokens *token.Service, db *gorm.DB) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				prometheus.RecordAuthError("missing_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidToken)})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
				prometheus.RecordAuthError("invalid_auth_format")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidToken)})
			}

			claims, err := tokens.VerifyAccess(parts[1])
			if err != nil {
				if errors.Is(err, apperr.ErrExpiredToken) {
					prometheus.RecordAuthError("expired_token")
					return c.JSON(http.StatusUnauthorized, echo.Map{
						"error":   apperr.Code(apperr.ErrExpiredToken),
						"expired": true,
					})
				}
				log.Warn("Invalid access token", zap.Error(err))
				prometheus.RecordAuthError("invalid_token")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidToken)})
			}

			var user model.User
			if err := db.WithContext(c.Request().Context()).Preload("Role").First(&user, claims.UserID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					prometheus.RecordAuthError("user_not_found")
					return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidToken)})
				}
				// Fail closed on persistence trouble.
				log.Error("Failed to load principal", zap.Error(err))
				return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "service unavailable"})
			}

			// A deactivated account is rejected here, before any handler runs,
			// so outstanding access tokens stop working the moment the flag
			// flips rather than at their natural expiry.
			if !user.IsActive {
				log.Warn("Request from deactivated account", zap.Uint("user_id", user.ID))
				prometheus.RecordAuthError("inactive_account")
				return c.JSON(http.StatusForbidden, echo.Map{"error": apperr.Code(apperr.ErrInactive)})
			}

			principal := authz.Principal{
				UserID:     user.ID,
				Email:      user.Email,
				TenantID:   claims.TenantID,
				TenantRole: claims.TenantRole,
				UserType:   user.UserType,
				IsAdmin:    user.IsAdmin,
				IsActive:   user.IsActive,
			}
			if user.Role != nil {
				principal.Permissions = user.Role.Permissions
			}

			c.Set(PrincipalKey, principal)
			c.Set("user_id", user.ID)
			c.Set("email", user.Email)

			// Propagate tenant context to downstream services
			c.Request().Header.Set("X-Tenant-ID", fmt.Sprintf("%d", claims.TenantID))
			c.Request().Header.Set("X-User-Type", user.UserType)

			return next(c)
		}
	}
}

// RequireTenantContext rejects requests whose principal carries no active
// tenant
func RequireTenantContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, ok := PrincipalFrom(c)
		if !ok || p.TenantID == 0 {
			prometheus.RecordAuthError("missing_tenant_context")
			return c.JSON(http.StatusForbidden, echo.Map{"error": "tenant context required"})
		}
		return next(c)
	}
}

// Authorize guards a route with the decision table. The resource tenant is
// the tenant_id path parameter when the route has one, otherwise the
// principal's own active tenant. A Deny is terminal and surfaces as 403 with
// a machine-readable reason; which permission was missing is not echoed.
func Authorize(action string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			log := logger.FromContext(c)

			p, ok := PrincipalFrom(c)
			if !ok {
				prometheus.RecordAuthError("missing_principal")
				return c.JSON(http.StatusUnauthorized, echo.Map{"error": apperr.Code(apperr.ErrInvalidToken)})
			}

			resourceTenantID := p.TenantID
			if raw := c.Param("tenant_id"); raw != "" {
				id, err := strconv.ParseUint(raw, 10, 32)
				if err != nil {
					return c.JSON(http.StatusBadRequest, echo.Map{"error": apperr.Code(apperr.ErrMalformedInput)})
				}
				resourceTenantID = uint(id)
			}

			decision := authz.Authorize(p, action, resourceTenantID)
			if !decision.Allowed {
				prometheus.RecordAuthzDenial(decision.Reason)
				log.Warn("Authorization denied",
					zap.Uint("user_id", p.UserID),
					zap.String("action", action),
					zap.String("reason", decision.Reason))
				return c.JSON(http.StatusForbidden, echo.Map{"error": decision.Reason})
			}

			if p.UserType == model.UserTypePlatformAdmin && resourceTenantID != p.TenantID {
				// Cross-tenant platform-admin actions are always audit-logged.
				log.Info("Platform admin cross-tenant action",
					zap.Uint("user_id", p.UserID),
					zap.String("action", action),
					zap.Uint("tenant_id", resourceTenantID))
			}

			return next(c)
		}
	}
}
