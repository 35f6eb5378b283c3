package sanitize

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/pkg/logger"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// maxBodyBytes bounds how much of a request body the sanitizer will buffer
const maxBodyBytes = 1 << 20

// BodyMiddleware rewrites JSON request bodies through the sanitizer before
// any handler binds them. Bodies that are oversized or not decodable JSON
// are rejected with 400; non-JSON content types pass through untouched.
func BodyMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Body == nil || req.ContentLength == 0 {
				return next(c)
			}
			if !strings.Contains(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
				return next(c)
			}

			log := logger.FromContext(c)

			body, err := io.ReadAll(io.LimitReader(req.Body, maxBodyBytes+1))
			if err != nil {
				log.Error("Failed to read request body", zap.Error(err))
				return c.JSON(http.StatusBadRequest, echo.Map{"error": apperr.Code(apperr.ErrMalformedInput)})
			}
			req.Body.Close()

			if len(body) > maxBodyBytes {
				log.Warn("Request body too large", zap.Int("bytes", len(body)))
				return c.JSON(http.StatusBadRequest, echo.Map{"error": apperr.Code(apperr.ErrMalformedInput)})
			}

			var decoded interface{}
			if err := json.Unmarshal(body, &decoded); err != nil {
				log.Warn("Request body is not valid JSON", zap.Error(err))
				return c.JSON(http.StatusBadRequest, echo.Map{"error": apperr.Code(apperr.ErrMalformedInput)})
			}

			cleaned, err := json.Marshal(Value(decoded))
			if err != nil {
				return c.JSON(http.StatusBadRequest, echo.Map{"error": apperr.Code(apperr.ErrMalformedInput)})
			}

			req.Body = io.NopCloser(bytes.NewReader(cleaned))
			req.ContentLength = int64(len(cleaned))
			return next(c)
		}
	}
}
