package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"crm-auth-service/internal/apperr"
	"crm-auth-service/pkg/logger"
	prom "crm-auth-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Result is the outcome of a limiter check
type Result struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// Limiter is a fixed-window rate limiter over an atomic counter store.
// Limiters are independent: a request may be subject to several at once and
// must pass all of them.
type Limiter struct {
	Name         string
	store        Store
	window       time.Duration
	max          int64
	keyFn        KeyFunc
	storeTimeout time.Duration
}

// NewLimiter creates a named limiter
func NewLimiter(name string, store Store, window time.Duration, max int64, keyFn KeyFunc, storeTimeout time.Duration) *Limiter {
	return &Limiter{
		Name:         name,
		store:        store,
		window:       window,
		max:          max,
		keyFn:        keyFn,
		storeTimeout: storeTimeout,
	}
}

// Allow increments the counter for the request's key and checks the
// threshold. Counter-store failures surface as an error; callers treat that
// as a fail-closed rejection, never as permission.
func (l *Limiter) Allow(ctx context.Context, c echo.Context) (Result, error) {
	key := l.keyFn(c)
	if key == "" {
		// No key means nothing to count against; let the request through.
		return Result{Allowed: true, Remaining: l.max}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, l.storeTimeout)
	defer cancel()

	count, ttl, err := l.store.Incr(ctx, fmt.Sprintf("ratelimit:%s:%s", l.Name, key), l.window)
	if err != nil {
		return Result{}, fmt.Errorf("rate limit counter for %s: %w", l.Name, err)
	}

	if count > l.max {
		return Result{Allowed: false, Remaining: 0, RetryAfter: ttl}, nil
	}
	return Result{Allowed: true, Remaining: l.max - count}, nil
}

// Middleware wraps the limiter as Echo middleware. OPTIONS preflight
// requests are exempt. A rejection carries the Retry-After header and the
// same duration in the body so clients can back off precisely.
func (l *Limiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if c.Request().Method == http.MethodOptions {
				return next(c)
			}

			log := logger.FromContext(c)

			result, err := l.Allow(c.Request().Context(), c)
			if err != nil {
				// Fail closed: an unreachable counter store rejects the
				// request rather than waving it through.
				log.Error("Rate limit store unavailable",
					zap.String("limiter", l.Name), zap.Error(err))
				prom.RecordRateLimited(l.Name)
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       apperr.Code(apperr.ErrRateLimited),
					"retry_after": int(l.window.Seconds()),
				})
			}

			if !result.Allowed {
				log.Warn("Rate limit exceeded",
					zap.String("limiter", l.Name),
					zap.String("ip", c.RealIP()),
					zap.Duration("retry_after", result.RetryAfter))
				prom.RecordRateLimited(l.Name)
				retryAfter := int(result.RetryAfter.Seconds())
				if retryAfter < 1 {
					retryAfter = 1
				}
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%d", retryAfter))
				return c.JSON(http.StatusTooManyRequests, echo.Map{
					"error":       apperr.Code(apperr.ErrRateLimited),
					"retry_after": retryAfter,
				})
			}

			return next(c)
		}
	}
}
