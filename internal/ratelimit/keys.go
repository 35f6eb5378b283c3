package ratelimit

import (
	"net"
	"strconv"
	"strings"

	"crm-auth-service/internal/authz"

	"github.com/labstack/echo/v4"
)

// KeyFunc extracts the counter key for a request. An empty string means the
// extractor has nothing to offer for this request.
type KeyFunc func(c echo.Context) string

// KeyChain tries each extractor in order and returns the first non-empty
// key. The fallback between "authenticated user" and "client IP" is an
// explicit, testable strategy rather than an inline branch.
func KeyChain(extractors ...KeyFunc) KeyFunc {
	return func(c echo.Context) string {
		for _, extract := range extractors {
			if key := extract(c); key != "" {
				return key
			}
		}
		return ""
	}
}

// UserKey keys by the authenticated principal, when one has been resolved
func UserKey(c echo.Context) string {
	p, ok := c.Get("principal").(authz.Principal)
	if !ok {
		return ""
	}
	return "user:" + strconv.FormatUint(uint64(p.UserID), 10)
}

// IPKey keys by client IP. When the forwarded-for header is trusted its
// first hop wins; the transport-level peer address is the fallback.
func IPKey(trustForwarded bool) KeyFunc {
	return func(c echo.Context) string {
		if trustForwarded {
			if fwd := c.Request().Header.Get("X-Forwarded-For"); fwd != "" {
				first := strings.TrimSpace(strings.Split(fwd, ",")[0])
				if first != "" {
					return "ip:" + first
				}
			}
		}
		host, _, err := net.SplitHostPort(c.Request().RemoteAddr)
		if err != nil {
			return "ip:" + c.Request().RemoteAddr
		}
		return "ip:" + host
	}
}
