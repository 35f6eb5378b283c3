package apperr

import (
	"errors"
	"net/http"
)

// Terminal, user-facing outcomes of the auth core. None of these are retried
// server-side; ErrExpiredToken is the one kind a client reacts to by calling
// the refresh endpoint, everything else requires re-authentication or is
// simply rejected.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrExpiredToken       = errors.New("token expired")
	ErrRevokedToken       = errors.New("token revoked")
	ErrInactive           = errors.New("account inactive")
	ErrCrossTenant        = errors.New("cross-tenant access denied")
	ErrMissingPermission  = errors.New("missing permission")
	ErrNotAMember         = errors.New("not a member of tenant")
	ErrRateLimited        = errors.New("rate limited")
	ErrMalformedInput     = errors.New("malformed input")
)

// Code returns the stable machine-readable code for a taxonomy error.
// Unrecognized errors map to internal_error.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrExpiredToken):
		return "expired_token"
	case errors.Is(err, ErrRevokedToken):
		return "revoked_token"
	case errors.Is(err, ErrInactive):
		return "inactive"
	case errors.Is(err, ErrCrossTenant):
		return "cross_tenant"
	case errors.Is(err, ErrMissingPermission):
		return "forbidden"
	case errors.Is(err, ErrNotAMember):
		return "not_a_member"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrMalformedInput):
		return "malformed_input"
	default:
		return "internal_error"
	}
}

// Status maps a taxonomy error to its HTTP status. Persistence failures and
// anything unrecognized fail closed as 503, never as success.
func Status(err error) int {
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrExpiredToken),
		errors.Is(err, ErrRevokedToken):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInactive),
		errors.Is(err, ErrCrossTenant),
		errors.Is(err, ErrMissingPermission),
		errors.Is(err, ErrNotAMember):
		return http.StatusForbidden
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrMalformedInput):
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}
