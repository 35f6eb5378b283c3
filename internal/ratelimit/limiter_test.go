package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"crm-auth-service/internal/authz"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestContext(remoteAddr string) echo.Context {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = remoteAddr
	return e.NewContext(req, httptest.NewRecorder())
}

func TestMemoryStore_CountsPerKey(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		count, ttl, err := store.Incr(ctx, "a", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Greater(t, ttl, time.Duration(0))
	}

	// Independent key starts its own window
	count, _, err := store.Incr(ctx, "b", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestMemoryStore_WindowExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, _, err := store.Incr(ctx, "k", time.Minute)
		require.NoError(t, err)
	}

	// Advance past the window; the counter resets
	now = now.Add(61 * time.Second)
	count, _, err := store.Incr(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestLimiter_EnforcesThreshold(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter("auth", store, 15*time.Minute, 10, IPKey(false), time.Second)
	c := newTestContext("203.0.113.7:1234")

	for i := 0; i < 10; i++ {
		result, err := limiter.Allow(context.Background(), c)
		require.NoError(t, err)
		assert.True(t, result.Allowed, "request %d should be under the limit", i+1)
	}

	result, err := limiter.Allow(context.Background(), c)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
	assert.Greater(t, result.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, result.RetryAfter, 15*time.Minute)
}

func TestLimiter_KeysAreIsolated(t *testing.T) {
	store := NewMemoryStore()
	limiter := NewLimiter("api", store, time.Minute, 3, IPKey(false), time.Second)

	clientA := newTestContext("198.51.100.1:1000")
	clientB := newTestContext("198.51.100.2:1000")

	for i := 0; i < 4; i++ {
		_, err := limiter.Allow(context.Background(), clientA)
		require.NoError(t, err)
	}
	resultA, err := limiter.Allow(context.Background(), clientA)
	require.NoError(t, err)
	assert.False(t, resultA.Allowed)

	// Exhausting A's counter leaves B untouched
	resultB, err := limiter.Allow(context.Background(), clientB)
	require.NoError(t, err)
	assert.True(t, resultB.Allowed)
}

func TestKeyChain_FirstNonEmptyWins(t *testing.T) {
	chain := KeyChain(UserKey, IPKey(false))

	t.Run("falls back to IP without a principal", func(t *testing.T) {
		c := newTestContext("192.0.2.9:4321")
		assert.Equal(t, "ip:192.0.2.9", chain(c))
	})

	t.Run("prefers the authenticated user", func(t *testing.T) {
		c := newTestContext("192.0.2.9:4321")
		c.Set("principal", authz.Principal{UserID: 42})
		assert.Equal(t, "user:42", chain(c))
	})
}

func TestIPKey_ForwardedFor(t *testing.T) {
	t.Run("trusted header first hop wins", func(t *testing.T) {
		c := newTestContext("10.0.0.1:9999")
		c.Request().Header.Set("X-Forwarded-For", "203.0.113.50, 10.0.0.1")
		assert.Equal(t, "ip:203.0.113.50", IPKey(true)(c))
	})

	t.Run("untrusted header falls back to peer address", func(t *testing.T) {
		c := newTestContext("10.0.0.1:9999")
		c.Request().Header.Set("X-Forwarded-For", "203.0.113.50")
		assert.Equal(t, "ip:10.0.0.1", IPKey(false)(c))
	})
}

type failingStore struct{}

func (failingStore) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("store unavailable")
}

func TestMiddleware_FailsClosed(t *testing.T) {
	limiter := NewLimiter("auth", failingStore{}, time.Minute, 10, IPKey(false), time.Second)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:1234"
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := limiter.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})
	require.NoError(t, h(c))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestMiddleware_ExemptsPreflight(t *testing.T) {
	limiter := NewLimiter("auth", NewMemoryStore(), time.Minute, 1, IPKey(false), time.Second)

	e := echo.New()
	h := limiter.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	// OPTIONS requests never consume the budget
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:1234"
		rec := httptest.NewRecorder()
		require.NoError(t, h(e.NewContext(req, rec)))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestMiddleware_RetryAfterHeader(t *testing.T) {
	limiter := NewLimiter("strict", NewMemoryStore(), time.Hour, 1, IPKey(false), time.Second)

	e := echo.New()
	h := limiter.Middleware()(func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	first := httptest.NewRequest(http.MethodPost, "/", nil)
	first.RemoteAddr = "198.51.100.3:1000"
	require.NoError(t, h(e.NewContext(first, httptest.NewRecorder())))

	second := httptest.NewRequest(http.MethodPost, "/", nil)
	second.RemoteAddr = "198.51.100.3:1000"
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(second, rec)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "retry_after")
}
