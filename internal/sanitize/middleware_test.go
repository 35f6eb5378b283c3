package sanitize

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runBody(t *testing.T, contentType, body string) (*httptest.ResponseRecorder, string) {
	t.Helper()

	e := echo.New()
	var seen string
	h := BodyMiddleware()(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		require.NoError(t, err)
		seen = string(b)
		return c.NoContent(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	require.NoError(t, h(e.NewContext(req, rec)))
	return rec, seen
}

func TestBodyMiddleware_SanitizesJSONBody(t *testing.T) {
	rec, seen := runBody(t, echo.MIMEApplicationJSON,
		`{"name":"<script>alert(1)</script>","deep":{"url":"javascript:x"}}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, seen, "<script>")
	assert.NotContains(t, seen, "javascript:")
	assert.Contains(t, seen, "scriptalert(1)/script")
}

func TestBodyMiddleware_RejectsInvalidJSON(t *testing.T) {
	rec, _ := runBody(t, echo.MIMEApplicationJSON, `{"name": not-json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed_input")
}

func TestBodyMiddleware_IgnoresNonJSON(t *testing.T) {
	rec, seen := runBody(t, echo.MIMETextPlain, "<b>raw</b>")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "<b>raw</b>", seen)
}
