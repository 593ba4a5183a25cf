package middleware

import (
    "net/http"
    "net/http/httptest"
    "testing"

    "github.com/labstack/echo/v4"
    "github.com/stretchr/testify/assert"

    "github.com/museovivo/robot-tour-server/internal/config"
)

func newTestContext() echo.Context {
    e := echo.New()
    req := httptest.NewRequest(http.MethodGet, "/robot/status", nil)
    return e.NewContext(req, httptest.NewRecorder())
}

func TestUserIDFromContext(t *testing.T) {
    c := newTestContext()
    assert.Equal(t, "guest", userID(c))

    // JWTAuth stores the raw sub claim, which decodes as a float64.
    c.Set("user_id", float64(42))
    assert.Equal(t, "42", userID(c))

    c = newTestContext()
    c.Set("user_id", "7")
    assert.Equal(t, "7", userID(c))

    c = newTestContext()
    c.Set("user_id", uint64(9))
    assert.Equal(t, "9", userID(c))
}

func TestRateKeyUsesAuthenticatedUser(t *testing.T) {
    cfg := config.RateLimitConfig{Prefix: "rl", KeyStrategy: "user"}

    c := newTestContext()
    c.Set("user_id", float64(42))
    assert.Equal(t, "rl:user:42", buildRateKey(cfg, c))

    c = newTestContext()
    assert.Equal(t, "rl:user:guest", buildRateKey(cfg, c))
}
