package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wordai/api/internal/auth"
)

func newApp(handlers ...fiber.Handler) *fiber.App {
	app := fiber.New()
	handlers = append(handlers, func(c *fiber.Ctx) error {
		return c.SendString(GetUserID(c))
	})
	app.Get("/", handlers...)
	return app
}

func TestAuthenticate(t *testing.T) {
	a := auth.NewAuthenticator(nil, "secret")
	app := newApp(Authenticate(a))

	token, err := auth.IssueLegacyToken("secret", "u1", "", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestGatewayAuth(t *testing.T) {
	app := newApp(GatewayAuth())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-User-Id", "u7")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest("GET", "/", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRateLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	log := zerolog.Nop()
	rl := NewRateLimiter(rdb, &log)
	app := newApp(GatewayAuth(), rl.SubmitLimit(2))

	do := func(user string) int {
		req := httptest.NewRequest("GET", "/", nil)
		req.Header.Set("X-User-Id", user)
		resp, err := app.Test(req)
		require.NoError(t, err)
		return resp.StatusCode
	}

	assert.Equal(t, fiber.StatusOK, do("u1"))
	assert.Equal(t, fiber.StatusOK, do("u1"))
	assert.Equal(t, fiber.StatusTooManyRequests, do("u1"))
	assert.Equal(t, fiber.StatusOK, do("u2"))

	assert.Equal(t, time.Hour, mr.TTL("ratelimit:submit:u1"))

	mr.FastForward(time.Hour)
	assert.Equal(t, fiber.StatusOK, do("u1"))
}
