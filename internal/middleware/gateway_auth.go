package middleware

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wordai/api/internal/auth"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/pkg/response"
)

// GatewayAuth reads the caller's identity from the X-User-* headers set by
// the gateway's ForwardAuth call to /auth/verify.
func GatewayAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID := c.Get("X-User-Id")
		if userID == "" {
			return response.Unauthorized(c, "Missing user identity headers")
		}
		setIdentity(c, &auth.Identity{
			UserID: userID,
			Email:  c.Get("X-User-Email"),
			Name:   c.Get("X-User-Name"),
		})
		return c.Next()
	}
}

// RequestContext copies the request id into the user context so service
// and store logs can be correlated with the access log.
func RequestContext() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if rid := c.GetRespHeader(fiber.HeaderXRequestID); rid != "" {
			c.SetUserContext(logging.WithRequestID(c.UserContext(), rid))
		}
		return c.Next()
	}
}
