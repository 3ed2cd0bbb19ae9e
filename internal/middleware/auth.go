package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/wordai/api/internal/auth"
	"github.com/wordai/api/internal/logging"
	"github.com/wordai/api/pkg/response"
)

const (
	localUserID = "userId"
	localEmail  = "email"
	localName   = "name"
)

// Authenticate validates the bearer token and stores the caller's identity
// in the request locals and user context.
func Authenticate(a *auth.Authenticator) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, err := a.AuthenticateHeader(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			msg := "Invalid or expired token"
			switch {
			case errors.Is(err, auth.ErrMissingToken):
				msg = "Missing authorization header"
			case errors.Is(err, auth.ErrMalformedHeader):
				msg = "Invalid authorization header format"
			case errors.Is(err, auth.ErrAuthNotConfigured):
				msg = "Authentication not configured"
			}
			return response.Unauthorized(c, msg)
		}
		setIdentity(c, id)
		return c.Next()
	}
}

// AuthenticateQuery is Authenticate for WebSocket upgrades, where browsers
// cannot set headers: the token may also come from ?token=.
func AuthenticateQuery(a *auth.Authenticator) fiber.Handler {
	header := Authenticate(a)
	return func(c *fiber.Ctx) error {
		token := c.Query("token")
		if c.Get(fiber.HeaderAuthorization) != "" || token == "" {
			return header(c)
		}
		id, err := a.Authenticate(token)
		if err != nil {
			return response.Unauthorized(c, "Invalid or expired token")
		}
		setIdentity(c, id)
		return c.Next()
	}
}

func setIdentity(c *fiber.Ctx, id *auth.Identity) {
	c.Locals(localUserID, id.UserID)
	c.Locals(localEmail, id.Email)
	c.Locals(localName, id.Name)
	c.SetUserContext(logging.WithOwnerID(c.UserContext(), id.UserID))
}

// GetUserID extracts user ID from context
func GetUserID(c *fiber.Ctx) string {
	if userID, ok := c.Locals(localUserID).(string); ok {
		return userID
	}
	return ""
}

// GetUserEmail extracts user email from context
func GetUserEmail(c *fiber.Ctx) string {
	if email, ok := c.Locals(localEmail).(string); ok {
		return email
	}
	return ""
}
