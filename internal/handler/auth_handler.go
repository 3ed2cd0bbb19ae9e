package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/wordai/api/internal/auth"
)

// AuthHandler handles ForwardAuth verification for the API gateway
type AuthHandler struct {
	auth *auth.Authenticator
}

// NewAuthHandler creates a new auth handler for ForwardAuth verification
func NewAuthHandler(a *auth.Authenticator) *AuthHandler {
	return &AuthHandler{auth: a}
}

// Verify handles GET /auth/verify, called by Traefik ForwardAuth.
// Returns 200 with X-User-* headers on success, 401 on failure.
func (h *AuthHandler) Verify(c *fiber.Ctx) error {
	id, err := h.auth.AuthenticateHeader(c.Get(fiber.HeaderAuthorization))
	if err != nil {
		return c.SendStatus(fiber.StatusUnauthorized)
	}

	c.Set("X-User-Id", id.UserID)
	c.Set("X-User-Email", id.Email)
	if id.Name != "" {
		c.Set("X-User-Name", id.Name)
	}
	return c.SendStatus(fiber.StatusOK)
}
