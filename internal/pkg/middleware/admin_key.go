package middleware

import (
	"crypto/subtle"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
)

// AdminKeyAuth guards the debug surface: X-Admin-Key must equal
// DEBUG_ADMIN_KEY. An empty DEBUG_ADMIN_KEY keeps the routes closed even when
// they are mounted.
func AdminKeyAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		required := env.GetEnv("DEBUG_ADMIN_KEY", "")
		provided := c.Get("X-Admin-Key")
		if required == "" || subtle.ConstantTimeCompare([]byte(provided), []byte(required)) != 1 {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"ok":    false,
				"error": "Unauthorized",
			})
		}
		return c.Next()
	}
}
