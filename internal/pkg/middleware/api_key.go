package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
)

// APIKeyAuth gates the /api group when API_KEY is set. Without the env var
// the API is open, the development default.
func APIKeyAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		required := env.GetEnv("API_KEY", "")
		if required == "" {
			return c.Next()
		}
		provided := extractAPIKeyFromHeader(c)
		if provided != "" && subtle.ConstantTimeCompare([]byte(provided), []byte(required)) == 1 {
			return c.Next()
		}
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"ok":    false,
			"error": "Missing or invalid API key",
		})
	}
}

func extractAPIKeyFromHeader(c *fiber.Ctx) string {
	if apiKey := strings.TrimSpace(c.Get("X-API-Key")); apiKey != "" {
		return apiKey
	}
	auth := strings.TrimSpace(c.Get(fiber.HeaderAuthorization))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
