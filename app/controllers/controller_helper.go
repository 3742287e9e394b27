package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/ManuelReschke/SlotFox/internal/pkg/cache"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
)

// RequestID returns the correlation id for this request: the requestid
// middleware value when present, then the X-Request-ID header, then a fresh
// UUID so downstream logs always carry one.
func RequestID(c *fiber.Ctx) string {
	if v, ok := c.Locals("requestid").(string); ok && v != "" {
		return v
	}
	if v := c.Get(fiber.HeaderXRequestID); v != "" {
		return v
	}
	return uuid.NewString()
}

// bustAvailability drops every cached slot listing for a tenant after a write
// that changes its calendar. A cache error only costs freshness.
func bustAvailability(businessID string) {
	if businessID == "" {
		return
	}
	if err := cache.DeletePattern(availabilityCachePrefix + businessID + ":*"); err != nil {
		logging.GetLogger().WithError(err).Debug("availability cache bust failed")
	}
}

func jsonError(c *fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"ok":    false,
		"error": message,
	})
}

func internalError(c *fiber.Ctx) error {
	return jsonError(c, fiber.StatusInternalServerError, "Internal error")
}
