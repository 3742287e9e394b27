package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SlotFox/internal/pkg/database"
)

// HandleHealthz serves GET /healthz: process liveness plus a database ping.
func HandleHealthz(c *fiber.Ctx) error {
	db := database.GetDB()
	if db == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ok":       false,
			"database": "down",
		})
	}
	sqlDB, err := db.DB()
	if err == nil {
		err = sqlDB.Ping()
	}
	if err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ok":       false,
			"database": "down",
		})
	}
	return c.JSON(fiber.Map{
		"ok":       true,
		"database": "up",
	})
}
