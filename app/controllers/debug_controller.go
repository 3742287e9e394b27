package controllers

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/ManuelReschke/SlotFox/app/repository"
	metrics "github.com/ManuelReschke/SlotFox/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/SlotFox/internal/pkg/sanitize"
	"github.com/ManuelReschke/SlotFox/internal/pkg/statistics"
)

// HandleDebugBooking serves GET /debug/bookings/:id. The route is only
// mounted when DEBUG_ROUTES=1 and sits behind the admin-key middleware; the
// payload itself is PII-masked so even an authorized dump leaks nothing.
func HandleDebugBooking(c *fiber.Ctx) error {
	b, err := repository.GetGlobalFactory().GetBookingRepository().GetByID(c.Params("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "Booking not found")
		}
		return internalError(c)
	}

	raw, err := json.Marshal(b)
	if err != nil {
		return internalError(c)
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return internalError(c)
	}

	return c.JSON(fiber.Map{
		"ok":      true,
		"booking": sanitize.Map(payload),
	})
}

// HandleDebugStats serves GET /debug/stats: ledger aggregates plus the live
// redis counters. With ?business_id the counters narrow to that tenant.
func HandleDebugStats(c *fiber.Ctx) error {
	counters := metrics.Totals()
	if businessID := c.Query("business_id"); businessID != "" {
		counters = metrics.ForBusiness(businessID)
	}

	return c.JSON(fiber.Map{
		"ok":       true,
		"bookings": statistics.GetStatisticsData(),
		"counters": counters,
	})
}
