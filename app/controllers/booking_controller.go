package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/booking"
)

var bookingService *booking.Service

// InitializeBookingController wires the orchestrator used by the booking
// handlers. Called once at startup after the repositories are ready.
func InitializeBookingController(svc *booking.Service) {
	bookingService = svc
}

func getBookingService() *booking.Service {
	if bookingService == nil {
		panic("booking controller used before InitializeBookingController")
	}
	return bookingService
}

// HandleCreateBooking serves POST /api/bookings and the legacy /api/book.
func HandleCreateBooking(c *fiber.Ctx) error {
	req, err := booking.ParseRequest(c.Body())
	if err != nil {
		r := booking.InvalidBody()
		return c.Status(r.Status).JSON(r.Body)
	}
	req.RequestID = RequestID(c)

	r := getBookingService().CreateBooking(c.UserContext(), req)
	if r.Status == fiber.StatusOK {
		bustAvailability(req.BusinessID)
	}
	return c.Status(r.Status).JSON(r.Body)
}

// HandleGetBooking serves GET /api/bookings/:id, the status poll for callers
// who received a 202 replay.
func HandleGetBooking(c *fiber.Ctx) error {
	r := getBookingService().GetBooking(c.Params("id"))
	return c.Status(r.Status).JSON(r.Body)
}

// HandleCancelBooking serves POST /api/bookings/:id/cancel.
func HandleCancelBooking(c *fiber.Ctx) error {
	id := c.Params("id")

	// Resolve the tenant before the cancel so the cache bust still knows it
	// after the row changed hands.
	businessID := ""
	if b, err := repository.GetGlobalFactory().GetBookingRepository().GetByID(id); err == nil {
		businessID = b.BusinessID
	}

	r := getBookingService().CancelBooking(c.UserContext(), id, RequestID(c))
	if r.Status == fiber.StatusOK {
		bustAvailability(businessID)
	}
	return c.Status(r.Status).JSON(r.Body)
}
