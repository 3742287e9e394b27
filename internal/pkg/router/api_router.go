package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/ManuelReschke/SlotFox/app/controllers"
	"github.com/ManuelReschke/SlotFox/internal/pkg/constants"
	"github.com/ManuelReschke/SlotFox/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIRoute, limiter.New(limiter.Config{
		Max:        120,
		Expiration: 1 * time.Minute,
	}), middleware.APIKeyAuth())

	api.Post("/bookings", controllers.HandleCreateBooking)
	// Legacy alias kept for callers of the old path.
	api.Post("/book", controllers.HandleCreateBooking)
	api.Get("/bookings/:id", controllers.HandleGetBooking)
	api.Post("/bookings/:id/cancel", controllers.HandleCancelBooking)

	api.Get("/available-slots", controllers.HandleAvailableSlots)

	api.Get("/businesses/:businessId/profile", controllers.HandleGetBusinessProfile)
	api.Put("/businesses/:businessId/profile", controllers.HandleUpdateBusinessProfile)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
