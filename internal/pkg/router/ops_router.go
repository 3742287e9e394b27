package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SlotFox/app/controllers"
	"github.com/ManuelReschke/SlotFox/internal/pkg/constants"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/middleware"
)

// OpsRouter mounts liveness and the opt-in debug surface. Metrics are mounted
// by the application builder since they carry their own auth.
type OpsRouter struct {
}

func (h OpsRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthzRoute, controllers.HandleHealthz)

	if env.GetEnv("DEBUG_ROUTES", "0") == "1" {
		debug := app.Group(constants.DebugRoute, middleware.AdminKeyAuth())
		debug.Get("/bookings/:id", controllers.HandleDebugBooking)
		debug.Get("/stats", controllers.HandleDebugStats)
	}
}

func NewOpsRouter() *OpsRouter {
	return &OpsRouter{}
}
