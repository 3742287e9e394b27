package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs one route group on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter mounts every route group: the rate-limited /api surface, the
// Google consent endpoints, the provider webhook and the ops routes.
func InstallRouter(app *fiber.App) {
	setup(app, NewApiRouter(), NewAuthRouter(), NewWebhookRouter(), NewOpsRouter())
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
