package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SlotFox/app/controllers"
	"github.com/ManuelReschke/SlotFox/internal/pkg/constants"
)

// AuthRouter mounts the per-tenant Google consent flow. These routes are hit
// by operators and by Google's redirect, never by booking clients, so they
// sit outside the /api group and its key check.
type AuthRouter struct {
}

func (h AuthRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.GoogleBusinessAuthRoute, controllers.HandleGoogleBusinessAuth)
	app.Get(constants.GoogleCallbackRoute, controllers.HandleGoogleCallback)
}

func NewAuthRouter() *AuthRouter {
	return &AuthRouter{}
}
