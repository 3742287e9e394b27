package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/SlotFox/app/controllers"
	"github.com/ManuelReschke/SlotFox/internal/pkg/constants"
)

// WebhookRouter mounts provider callbacks. Twilio retries failed deliveries,
// so the handler behind this route dedupes on the call SID.
type WebhookRouter struct {
}

func (h WebhookRouter) InstallRouter(app *fiber.App) {
	app.Post(constants.TwilioCallStatusRoute, controllers.HandleTwilioCallStatus)
}

func NewWebhookRouter() *WebhookRouter {
	return &WebhookRouter{}
}
