package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/PayBridge/app/controllers"
)

type WebhookRouter struct {
	controller *controllers.WebhookController
	rateLimit  int
}

// InstallRouter mounts POST /webhook/:gateway/:secret.
func (w WebhookRouter) InstallRouter(app *fiber.App) {
	hooks := app.Group("/webhook")
	if w.rateLimit > 0 {
		hooks.Use(newLimiter(w.rateLimit, time.Minute))
	}
	hooks.Post("/:gateway/:secret", w.controller.HandleGatewayWebhook)
}

func NewWebhookRouter(controller *controllers.WebhookController, rateLimitPerMinute int) *WebhookRouter {
	return &WebhookRouter{controller: controller, rateLimit: rateLimitPerMinute}
}
