package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/ManuelReschke/PayBridge/internal/api/v1"
	"github.com/ManuelReschke/PayBridge/internal/pkg/middleware"
)

type ApiRouter struct {
	server *apiv1.APIServer
	apiKey string
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", newLimiter(60, time.Minute))
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "PayBridge admin api",
		})
	})

	// API v1 routes
	v1 := api.Group("/v1", middleware.AdminAPIKeyMiddleware(h.apiKey))
	apiv1.RegisterHandlers(v1, h.server)
}

func NewApiRouter(server *apiv1.APIServer, apiKey string) *ApiRouter {
	return &ApiRouter{server: server, apiKey: apiKey}
}
