package router

import (
	"github.com/gofiber/fiber/v2"
)

// Router installs one group of routes.
type Router interface {
	InstallRouter(app *fiber.App)
}

// InstallRouter registers the webhook intake first, then the admin API.
func InstallRouter(app *fiber.App, routers ...Router) {
	setup(app, routers...)
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
