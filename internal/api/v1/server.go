package apiv1

import (
	"strconv"

	"github.com/gofiber/fiber/v2"
)

// ServerInterface represents all server handlers.
type ServerInterface interface {
	// (GET /ping)
	GetPing(c *fiber.Ctx) error
	// (GET /stats)
	GetStats(c *fiber.Ctx) error
	// (POST /sweep)
	PostSweep(c *fiber.Ctx) error
	// (POST /invoices)
	PostInvoice(c *fiber.Ctx) error
	// (GET /events)
	GetEvents(c *fiber.Ctx, params GetEventsParams) error
	// (GET /settings)
	GetSettings(c *fiber.Ctx) error
	// (PUT /settings)
	PutSettings(c *fiber.Ctx) error
}

// ServerInterfaceWrapper converts contexts to parameters.
type ServerInterfaceWrapper struct {
	Handler ServerInterface
}

func (siw *ServerInterfaceWrapper) GetPing(c *fiber.Ctx) error {
	return siw.Handler.GetPing(c)
}

func (siw *ServerInterfaceWrapper) GetStats(c *fiber.Ctx) error {
	return siw.Handler.GetStats(c)
}

func (siw *ServerInterfaceWrapper) PostSweep(c *fiber.Ctx) error {
	return siw.Handler.PostSweep(c)
}

func (siw *ServerInterfaceWrapper) PostInvoice(c *fiber.Ctx) error {
	return siw.Handler.PostInvoice(c)
}

func (siw *ServerInterfaceWrapper) GetEvents(c *fiber.Ctx) error {
	var params GetEventsParams
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": "Invalid format for parameter limit"})
		}
		params.Limit = &limit
	}
	return siw.Handler.GetEvents(c, params)
}

func (siw *ServerInterfaceWrapper) GetSettings(c *fiber.Ctx) error {
	return siw.Handler.GetSettings(c)
}

func (siw *ServerInterfaceWrapper) PutSettings(c *fiber.Ctx) error {
	return siw.Handler.PutSettings(c)
}

// FiberServerOptions provides options for the Fiber server.
type FiberServerOptions struct {
	BaseURL     string
	Middlewares []fiber.Handler
}

// RegisterHandlers creates http.Handler with routing matching OpenAPI spec.
func RegisterHandlers(router fiber.Router, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, FiberServerOptions{})
}

// RegisterHandlersWithOptions creates http.Handler with additional options
func RegisterHandlersWithOptions(router fiber.Router, si ServerInterface, options FiberServerOptions) {
	wrapper := ServerInterfaceWrapper{
		Handler: si,
	}

	for _, m := range options.Middlewares {
		router.Use(m)
	}

	router.Get(options.BaseURL+"/ping", wrapper.GetPing)
	router.Get(options.BaseURL+"/stats", wrapper.GetStats)
	router.Post(options.BaseURL+"/sweep", wrapper.PostSweep)
	router.Post(options.BaseURL+"/invoices", wrapper.PostInvoice)
	router.Get(options.BaseURL+"/events", wrapper.GetEvents)
	router.Get(options.BaseURL+"/settings", wrapper.GetSettings)
	router.Put(options.BaseURL+"/settings", wrapper.PutSettings)
}
