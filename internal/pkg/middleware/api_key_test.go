package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGuardedApp(key string) *fiber.App {
	app := fiber.New()
	app.Get("/admin", AdminAPIKeyMiddleware(key), func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	return app
}

func TestAdminAPIKeyMiddleware(t *testing.T) {
	cases := []struct {
		name   string
		key    string
		header string
		value  string
		want   int
	}{
		{"x-api-key", "s3cret", "X-API-Key", "s3cret", fiber.StatusOK},
		{"bearer", "s3cret", "Authorization", "Bearer s3cret", fiber.StatusOK},
		{"wrong key", "s3cret", "X-API-Key", "nope", fiber.StatusUnauthorized},
		{"missing", "s3cret", "", "", fiber.StatusUnauthorized},
		{"basic auth is not a key", "s3cret", "Authorization", "Basic s3cret", fiber.StatusUnauthorized},
		{"disabled", "", "X-API-Key", "anything", fiber.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(fiber.MethodGet, "/admin", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			resp, err := newGuardedApp(tc.key).Test(req)
			require.NoError(t, err)
			assert.Equal(t, tc.want, resp.StatusCode)
		})
	}
}
