package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/PayBridge/internal/pkg/cache"
)

// limiterStorageDB keeps limiter keys apart from the outcome counters (DB 0).
const limiterStorageDB = 2

// newLimiter shares hit counts across instances through Redis when it is
// reachable and falls back to in-memory counting otherwise.
func newLimiter(max int, window time.Duration) fiber.Handler {
	cfg := limiter.Config{
		Max:        max,
		Expiration: window,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate_limited"})
		},
	}
	if cache.IsAvailable() {
		cc := cache.ConfigFromEnv()
		cfg.Storage = redis.New(redis.Config{
			Host:     cc.Host,
			Port:     cc.Port,
			Password: cc.Password,
			Database: limiterStorageDB,
			Reset:    false,
		})
	}
	return limiter.New(cfg)
}
