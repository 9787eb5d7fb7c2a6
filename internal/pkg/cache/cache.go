package cache

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/PayBridge/internal/pkg/env"
)

var (
	client    *redis.Client
	available atomic.Bool
)

// Config is the Redis endpoint used for outcome counters and the webhook
// rate limiter.
type Config struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// ConfigFromEnv reads CACHE_HOST, CACHE_PORT, CACHE_PASSWORD and CACHE_DB.
func ConfigFromEnv() Config {
	return Config{
		Host:     env.GetEnv("CACHE_HOST", "localhost"),
		Port:     env.GetEnvInt("CACHE_PORT", 6379),
		Password: env.GetEnv("CACHE_PASSWORD", ""),
		DB:       env.GetEnvInt("CACHE_DB", 0),
	}
}

func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SetupCache connects to Redis. An unreachable server is not fatal; callers
// check IsAvailable and degrade.
func SetupCache() {
	cfg := ConfigFromEnv()
	client = redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		available.Store(false)
		log.Printf("Warning: Could not connect to Redis cache at %s: %v", cfg.Addr(), err)
		return
	}
	available.Store(true)
	log.Printf("Successfully connected to Redis cache: %s", pong)
}

// GetClient returns the Redis client instance
func GetClient() *redis.Client {
	if client == nil {
		SetupCache()
	}
	return client
}

// IsAvailable reports whether the last SetupCache ping succeeded.
func IsAvailable() bool {
	return available.Load()
}

func Close() error {
	if client == nil {
		return nil
	}
	available.Store(false)
	return client.Close()
}
