package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/PayBridge/app/controllers"
	"github.com/ManuelReschke/PayBridge/app/models"
	"github.com/ManuelReschke/PayBridge/app/repository"
	apiv1 "github.com/ManuelReschke/PayBridge/internal/api/v1"
	"github.com/ManuelReschke/PayBridge/internal/pkg/applier"
	"github.com/ManuelReschke/PayBridge/internal/pkg/bridge"
	"github.com/ManuelReschke/PayBridge/internal/pkg/cache"
	"github.com/ManuelReschke/PayBridge/internal/pkg/database"
	"github.com/ManuelReschke/PayBridge/internal/pkg/env"
	"github.com/ManuelReschke/PayBridge/internal/pkg/gateway"
	"github.com/ManuelReschke/PayBridge/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/PayBridge/internal/pkg/middleware"
	"github.com/ManuelReschke/PayBridge/internal/pkg/payment"
	"github.com/ManuelReschke/PayBridge/internal/pkg/router"
	"github.com/ManuelReschke/PayBridge/internal/pkg/s3backup"
	"github.com/ManuelReschke/PayBridge/internal/pkg/scheduler"
	"github.com/ManuelReschke/PayBridge/internal/pkg/telegram"
)

// Application is the wired process: HTTP intake, bridge, applier and bot.
type Application struct {
	App     *fiber.App
	db      *gorm.DB
	bridge  *bridge.Bridge
	manager *scheduler.Manager
	poller  *telegram.Poller
}

func main() {
	a := NewApplication()

	pollCtx, stopPolling := context.WithCancel(context.Background())
	pollDone := make(chan struct{})
	go func() {
		defer close(pollDone)
		if a.poller != nil {
			a.poller.Run(pollCtx)
		}
	}()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := a.App.Listen(addr); err != nil {
			log.Printf("HTTP server stopped: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Printf("Received %s, shutting down", sig)

	if err := a.App.ShutdownWithTimeout(env.GetEnvDuration("HTTP_SHUTDOWN_TIMEOUT", 10*time.Second)); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
	stopPolling()
	<-pollDone
	a.manager.Stop()
	if err := cache.Close(); err != nil {
		log.Printf("Cache close: %v", err)
	}
	if err := database.Close(a.db); err != nil {
		log.Printf("Database close: %v", err)
	}
	log.Println("Shutdown complete")
}

func NewApplication() *Application {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	db := database.GetDB()

	if err := models.LoadSettings(db, settingsFromEnv()); err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}
	settings := models.GetAppSettings

	repos := repository.NewFactory(db).GetRepositories()
	b := bridge.New(settings().GetBridgeCapacity(), settings().GetPublishTimeout())

	var outcomes *counter.Counter
	if cache.IsAvailable() {
		outcomes = counter.New(cache.GetClient(), db)
	}

	svcOpts := payment.Options{
		Verifier: gateway.NewVerifier(gateway.Secrets{
			PathSecret:           env.GetEnv("WEBHOOK_SECRET", ""),
			OxaPayAPIKey:         env.GetEnv("OXAPAY_API_KEY", ""),
			CryptomusAPIKey:      env.GetEnv("CRYPTOMUS_API_KEY", ""),
			CryptomusAllowedIPs:  env.GetEnvList("CRYPTOMUS_ALLOWED_IPS", []string{"91.227.144.54"}),
			NOWPaymentsIPNSecret: env.GetEnv("NOWPAYMENTS_IPN_SECRET", ""),
		}),
		Transactions: repos.Transaction,
		Audit:        repos.WebhookEvent,
		Publisher:    b,
		VIPDuration:  func() time.Duration { return settings().GetVIPDuration() },
	}
	if outcomes != nil {
		svcOpts.Recorder = outcomes
	}
	svc := payment.NewService(svcOpts)

	a := &Application{db: db, bridge: b}

	var notifier applier.Notifier = logNotifier{}
	if token := env.GetEnv("TELEGRAM_BOT_TOKEN", ""); token != "" {
		bot, err := telegram.NewBot(token, env.IsDev())
		if err != nil {
			log.Fatalf("Telegram: %v", err)
		}
		notifier = telegram.NewNotifier(bot, env.GetEnvInt64("ADMIN_ID", 0))
		a.poller = telegram.NewPoller(bot, svc, repos.User)
	} else {
		log.Println("Warning: TELEGRAM_BOT_TOKEN not set, notifications are only logged")
	}

	schedOpts := scheduler.Options{
		Bridge: b,
		Applier: applier.New(applier.Options{
			Transactions: repos.Transaction,
			Users:        repos.User,
			Notifier:     notifier,
			Policy: func() applier.RetryPolicy {
				s := settings()
				return applier.RetryPolicy{
					BaseDelay:   s.GetNotifyBaseDelay(),
					MaxDelay:    s.GetNotifyMaxDelay(),
					MaxAttempts: s.GetNotifyMaxAttempts(),
				}
			},
		}),
		Sweeper: applier.NewSweeper(applier.SweeperOptions{
			Transactions: repos.Transaction,
			Publisher:    b,
			Grace:        func() time.Duration { return settings().GetSweepGrace() },
			VIPDuration:  func() time.Duration { return settings().GetVIPDuration() },
		}),
		SweepInterval: func() time.Duration { return settings().GetSweepInterval() },
		DrainTimeout:  func() time.Duration { return settings().GetDrainTimeout() },
		BackupAt:      uint(env.GetEnvInt("S3_BACKUP_HOUR", 3)),
	}
	if outcomes != nil {
		schedOpts.Counter = outcomes
	}
	if backup := setupBackup(db); backup != nil {
		schedOpts.Backup = backup
	}
	a.manager = scheduler.NewManager(schedOpts)
	if err := a.manager.Start(); err != nil {
		log.Fatalf("Scheduler: %v", err)
	}

	// init fiber app
	app := fiber.New(fiber.Config{
		AppName:   "PayBridge",
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{Generator: uuid.NewString}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${locals:requestid} ${status} - ${latency} ${method} ${path}\n",
	}))

	adminKey := env.GetEnv("ADMIN_API_KEY", "")
	app.Get("/metrics", middleware.AdminAPIKeyMiddleware(adminKey), monitor.New(monitor.Config{Title: "PayBridge Metrics"}))

	// SWAGGER / OPENAPI
	if path := findOpenAPIFile(); path != "" {
		app.Use(swagger.New(swagger.Config{
			BasePath: "/docs/api/",
			FilePath: path,
			Path:     "v1",
		}))
	}

	apiServer := apiv1.NewAPIServer(apiv1.Deps{
		Transactions: repos.Transaction,
		Users:        repos.User,
		Events:       repos.WebhookEvent,
		Sweeper:      a.manager,
		Queue:        b,
		Outcomes:     outcomeStats(outcomes),
		Invoices:     svc,
		Settings:     repos.Setting,
	})

	// ROUTER
	router.InstallRouter(app,
		router.NewWebhookRouter(
			controllers.NewWebhookController(svc, env.GetEnvList("TRUSTED_PROXIES", nil)),
			env.GetEnvInt("WEBHOOK_RATE_LIMIT", 120),
		),
		router.NewApiRouter(apiServer, adminKey),
	)

	a.App = app
	return a
}

// settingsFromEnv seeds the tunables that the settings table does not
// override yet.
func settingsFromEnv() *models.AppSettings {
	d := models.DefaultAppSettings()
	return &models.AppSettings{
		BridgeCapacity:        env.GetEnvInt("BRIDGE_CAPACITY", d.BridgeCapacity),
		PublishTimeoutMillis:  env.GetEnvInt("PUBLISH_TIMEOUT_MILLIS", d.PublishTimeoutMillis),
		SweepIntervalSeconds:  env.GetEnvInt("SWEEP_INTERVAL_SECONDS", d.SweepIntervalSeconds),
		SweepGraceSeconds:     env.GetEnvInt("SWEEP_GRACE_SECONDS", d.SweepGraceSeconds),
		VIPDurationDays:       env.GetEnvInt("VIP_DURATION_DAYS", d.VIPDurationDays),
		NotifyBaseDelayMillis: env.GetEnvInt("NOTIFY_BASE_DELAY_MILLIS", d.NotifyBaseDelayMillis),
		NotifyMaxDelayMillis:  env.GetEnvInt("NOTIFY_MAX_DELAY_MILLIS", d.NotifyMaxDelayMillis),
		NotifyMaxAttempts:     env.GetEnvInt("NOTIFY_MAX_ATTEMPTS", d.NotifyMaxAttempts),
		DrainTimeoutSeconds:   env.GetEnvInt("DRAIN_TIMEOUT_SECONDS", d.DrainTimeoutSeconds),
	}
}

func setupBackup(db *gorm.DB) *s3backup.Backuper {
	cfg, err := s3backup.LoadConfig()
	if err != nil {
		log.Fatalf("S3 backup config: %v", err)
	}
	if !cfg.IsEnabled() {
		return nil
	}
	if database.Driver() != database.DriverSQLite {
		log.Println("Warning: S3 snapshot backup needs the sqlite3 driver, disabled")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client, err := s3backup.NewClient(ctx, cfg)
	if err != nil {
		log.Printf("Warning: S3 backup disabled: %v", err)
		return nil
	}
	return s3backup.NewBackuper(db, client, cfg)
}

// outcomeStats avoids handing a typed nil to the interface.
func outcomeStats(c *counter.Counter) apiv1.OutcomeStats {
	if c == nil {
		return nil
	}
	return c
}

func findOpenAPIFile() string {
	for _, base := range []string{"./", "../../", "../../../"} {
		path := base + "public/docs/v1/openapi.yml"
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// logNotifier stands in for Telegram when no bot token is configured.
type logNotifier struct{}

func (logNotifier) NotifyUser(_ context.Context, userID int64, text string) error {
	log.Printf("[Notify] user %d: %s", userID, text)
	return nil
}

func (logNotifier) NotifyAdmin(_ context.Context, text string) error {
	log.Printf("[Notify] admin: %s", text)
	return nil
}
