package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/monitor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/ManuelReschke/SlotFox/app/controllers"
	"github.com/ManuelReschke/SlotFox/app/repository"
	"github.com/ManuelReschke/SlotFox/internal/pkg/booking"
	"github.com/ManuelReschke/SlotFox/internal/pkg/cache"
	"github.com/ManuelReschke/SlotFox/internal/pkg/constants"
	"github.com/ManuelReschke/SlotFox/internal/pkg/database"
	"github.com/ManuelReschke/SlotFox/internal/pkg/env"
	"github.com/ManuelReschke/SlotFox/internal/pkg/logging"
	"github.com/ManuelReschke/SlotFox/internal/pkg/notify"
	"github.com/ManuelReschke/SlotFox/internal/pkg/retryqueue"
	"github.com/ManuelReschke/SlotFox/internal/pkg/router"
	"github.com/ManuelReschke/SlotFox/internal/pkg/tokenvault"
)

var (
	serviceReady    atomic.Bool
	serviceDraining atomic.Bool
)

func main() {
	log := logging.GetLogger()

	app, cleanup := NewApplication()

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()
	go func() {
		<-sigCtx.Done()
		serviceDraining.Store(true)
		log.Info("shutdown signal received, draining")
		if err := app.ShutdownWithTimeout(20 * time.Second); err != nil {
			log.WithError(err).Error("http shutdown failed")
		}
	}()

	serviceReady.Store(true)
	addr := fmt.Sprintf(":%s", env.GetEnv("PORT", "8080"))
	log.Infof("listening on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("listen failed: %v", err)
	}

	cleanup()
	log.Info("shutdown complete")
}

// NewApplication builds the fiber app with every dependency wired. Startup
// aborts on storage or migration failure; missing provider credentials only
// degrade the affected sends.
func NewApplication() (*fiber.App, func()) {
	env.SetupEnvFile()
	log := logging.GetLogger()

	if err := database.SetupDatabase(); err != nil {
		log.Fatalf("database setup failed: %v", err)
	}
	if err := database.Migrate(); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	vault, err := tokenvault.NewFromEnv()
	if err != nil {
		log.Fatalf("token vault setup failed: %v", err)
	}
	if env.GetEnv("RUN_TOKEN_MIGRATION", "0") == "1" {
		n, merr := vault.ReencryptLegacyTokens(database.GetDB())
		if merr != nil {
			log.Fatalf("legacy token re-encryption failed: %v", merr)
		}
		log.Infof("legacy token re-encryption done, %d rows converted", n)
	}

	cache.SetupCache()
	repository.InitializeFactory(database.GetDB())
	repos := repository.GetGlobalRepositories()

	provider, perr := notify.NewTwilioClient()
	if perr != nil {
		log.Warnf("twilio not configured, sends will fail until it is: %v", perr)
		provider = notify.Unconfigured(perr)
	}
	dispatcher := notify.NewDispatcher(provider, repos.SmsLog, repos.EmergencyLog)

	calendars := booking.GoogleCalendars(repos.GoogleToken, vault)
	svc := booking.NewService(repos, calendars, dispatcher)

	controllers.InitializeBookingController(svc)
	controllers.InitializeAvailabilityController(calendars)
	controllers.InitializeOAuthController(vault)
	controllers.InitializeWebhookController(dispatcher, serviceReady.Load, serviceDraining.Load)

	app := fiber.New(fiber.Config{
		AppName:      "SlotFox",
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	})

	app.Use(recover.New(), logger.New(), requestid.New())

	// fiber metrics
	app.Get(constants.MetricsRoute, basicauth.New(basicauth.Config{
		Users: map[string]string{
			"admin": env.GetEnv("METRICS_PASSWORD", "admin"),
		},
	}), monitor.New())

	// SWAGGER / OPENAPI
	openAPICfg := swagger.Config{
		BasePath: constants.DocsAPIRoute,
		FilePath: "./public/docs/v1/openapi.yml",
		Path:     "v1",
	}
	app.Use(swagger.New(openAPICfg))

	// ROUTER
	router.InstallRouter(app)

	var worker *retryqueue.Worker
	if env.GetEnv("RUN_RETRY_WORKER", "0") == "1" {
		worker = retryqueue.NewWorker(repos, dispatcher, calendars).
			WithTickGuard(redislock.New(cache.GetClient()))
		worker.Start()
	}

	cleanup := func() {
		svc.Drain()
		if worker != nil {
			worker.Stop()
		}
	}
	return app, cleanup
}
