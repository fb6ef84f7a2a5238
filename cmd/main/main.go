package main

// @title Go WhatsApp Bot Host
// @version 1.0.0
// @description Multi-tenant WhatsApp bot host: phone-code pairing, credential persistence, reconnect policy, and an OTP-gated configuration surface

// @host localhost:7001
// @BasePath /

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description JWT Bearer token issued by POST /admin/token

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	resty "github.com/go-resty/resty/v2"
	cron "github.com/robfig/cron/v3"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"

	"github.com/wahost/go-whatsapp-bot-host/pkg/bot"
	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
	"github.com/wahost/go-whatsapp-bot-host/pkg/otp"
	"github.com/wahost/go-whatsapp-bot-host/pkg/router"
	pkgWhatsApp "github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"

	"github.com/wahost/go-whatsapp-bot-host/internal"
)

type Server struct {
	Address string
	Port    string
}

func restyClient() *resty.Client {
	return resty.New().SetTimeout(15 * time.Second)
}

func main() {
	var err error

	// Intialize Cron
	c := cron.New(cron.WithChain(
		cron.Recover(cron.DiscardLogger),
	), cron.WithSeconds())

	// Initialize Fiber
	app := fiber.New(fiber.Config{
		ErrorHandler:   router.HttpErrorHandler,
		BodyLimit:      router.BodyLimitBytes(),
		ReadBufferSize: 8192,
	})

	// Request ID + panic recovery (structured JSON)
	app.Use(router.HttpRequestID())
	app.Use(router.RecoveryMiddleware())

	// Router Compression
	app.Use(compress.New(compress.Config{
		Level: compress.Level(router.GZipLevel),
		Next: func(c *fiber.Ctx) bool {
			return strings.Contains(c.Path(), "docs")
		},
	}))

	// Router CORS
	app.Use(cors.New(cors.Config{
		AllowOrigins: router.CORSOrigin,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET,POST,PUT,PATCH,DELETE",
	}))

	// Router Security
	app.Use(helmet.New(helmet.Config{
		XSSProtection:      "1; mode=block",
		ContentTypeNosniff: "nosniff",
		XFrameOptions:      "SAMEORIGIN",
	}))

	// Router RealIP + request context enrichment
	app.Use(router.HttpRealIP())

	// Open protocol datastore and durable session store. Both are fatal at
	// startup: a bot host without storage cannot honor any request.
	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	container, driver, dsn, err := pkgWhatsApp.OpenDatastore(startCtx)
	if err != nil {
		log.Print(nil).WithError(err).Fatal("Failed to initialize WhatsApp client datastore")
	}
	db, err := pkgWhatsApp.OpenDB(startCtx, driver, dsn)
	if err != nil {
		log.Print(nil).WithError(err).Fatal("Failed to open durable session store")
	}
	store := pkgWhatsApp.NewStore(db, pkgWhatsApp.DefaultConfig())
	if err = store.EnsureSchema(startCtx); err != nil {
		log.Print(nil).WithError(err).Fatal("Failed to ensure session store schema")
	}
	cancelStart()
	log.Print(nil).Info("database is ok")

	// Assemble the session core
	registry := pkgWhatsApp.NewRegistry()
	channels := pkgWhatsApp.NewChannelDirectory()
	manager := pkgWhatsApp.NewManager(container, store, registry, channels)
	otps := otp.NewStore(env.GetEnvDurationOrDefault("OTP_TTL", 5*time.Minute))

	// Command registry, wired back into the manager for message dispatch
	dispatcher := bot.NewDispatcher(manager.IsPrivileged)
	bot.RegisterDefaults(dispatcher, bot.Options{
		HTTP:      restyClient(),
		StartedAt: manager.StartedAt(),
		Uptime:    manager.Uptime,
		About:     manager.About,
		Logout:    manager.Logout,
		Broadcast: manager.Broadcast,
	})
	manager.SetDispatcher(dispatcher)

	deps := internal.Deps{
		Manager:  manager,
		Store:    store,
		Registry: registry,
		Channels: channels,
		OTPs:     otps,
	}

	// Load Internal Routes
	internal.Routes(app, deps)

	// Running Startup Tasks
	go internal.Startup(deps)

	// Running Routines Tasks
	internal.Routines(c, deps)
	c.Start()

	// Get Server Configuration with defaults
	var serverConfig Server
	serverConfig.Address = env.GetEnvStringOrDefault("SERVER_ADDRESS", "0.0.0.0")
	serverConfig.Port = env.GetEnvStringOrDefault("SERVER_PORT", "7001")

	// Start Server
	go func() {
		if err := app.Listen(serverConfig.Address + ":" + serverConfig.Port); err != nil {
			log.Print(nil).Fatal(err.Error())
		}
	}()

	// Watch for Shutdown Signal
	sigShutdown := make(chan os.Signal, 1)
	signal.Notify(sigShutdown, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-sigShutdown

	// Wait 5 Seconds Before Graceful Shutdown
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()

	// Try To Shutdown Server
	err = app.ShutdownWithContext(ctxShutdown)
	if err != nil {
		log.Print(nil).Fatal(err.Error())
	}

	// Try To Shutdown Cron
	c.Stop()
}
