package internal

import (
	"github.com/gofiber/fiber/v2"
	swagger "github.com/gofiber/swagger"

	"github.com/wahost/go-whatsapp-bot-host/pkg/auth"
	"github.com/wahost/go-whatsapp-bot-host/pkg/otp"
	"github.com/wahost/go-whatsapp-bot-host/pkg/router"
	pkgWhatsApp "github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"

	ctlAdmin "github.com/wahost/go-whatsapp-bot-host/internal/admin"
	ctlBotConfig "github.com/wahost/go-whatsapp-bot-host/internal/botconfig"
	ctlSession "github.com/wahost/go-whatsapp-bot-host/internal/session"
)

// Deps bundles the shared collaborators the controllers are built from.
type Deps struct {
	Manager  *pkgWhatsApp.Manager
	Store    *pkgWhatsApp.Store
	Registry *pkgWhatsApp.Registry
	Channels *pkgWhatsApp.ChannelDirectory
	OTPs     *otp.Store
}

func Routes(app *fiber.App, deps Deps) {
	// Configure OpenAPI / Swagger
	specURL := router.BaseURL + "/docs/swagger.json"
	swaggerHandler := swagger.New(swagger.Config{
		URL: specURL,
	})

	session := ctlSession.NewController(deps.Manager, deps.Registry)
	botConfig := ctlBotConfig.NewController(deps.OTPs, deps.Manager, deps.Store)
	admin := ctlAdmin.NewController(deps.Manager, deps.Store, deps.Registry, deps.Channels)

	// Route for Index / Pairing
	// ---------------------------------------------
	if router.BaseURL == "" {
		app.Get("/", session.Root)
	} else {
		app.Get(router.BaseURL, session.Root)
		app.Get(router.BaseURL+"/", session.Root)
	}
	app.Get(router.BaseURL+"/favicon.ico", router.ResponseNoContent)

	// Route for OpenAPI / Swagger
	// ---------------------------------------------
	app.Get(router.BaseURL+"/docs/swagger.json", func(c *fiber.Ctx) error {
		return c.SendFile("docs/swagger.json")
	})
	app.Get(router.BaseURL+"/docs/*", swaggerHandler)

	// Route for Session Lifecycle
	// ---------------------------------------------
	app.Get(router.BaseURL+"/active", session.Active)
	app.Get(router.BaseURL+"/connect-all", session.ConnectAll)
	app.Get(router.BaseURL+"/reconnect", session.Reconnect)
	app.Get(router.BaseURL+"/getabout", session.GetAbout)
	app.Get(router.BaseURL+"/login-qr", session.LoginQR)

	// Route for Configuration Updates
	// ---------------------------------------------
	app.Get(router.BaseURL+"/update-config", botConfig.UpdateConfig)
	app.Get(router.BaseURL+"/verify-otp", botConfig.VerifyOTP)

	// Route for Admin (bearer token)
	// ---------------------------------------------
	adminMiddleware := auth.AdminAuth()
	app.Post(router.BaseURL+"/admin/token", admin.Token)
	app.Get(router.BaseURL+"/admin/stats", adminMiddleware, admin.Stats)
	app.Post(router.BaseURL+"/admin/reconnect", adminMiddleware, admin.Reconnect)
}
