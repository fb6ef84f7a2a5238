// Package admin exposes the operator endpoints behind JWT bearer auth.
package admin

import (
	"context"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"

	typWhatsApp "github.com/wahost/go-whatsapp-bot-host/internal/types"
	"github.com/wahost/go-whatsapp-bot-host/pkg/auth"
	"github.com/wahost/go-whatsapp-bot-host/pkg/router"
	pkgWhatsApp "github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"
)

const adminTokenTTL = time.Hour

// Operations is the manager slice the admin surface needs.
type Operations interface {
	ReconnectAll(ctx context.Context) (pkgWhatsApp.BulkResult, error)
	StartedAt() time.Time
}

// KnownNumbers reads the durable known-numbers list for the stats view.
type KnownNumbers interface {
	ListKnownNumbers(ctx context.Context) ([]string, error)
}

type Controller struct {
	manager  Operations
	store    KnownNumbers
	registry *pkgWhatsApp.Registry
	channels *pkgWhatsApp.ChannelDirectory
}

func NewController(manager Operations, store KnownNumbers, registry *pkgWhatsApp.Registry, channels *pkgWhatsApp.ChannelDirectory) *Controller {
	return &Controller{manager: manager, store: store, registry: registry, channels: channels}
}

// Token
// @Summary     Issue an Admin Bearer Token
// @Tags        Admin
// @Produce     json
// @Param       X-Admin-Secret header string true "Admin secret"
// @Success     200
// @Router      /admin/token [post]
func (ctl *Controller) Token(c *fiber.Ctx) error {
	if !auth.CheckAdminSecret(c.Get("X-Admin-Secret")) {
		return router.ResponseUnauthorized(c, "Invalid admin secret")
	}
	token, err := auth.GenerateAdminToken(adminTokenTTL)
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseJSON(c, http.StatusOK, typWhatsApp.AdminTokenResponse{
		Token:     token,
		ExpiresIn: int64(adminTokenTTL.Seconds()),
	})
}

// Stats
// @Summary     Host Statistics
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Success     200
// @Router      /admin/stats [get]
func (ctl *Controller) Stats(c *fiber.Ctx) error {
	known, err := ctl.store.ListKnownNumbers(c.UserContext())
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseJSON(c, http.StatusOK, typWhatsApp.AdminStatsResponse{
		ActiveSessions: ctl.registry.Len(),
		KnownNumbers:   len(known),
		Channels:       ctl.channels.Len(),
		UptimeSeconds:  int64(time.Since(ctl.manager.StartedAt()).Seconds()),
		Numbers:        ctl.registry.Numbers(),
	})
}

// Reconnect
// @Summary     Replay All Persisted Sessions
// @Tags        Admin
// @Produce     json
// @Security    BearerAuth
// @Success     200
// @Router      /admin/reconnect [post]
func (ctl *Controller) Reconnect(c *fiber.Ctx) error {
	result, err := ctl.manager.ReconnectAll(c.UserContext())
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseJSON(c, http.StatusOK, result)
}
