// Package botconfig exposes the OTP-gated configuration update flow.
package botconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"

	typWhatsApp "github.com/wahost/go-whatsapp-bot-host/internal/types"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
	"github.com/wahost/go-whatsapp-bot-host/pkg/otp"
	"github.com/wahost/go-whatsapp-bot-host/pkg/router"
	pkgWhatsApp "github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"
)

// Notifier delivers messages into a session owner's own chat.
type Notifier interface {
	NotifySelf(ctx context.Context, number string, message string) error
}

// ConfigStore commits a verified configuration document.
type ConfigStore interface {
	SaveConfig(ctx context.Context, number string, cfg pkgWhatsApp.Config) error
}

type Controller struct {
	otps     *otp.Store
	notifier Notifier
	store    ConfigStore
}

func NewController(otps *otp.Store, notifier Notifier, store ConfigStore) *Controller {
	return &Controller{otps: otps, notifier: notifier, store: store}
}

// UpdateConfig
// @Summary     Request a Configuration Change
// @Description Validates the payload, stores it pending, and sends a
// @Description one-time code to the session owner's own chat
// @Tags        Config
// @Produce     json
// @Param       number query string true "Session number"
// @Param       config query string true "New configuration document, JSON"
// @Success     200
// @Router      /update-config [get]
func (ctl *Controller) UpdateConfig(c *fiber.Ctx) error {
	number, err := pkgWhatsApp.NormalizeNumber(c.Query("number"))
	if err != nil {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: err.Error()})
	}

	raw := c.Query("config")
	if _, err := pkgWhatsApp.ParseConfig([]byte(raw)); err != nil {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: pkgWhatsApp.ErrInvalidConfig.Error()})
	}

	request, err := ctl.otps.Create(number, json.RawMessage(raw))
	if err != nil {
		return router.ResponseJSON(c, http.StatusInternalServerError, typWhatsApp.ErrorResponse{Error: err.Error()})
	}

	message := fmt.Sprintf("Your configuration change code is %s. It expires at %s.",
		request.Code, request.ExpiresAt.Format("15:04:05"))
	if err := ctl.notifier.NotifySelf(c.UserContext(), number, message); err != nil {
		log.Print(c).WithError(err).Error("Failed to deliver OTP")
		if errors.Is(err, pkgWhatsApp.ErrSessionNotConnected) {
			return router.ResponseJSON(c, http.StatusNotFound, typWhatsApp.ErrorResponse{Error: err.Error()})
		}
		return router.ResponseJSON(c, http.StatusInternalServerError, typWhatsApp.ErrorResponse{Error: err.Error()})
	}

	return router.ResponseJSON(c, http.StatusOK, typWhatsApp.StatusResponse{Status: "otp_sent"})
}

// VerifyOTP
// @Summary     Commit a Pending Configuration Change
// @Tags        Config
// @Produce     json
// @Param       number query string true "Session number"
// @Param       otp    query string true "One-time code"
// @Success     200
// @Router      /verify-otp [get]
func (ctl *Controller) VerifyOTP(c *fiber.Ctx) error {
	number, err := pkgWhatsApp.NormalizeNumber(c.Query("number"))
	if err != nil {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: err.Error()})
	}
	code := c.Query("otp")
	if code == "" {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: "otp is required"})
	}

	pending, err := ctl.otps.Verify(number, code)
	switch {
	case errors.Is(err, otp.ErrExpired):
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: otp.ErrExpired.Error()})
	case errors.Is(err, otp.ErrNotFound):
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: otp.ErrNotFound.Error()})
	case errors.Is(err, otp.ErrMismatch):
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: otp.ErrMismatch.Error()})
	case err != nil:
		return router.ResponseJSON(c, http.StatusInternalServerError, typWhatsApp.ErrorResponse{Error: err.Error()})
	}

	cfg, err := pkgWhatsApp.ParseConfig(pending)
	if err != nil {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: pkgWhatsApp.ErrInvalidConfig.Error()})
	}

	if err := ctl.store.SaveConfig(c.UserContext(), number, cfg); err != nil {
		return router.ResponseJSON(c, http.StatusInternalServerError, typWhatsApp.ErrorResponse{Error: err.Error()})
	}

	if err := ctl.notifier.NotifySelf(c.UserContext(), number, "Configuration updated."); err != nil {
		log.Print(c).WithError(err).Warn("Failed to send config update notice")
	}

	return router.ResponseJSON(c, http.StatusOK, typWhatsApp.StatusResponse{Status: "updated"})
}
