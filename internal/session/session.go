// Package session exposes the pairing and liveness endpoints.
package session

import (
	"context"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/wahost/go-whatsapp-bot-host/internal/index"
	typWhatsApp "github.com/wahost/go-whatsapp-bot-host/internal/types"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
	"github.com/wahost/go-whatsapp-bot-host/pkg/router"
	pkgWhatsApp "github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"
)

// Lifecycle is the slice of the session manager this controller needs.
type Lifecycle interface {
	Pair(ctx context.Context, number string) (pkgWhatsApp.PairResult, error)
	PairQR(ctx context.Context, number string) (string, int, error)
	ConnectAll(ctx context.Context) (pkgWhatsApp.BulkResult, error)
	ReconnectAll(ctx context.Context) (pkgWhatsApp.BulkResult, error)
	About(ctx context.Context, number string, target string) (string, error)
}

type Controller struct {
	manager  Lifecycle
	registry *pkgWhatsApp.Registry
}

func NewController(manager Lifecycle, registry *pkgWhatsApp.Registry) *Controller {
	return &Controller{manager: manager, registry: registry}
}

// Root
// @Summary     Pair a Number or Show Server Status
// @Description Without a number parameter reports the server status; with
// @Description one, runs the pairing flow and returns the pairing code
// @Tags        Session
// @Produce     json
// @Param       number query string false "Phone number, digits only"
// @Success     200
// @Router      / [get]
func (ctl *Controller) Root(c *fiber.Ctx) error {
	number := c.Query("number")
	if number == "" {
		return index.Index(c)
	}

	result, err := ctl.manager.Pair(c.UserContext(), number)
	switch {
	case err == nil && result.Code != "":
		return router.ResponseJSON(c, http.StatusOK, typWhatsApp.PairResponse{Code: result.Code})
	case err == nil && result.Reconnected:
		return router.ResponseJSON(c, http.StatusOK, typWhatsApp.StatusResponse{Status: "connected"})
	case errors.Is(err, pkgWhatsApp.ErrAlreadyConnected):
		return router.ResponseJSON(c, http.StatusOK, typWhatsApp.StatusResponse{Status: "already_connected"})
	case errors.Is(err, pkgWhatsApp.ErrInvalidNumber):
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: err.Error()})
	case errors.Is(err, pkgWhatsApp.ErrPairingUnavailable):
		return router.ResponseJSON(c, http.StatusServiceUnavailable, typWhatsApp.ErrorResponse{Error: err.Error()})
	default:
		log.Print(c).WithError(err).Error("Pairing failed")
		return router.ResponseJSON(c, http.StatusInternalServerError, typWhatsApp.ErrorResponse{Error: err.Error()})
	}
}

// Active
// @Summary     List Live Sessions
// @Tags        Session
// @Produce     json
// @Success     200
// @Router      /active [get]
func (ctl *Controller) Active(c *fiber.Ctx) error {
	numbers := ctl.registry.Numbers()
	response := typWhatsApp.ActiveResponse{
		Count:   len(numbers),
		Numbers: numbers,
		Uptimes: make(map[string]int64, len(numbers)),
	}
	for _, number := range numbers {
		if uptime, ok := ctl.registry.Uptime(number); ok {
			response.Uptimes[number] = int64(uptime.Seconds())
		}
	}
	if len(response.Uptimes) == 0 {
		response.Uptimes = nil
	}
	return router.ResponseJSON(c, http.StatusOK, response)
}

// ConnectAll
// @Summary     Replay the Known-Numbers List
// @Tags        Session
// @Produce     json
// @Success     200
// @Router      /connect-all [get]
func (ctl *Controller) ConnectAll(c *fiber.Ctx) error {
	result, err := ctl.manager.ConnectAll(c.UserContext())
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseJSON(c, http.StatusOK, result)
}

// Reconnect
// @Summary     Replay All Persisted Session Records
// @Tags        Session
// @Produce     json
// @Success     200
// @Router      /reconnect [get]
func (ctl *Controller) Reconnect(c *fiber.Ctx) error {
	result, err := ctl.manager.ReconnectAll(c.UserContext())
	if err != nil {
		return router.ResponseInternalError(c, err.Error())
	}
	return router.ResponseJSON(c, http.StatusOK, result)
}

// GetAbout
// @Summary     Fetch a Target User's About Text
// @Tags        Session
// @Produce     json
// @Param       number query string true "Session number"
// @Param       target query string true "Target number"
// @Success     200
// @Router      /getabout [get]
func (ctl *Controller) GetAbout(c *fiber.Ctx) error {
	number := c.Query("number")
	target := c.Query("target")
	if number == "" || target == "" {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: "number and target are required"})
	}

	normalized, err := pkgWhatsApp.NormalizeNumber(number)
	if err != nil {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: err.Error()})
	}

	about, err := ctl.manager.About(c.UserContext(), normalized, target)
	switch {
	case err == nil:
		return router.ResponseJSON(c, http.StatusOK, typWhatsApp.AboutResponse{Number: normalized, Target: target, About: about})
	case errors.Is(err, pkgWhatsApp.ErrSessionNotConnected):
		return router.ResponseJSON(c, http.StatusNotFound, typWhatsApp.ErrorResponse{Error: err.Error()})
	case errors.Is(err, pkgWhatsApp.ErrInvalidNumber):
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: err.Error()})
	default:
		return router.ResponseJSON(c, http.StatusInternalServerError, typWhatsApp.ErrorResponse{Error: err.Error()})
	}
}

// LoginQR
// @Summary     Pair via QR Code
// @Tags        Session
// @Produce     json
// @Param       number query string true "Phone number, digits only"
// @Success     200
// @Router      /login-qr [get]
func (ctl *Controller) LoginQR(c *fiber.Ctx) error {
	number := c.Query("number")
	if number == "" {
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: "number is required"})
	}

	qr, timeout, err := ctl.manager.PairQR(c.UserContext(), number)
	switch {
	case err == nil:
		return router.ResponseJSON(c, http.StatusOK, typWhatsApp.QRResponse{QR: qr, Timeout: timeout})
	case errors.Is(err, pkgWhatsApp.ErrAlreadyConnected):
		return router.ResponseJSON(c, http.StatusOK, typWhatsApp.StatusResponse{Status: "already_connected"})
	case errors.Is(err, pkgWhatsApp.ErrQRAlreadyPaired):
		return router.ResponseJSON(c, http.StatusOK, typWhatsApp.StatusResponse{Status: "connected"})
	case errors.Is(err, pkgWhatsApp.ErrInvalidNumber):
		return router.ResponseJSON(c, http.StatusBadRequest, typWhatsApp.ErrorResponse{Error: err.Error()})
	default:
		return router.ResponseJSON(c, http.StatusInternalServerError, typWhatsApp.ErrorResponse{Error: err.Error()})
	}
}
