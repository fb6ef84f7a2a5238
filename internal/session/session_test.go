package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgWhatsApp "github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"
)

type stubLifecycle struct {
	pairResult pkgWhatsApp.PairResult
	pairErr    error
	pairCalls  int
	bulkResult pkgWhatsApp.BulkResult
	about      string
	aboutErr   error
}

func (s *stubLifecycle) Pair(ctx context.Context, number string) (pkgWhatsApp.PairResult, error) {
	s.pairCalls++
	return s.pairResult, s.pairErr
}

func (s *stubLifecycle) PairQR(ctx context.Context, number string) (string, int, error) {
	return "data:image/png;base64,stub", 60, nil
}

func (s *stubLifecycle) ConnectAll(ctx context.Context) (pkgWhatsApp.BulkResult, error) {
	return s.bulkResult, nil
}

func (s *stubLifecycle) ReconnectAll(ctx context.Context) (pkgWhatsApp.BulkResult, error) {
	return s.bulkResult, nil
}

func (s *stubLifecycle) About(ctx context.Context, number string, target string) (string, error) {
	return s.about, s.aboutErr
}

func newTestApp(stub *stubLifecycle, registry *pkgWhatsApp.Registry) *fiber.App {
	if registry == nil {
		registry = pkgWhatsApp.NewRegistry()
	}
	ctl := NewController(stub, registry)
	app := fiber.New()
	app.Get("/", ctl.Root)
	app.Get("/active", ctl.Active)
	app.Get("/connect-all", ctl.ConnectAll)
	app.Get("/reconnect", ctl.Reconnect)
	app.Get("/getabout", ctl.GetAbout)
	return app
}

func decodeBody(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&payload))
	return payload
}

func TestRootPairing(t *testing.T) {
	t.Run("fresh pairing returns the code", func(t *testing.T) {
		stub := &stubLifecycle{pairResult: pkgWhatsApp.PairResult{Code: "ABCD-1234"}}
		app := newTestApp(stub, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/?number=628111111111", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.Equal(t, "ABCD-1234", payload["code"])
	})

	t.Run("already connected shape", func(t *testing.T) {
		stub := &stubLifecycle{pairErr: pkgWhatsApp.ErrAlreadyConnected}
		app := newTestApp(stub, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/?number=628111111111", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.Equal(t, "already_connected", payload["status"])
	})

	t.Run("exhausted pairing retries yield 503", func(t *testing.T) {
		stub := &stubLifecycle{pairErr: pkgWhatsApp.ErrPairingUnavailable}
		app := newTestApp(stub, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/?number=628111111111", nil))
		require.NoError(t, err)
		assert.Equal(t, 503, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.NotEmpty(t, payload["error"])
	})

	t.Run("invalid number yields 400", func(t *testing.T) {
		stub := &stubLifecycle{pairErr: pkgWhatsApp.ErrInvalidNumber}
		app := newTestApp(stub, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/?number=12", nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})

	t.Run("empty number is the status page, no pair call", func(t *testing.T) {
		stub := &stubLifecycle{}
		app := newTestApp(stub, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Zero(t, stub.pairCalls)
	})
}

func TestActiveSnapshot(t *testing.T) {
	registry := pkgWhatsApp.NewRegistry()
	registry.Put("628111111111", nil)
	registry.Put("628222222222", nil)
	app := newTestApp(&stubLifecycle{}, registry)

	resp, err := app.Test(httptest.NewRequest("GET", "/active", nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)

	payload := decodeBody(t, resp.Body)
	assert.EqualValues(t, 2, payload["count"])
	numbers, ok := payload["numbers"].([]interface{})
	require.True(t, ok)
	assert.Len(t, numbers, 2)
	assert.Equal(t, "628111111111", numbers[0])
}

func TestGetAbout(t *testing.T) {
	t.Run("returns the bio", func(t *testing.T) {
		stub := &stubLifecycle{about: "busy building bots"}
		app := newTestApp(stub, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/getabout?number=628111111111&target=628222222222", nil))
		require.NoError(t, err)
		assert.Equal(t, 200, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.Equal(t, "busy building bots", payload["about"])
	})

	t.Run("no live session yields 404", func(t *testing.T) {
		stub := &stubLifecycle{aboutErr: pkgWhatsApp.ErrSessionNotConnected}
		app := newTestApp(stub, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/getabout?number=628111111111&target=628222222222", nil))
		require.NoError(t, err)
		assert.Equal(t, 404, resp.StatusCode)
	})

	t.Run("missing target yields 400", func(t *testing.T) {
		app := newTestApp(&stubLifecycle{aboutErr: errors.New("should not be called")}, nil)

		resp, err := app.Test(httptest.NewRequest("GET", "/getabout?number=628111111111", nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})
}
