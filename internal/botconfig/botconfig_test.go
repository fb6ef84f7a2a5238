package botconfig

import (
	"context"
	"encoding/json"
	"io"
	"net/http/httptest"
	"net/url"
	"regexp"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wahost/go-whatsapp-bot-host/pkg/otp"
	pkgWhatsApp "github.com/wahost/go-whatsapp-bot-host/pkg/whatsapp"
)

type recordingNotifier struct {
	messages []string
	err      error
}

func (n *recordingNotifier) NotifySelf(ctx context.Context, number string, message string) error {
	if n.err != nil {
		return n.err
	}
	n.messages = append(n.messages, message)
	return nil
}

type recordingStore struct {
	saved map[string]pkgWhatsApp.Config
}

func (s *recordingStore) SaveConfig(ctx context.Context, number string, cfg pkgWhatsApp.Config) error {
	if s.saved == nil {
		s.saved = make(map[string]pkgWhatsApp.Config)
	}
	s.saved[number] = cfg
	return nil
}

func newTestApp(otps *otp.Store, notifier *recordingNotifier, store *recordingStore) *fiber.App {
	ctl := NewController(otps, notifier, store)
	app := fiber.New()
	app.Get("/update-config", ctl.UpdateConfig)
	app.Get("/verify-otp", ctl.VerifyOTP)
	return app
}

func decodeBody(t *testing.T, body io.Reader) map[string]interface{} {
	t.Helper()
	var payload map[string]interface{}
	require.NoError(t, json.NewDecoder(body).Decode(&payload))
	return payload
}

func updateURL(number string, config string) string {
	q := url.Values{}
	q.Set("number", number)
	q.Set("config", config)
	return "/update-config?" + q.Encode()
}

var codePattern = regexp.MustCompile(`\d{6}`)

func TestUpdateConfigValidation(t *testing.T) {
	app := newTestApp(otp.NewStore(time.Minute), &recordingNotifier{}, &recordingStore{})

	t.Run("malformed JSON yields the fixed error shape", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", updateURL("628111111111", "{not json"), nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.Equal(t, "Invalid config format", payload["error"])
	})

	t.Run("wrong field type yields the same shape", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", updateURL("628111111111", `{"prefix":5}`), nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.Equal(t, "Invalid config format", payload["error"])
	})

	t.Run("invalid number yields 400", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", updateURL("12", `{"prefix":"."}`), nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
	})
}

func TestUpdateThenVerifyRoundTrip(t *testing.T) {
	notifier := &recordingNotifier{}
	store := &recordingStore{}
	app := newTestApp(otp.NewStore(time.Minute), notifier, store)

	resp, err := app.Test(httptest.NewRequest("GET", updateURL("628111111111", `{"prefix":"!","autoViewStatus":true}`), nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	payload := decodeBody(t, resp.Body)
	assert.Equal(t, "otp_sent", payload["status"])

	require.Len(t, notifier.messages, 1)
	code := codePattern.FindString(notifier.messages[0])
	require.NotEmpty(t, code)

	resp, err = app.Test(httptest.NewRequest("GET", "/verify-otp?number=628111111111&otp="+code, nil))
	require.NoError(t, err)
	assert.Equal(t, 200, resp.StatusCode)
	payload = decodeBody(t, resp.Body)
	assert.Equal(t, "updated", payload["status"])

	saved, ok := store.saved["628111111111"]
	require.True(t, ok)
	assert.Equal(t, "!", saved.Prefix)
	assert.True(t, saved.AutoViewStatus)

	t.Run("second verify with the same code is single-use", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/verify-otp?number=628111111111&otp="+code, nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.Equal(t, "no request found", payload["error"])
	})
}

func TestVerifyOTPErrors(t *testing.T) {
	notifier := &recordingNotifier{}
	otps := otp.NewStore(time.Minute)
	app := newTestApp(otps, notifier, &recordingStore{})

	t.Run("unknown number", func(t *testing.T) {
		resp, err := app.Test(httptest.NewRequest("GET", "/verify-otp?number=628999999999&otp=123456", nil))
		require.NoError(t, err)
		assert.Equal(t, 400, resp.StatusCode)
		payload := decodeBody(t, resp.Body)
		assert.Equal(t, "no request found", payload["error"])
	})

	t.Run("wrong code keeps the request pending", func(t *testing.T) {
		req, err := otps.Create("628111111111", json.RawMessage(`{"prefix":"."}`))
		require.NoError(t, err)

		wrong := "000000"
		if wrong == req.Code {
			wrong = "000001"
		}
		resp, errTest := app.Test(httptest.NewRequest("GET", "/verify-otp?number=628111111111&otp="+wrong, nil))
		require.NoError(t, errTest)
		assert.Equal(t, 400, resp.StatusCode)

		resp, errTest = app.Test(httptest.NewRequest("GET", "/verify-otp?number=628111111111&otp="+req.Code, nil))
		require.NoError(t, errTest)
		assert.Equal(t, 200, resp.StatusCode)
	})
}
