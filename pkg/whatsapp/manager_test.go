package whatsapp

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/types/events"
)

type stubSessionStore struct {
	mu      sync.Mutex
	deleted []string
	configs map[string]Config
}

func (s *stubSessionStore) Restore(ctx context.Context, number string) (json.RawMessage, error) {
	return nil, nil
}

func (s *stubSessionStore) Save(ctx context.Context, number string, credentials json.RawMessage) error {
	return nil
}

func (s *stubSessionStore) Delete(ctx context.Context, number string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleted = append(s.deleted, number)
	return nil
}

func (s *stubSessionStore) LoadConfig(ctx context.Context, number string) Config {
	return Config{Prefix: "."}
}

func (s *stubSessionStore) SaveConfig(ctx context.Context, number string, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.configs == nil {
		s.configs = make(map[string]Config)
	}
	s.configs[number] = cfg
	return nil
}

func (s *stubSessionStore) AppendKnownNumber(ctx context.Context, number string) error {
	return nil
}

func (s *stubSessionStore) ListKnownNumbers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *stubSessionStore) ListSessionNumbers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *stubSessionStore) ListAdminNumbers(ctx context.Context) ([]string, error) {
	return nil, nil
}

func (s *stubSessionStore) wasDeleted(number string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, deleted := range s.deleted {
		if deleted == number {
			return true
		}
	}
	return false
}

// newTestManager builds a manager whose reconnect loop never reaches an
// actual pair attempt within the test's lifetime.
func newTestManager(store *stubSessionStore) *Manager {
	return &Manager{
		store:             store,
		registry:          NewRegistry(),
		channels:          NewChannelDirectory(),
		pending:           make(map[string]*whatsmeow.Client),
		reconnecting:      make(map[string]struct{}),
		reconnectCooldown: time.Hour,
	}
}

func reconnectScheduled(m *Manager, number string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.reconnecting[number]
	return ok
}

func TestPairGuards(t *testing.T) {
	ctx := context.Background()

	t.Run("connected number is rejected without side effects", func(t *testing.T) {
		m := newTestManager(&stubSessionStore{})
		m.registry.Put("628111111111", nil)

		_, err := m.Pair(ctx, "628111111111")
		assert.ErrorIs(t, err, ErrAlreadyConnected)
		assert.Empty(t, m.pending)
	})

	t.Run("pair already in flight is rejected", func(t *testing.T) {
		m := newTestManager(&stubSessionStore{})
		m.pending["628111111111"] = nil

		_, err := m.Pair(ctx, "628111111111")
		assert.ErrorIs(t, err, ErrAlreadyConnected)
	})

	t.Run("invalid number is rejected", func(t *testing.T) {
		m := newTestManager(&stubSessionStore{})
		_, err := m.Pair(ctx, "12")
		assert.ErrorIs(t, err, ErrInvalidNumber)
	})
}

func TestClosePolicy(t *testing.T) {
	t.Run("disconnect always starts the reconnect loop", func(t *testing.T) {
		store := &stubSessionStore{}
		m := newTestManager(store)
		m.registry.Put("628111111111", nil)

		h := newHandlerSet(m, "628111111111", nil)
		h.Handle(&events.Disconnected{})

		require.Eventually(t, func() bool {
			return reconnectScheduled(m, "628111111111")
		}, time.Second, 10*time.Millisecond)
		assert.False(t, m.registry.Has("628111111111"))
	})

	t.Run("logged out is terminal and never reconnects", func(t *testing.T) {
		store := &stubSessionStore{}
		m := newTestManager(store)
		m.registry.Put("628111111111", nil)

		h := newHandlerSet(m, "628111111111", nil)
		h.Handle(&events.LoggedOut{})

		require.Eventually(t, func() bool {
			return store.wasDeleted("628111111111")
		}, time.Second, 10*time.Millisecond)
		assert.False(t, m.registry.Has("628111111111"))
		assert.False(t, reconnectScheduled(m, "628111111111"))
	})

	t.Run("close for a number that was never live is ignored", func(t *testing.T) {
		m := newTestManager(&stubSessionStore{})
		m.onTransientClose("628111111111", "disconnected")
		assert.False(t, reconnectScheduled(m, "628111111111"))
	})
}

func TestConnectedDropDuringSettle(t *testing.T) {
	store := &stubSessionStore{}
	m := newTestManager(store)

	// A zero client reports not connected, standing in for a socket that
	// dropped while onConnected was still inside the settle window.
	m.onConnected("628111111111", &whatsmeow.Client{})

	assert.False(t, m.registry.Has("628111111111"), "dead client must not stay registered")
	assert.True(t, reconnectScheduled(m, "628111111111"), "drop during settle must start the reconnect loop")
}

func TestLogoutTeardown(t *testing.T) {
	t.Run("unknown number", func(t *testing.T) {
		m := newTestManager(&stubSessionStore{})
		err := m.Logout(context.Background(), "628111111111")
		assert.ErrorIs(t, err, ErrSessionNotConnected)
	})

	t.Run("teardown clears registry and store without a reconnect", func(t *testing.T) {
		store := &stubSessionStore{}
		m := newTestManager(store)
		m.registry.Put("628111111111", nil)

		m.finishLogout(context.Background(), "628111111111")

		assert.False(t, m.registry.Has("628111111111"))
		assert.True(t, store.wasDeleted("628111111111"))
		assert.False(t, reconnectScheduled(m, "628111111111"))
	})
}
