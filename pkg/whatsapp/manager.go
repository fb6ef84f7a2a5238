package whatsapp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
	"github.com/wahost/go-whatsapp-bot-host/pkg/retry"
)

var (
	ErrAlreadyConnected     = errors.New("WhatsApp Client is already Connected")
	ErrPairingUnavailable   = errors.New("WhatsApp Pairing Code is not Available")
	ErrSessionNotConnected  = errors.New("WhatsApp Client is not Connected")
	ErrQRAlreadyPaired      = errors.New("WhatsApp Client is already Paired")
	qrChannelWaitTimeout    = 2 * time.Minute
	pairPhoneRequestTimeout = 90 * time.Second
	logoutRequestTimeout    = 30 * time.Second
)

// PairResult is the outcome of one pair orchestration. Code is set only on
// the fresh-registration path; Reconnected marks a restored session that
// needed no new pairing code.
type PairResult struct {
	Code        string
	Reconnected bool
}

// BulkResult summarizes a bulk connect or reconnect sweep.
type BulkResult struct {
	Requested int               `json:"requested"`
	Skipped   int               `json:"skipped"`
	Started   int               `json:"started"`
	Failures  map[string]string `json:"failures,omitempty"`
}

// sessionStore is the durable-store slice the manager depends on. *Store
// satisfies it; tests stand in for the database behind it.
type sessionStore interface {
	Restore(ctx context.Context, number string) (json.RawMessage, error)
	Save(ctx context.Context, number string, credentials json.RawMessage) error
	Delete(ctx context.Context, number string) error
	LoadConfig(ctx context.Context, number string) Config
	SaveConfig(ctx context.Context, number string, cfg Config) error
	AppendKnownNumber(ctx context.Context, number string) error
	ListKnownNumbers(ctx context.Context) ([]string, error)
	ListSessionNumbers(ctx context.Context) ([]string, error)
	ListAdminNumbers(ctx context.Context) ([]string, error)
}

// Manager owns the session lifecycle: pairing, credential persistence,
// reconnect policy, and the side effects around connection open and close.
// All collaborators are injected; the manager has no package-level state.
type Manager struct {
	container *sqlstore.Container
	store     sessionStore
	registry  *Registry
	channels  *ChannelDirectory

	dispatcher MessageDispatcher

	pairPolicy   retry.Policy
	actionPolicy retry.Policy
	reactLimiter *rate.Limiter

	settleDelay       time.Duration
	reconnectCooldown time.Duration
	communityInvite   string
	welcomeImageURL   string
	proxyURL          string
	adminNumbers      []string

	http *resty.Client

	mu           sync.Mutex
	pending      map[string]*whatsmeow.Client
	reconnecting map[string]struct{}

	startedAt time.Time
}

func NewManager(container *sqlstore.Container, store *Store, registry *Registry, channels *ChannelDirectory) *Manager {
	return &Manager{
		container: container,
		store:     store,
		registry:  registry,
		channels:  channels,
		pairPolicy: retry.Policy{
			MaxAttempts: env.GetEnvIntOrDefault("PAIR_MAX_ATTEMPTS", 3),
			Backoff:     retry.LinearRemaining(env.GetEnvDurationOrDefault("PAIR_BACKOFF_BASE", 2*time.Second), env.GetEnvIntOrDefault("PAIR_MAX_ATTEMPTS", 3)),
		},
		actionPolicy: retry.Policy{
			MaxAttempts: 3,
			Backoff:     retry.LinearRemaining(2*time.Second, 3),
		},
		reactLimiter:      rate.NewLimiter(rate.Every(2*time.Second), 5),
		settleDelay:       env.GetEnvDurationOrDefault("CONNECT_SETTLE_DELAY", 3*time.Second),
		reconnectCooldown: env.GetEnvDurationOrDefault("RECONNECT_COOLDOWN", 10*time.Second),
		communityInvite:   env.GetEnvStringOrDefault("COMMUNITY_INVITE_LINK", ""),
		welcomeImageURL:   env.GetEnvStringOrDefault("WELCOME_IMAGE_URL", ""),
		proxyURL:          env.GetEnvStringOrDefault("WHATSAPP_CLIENT_PROXY_URL", ""),
		adminNumbers:      env.GetEnvStringListOrDefault("ADMIN_NUMBERS", nil),
		http: resty.New().
			SetTimeout(30 * time.Second),
		pending:      make(map[string]*whatsmeow.Client),
		reconnecting: make(map[string]struct{}),
		startedAt:    time.Now(),
	}
}

// SetDispatcher wires the command registry in after construction; the
// registry itself needs manager callbacks, so this breaks the ordering knot.
func (m *Manager) SetDispatcher(d MessageDispatcher) {
	m.dispatcher = d
}

func (m *Manager) StartedAt() time.Time {
	return m.startedAt
}

// Pair runs the pairing state machine for one number. At most one
// orchestration per number is live at any time: a number already in the
// registry, or with a pair in flight, is rejected without side effects.
func (m *Manager) Pair(ctx context.Context, number string) (PairResult, error) {
	number, err := NormalizeNumber(number)
	if err != nil {
		return PairResult{}, err
	}

	if m.registry.Has(number) {
		return PairResult{}, ErrAlreadyConnected
	}

	m.mu.Lock()
	if _, inFlight := m.pending[number]; inFlight {
		m.mu.Unlock()
		return PairResult{}, ErrAlreadyConnected
	}
	m.pending[number] = nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, number)
		m.mu.Unlock()
	}()

	client, fresh, err := m.buildClient(ctx, number)
	if err != nil {
		return PairResult{}, err
	}

	m.mu.Lock()
	m.pending[number] = client
	m.mu.Unlock()

	if !fresh {
		if err := client.Connect(); err != nil {
			return PairResult{}, err
		}
		return PairResult{Reconnected: true}, nil
	}

	if err := client.Connect(); err != nil {
		return PairResult{}, err
	}

	code, err := m.requestPairingCode(ctx, client, number)
	if err != nil {
		client.Disconnect()
		return PairResult{}, fmt.Errorf("%w: %v", ErrPairingUnavailable, err)
	}

	return PairResult{Code: code}, nil
}

// buildClient restores or creates the device, builds the protocol client,
// and registers the event handler set before any connection is opened.
func (m *Manager) buildClient(ctx context.Context, number string) (*whatsmeow.Client, bool, error) {
	// A store error aborts the pair instead of degrading to a fresh device:
	// treating it as "credentials absent" would issue a new pairing code for
	// a number that may well still be paired.
	blob, err := m.store.Restore(ctx, number)
	if err != nil {
		return nil, false, err
	}

	device, err := materializeDevice(ctx, m.container, blob)
	if err != nil {
		log.Session(number).WithError(err).Error("Stored credentials failed to materialize, starting fresh")
		device = nil
	}
	fresh := device == nil
	if fresh {
		device = m.container.NewDevice()
	}

	client := whatsmeow.NewClient(device, nil)
	if m.proxyURL != "" {
		client.SetProxyAddress(m.proxyURL)
	}
	// This layer owns the reconnect policy; the library must stay out of it.
	client.EnableAutoReconnect = false
	client.AutoTrustIdentity = true
	client.AddEventHandler(newHandlerSet(m, number, client).Handle)

	return client, fresh, nil
}

func (m *Manager) requestPairingCode(ctx context.Context, client *whatsmeow.Client, number string) (string, error) {
	pairCtx, cancel := context.WithTimeout(ctx, pairPhoneRequestTimeout)
	defer cancel()

	var code string
	err := m.pairPolicy.Do(pairCtx, func() error {
		var pairErr error
		code, pairErr = client.PairPhone(pairCtx, number, true, whatsmeow.PairClientChrome, "Chrome ("+runtime.GOOS+")")
		if pairErr != nil {
			log.Session(number).WithError(pairErr).Warn("Pairing code request failed")
		}
		return pairErr
	})
	return code, err
}

// PairQR is the QR fallback: it returns a base64 PNG for a fresh number and
// ErrQRAlreadyPaired when stored credentials already exist.
func (m *Manager) PairQR(ctx context.Context, number string) (string, int, error) {
	number, err := NormalizeNumber(number)
	if err != nil {
		return "", 0, err
	}
	if m.registry.Has(number) {
		return "", 0, ErrAlreadyConnected
	}

	m.mu.Lock()
	if _, inFlight := m.pending[number]; inFlight {
		m.mu.Unlock()
		return "", 0, ErrAlreadyConnected
	}
	m.pending[number] = nil
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.pending, number)
		m.mu.Unlock()
	}()

	client, fresh, err := m.buildClient(ctx, number)
	if err != nil {
		return "", 0, err
	}
	if !fresh {
		if err := client.Connect(); err != nil {
			return "", 0, err
		}
		return "", 0, ErrQRAlreadyPaired
	}

	qrCtx, cancel := context.WithTimeout(ctx, qrChannelWaitTimeout)
	defer cancel()

	qrChan, err := client.GetQRChannel(qrCtx)
	if err != nil {
		return "", 0, err
	}
	if err := client.Connect(); err != nil {
		return "", 0, err
	}

	return generateQR(qrCtx, qrChan)
}

// onConnected runs the ordered post-connection side effects. Registry
// registration happens before any best-effort notification so the number
// counts as live even when a notification fails.
func (m *Manager) onConnected(number string, client *whatsmeow.Client) {
	ctx := context.Background()

	time.Sleep(m.settleDelay)

	m.joinCommunity(ctx, number, client)
	m.followChannels(ctx, number, client)

	cfg := m.seedConfig(ctx, number)

	m.registry.Put(number, client)

	// A drop inside the settle window fires its close event before the
	// registry entry exists, so it never starts a reconnect loop. Registering
	// first and re-checking liveness here closes that gap: a drop after the
	// Put is handled by the event, a drop before it is handled here.
	if !client.IsConnected() {
		log.Session(number).Warn("Connection dropped during settle window")
		m.onTransientClose(number, "dropped during settle")
		return
	}
	log.Session(number).Info("Session connected and registered")

	if _, err := sendSelfText(ctx, client, m.welcomeMessage(cfg)); err != nil {
		log.Session(number).WithError(err).Warn("Failed to send welcome notification")
	} else {
		m.sendWelcomeImage(ctx, number, client)
	}

	m.notifyAdmins(ctx, number)

	if err := m.store.AppendKnownNumber(ctx, number); err != nil {
		log.Session(number).WithError(err).Error("Failed to append known number")
	}
}

func (m *Manager) joinCommunity(ctx context.Context, number string, client *whatsmeow.Client) {
	if m.communityInvite == "" {
		return
	}
	err := m.actionPolicy.Do(ctx, func() error {
		_, joinErr := client.JoinGroupWithLink(ctx, m.communityInvite)
		return joinErr
	})
	if err != nil {
		log.Session(number).WithError(err).Warn("Failed to join community group")
	}
}

func (m *Manager) followChannels(ctx context.Context, number string, client *whatsmeow.Client) {
	for _, jid := range m.channels.JIDs() {
		channelJID, err := types.ParseJID(jid)
		if err != nil {
			log.Session(number).WithError(err).Warn("Skipping malformed channel JID " + jid)
			continue
		}
		if err := client.FollowNewsletter(ctx, channelJID); err != nil {
			log.Session(number).WithError(err).Warn("Failed to follow channel " + jid)
		}
	}
}

// seedConfig loads the per-number configuration, persisting the defaults on
// first connection so later reads come from the store.
func (m *Manager) seedConfig(ctx context.Context, number string) Config {
	cfg := m.store.LoadConfig(ctx, number)
	if err := m.store.SaveConfig(ctx, number, cfg); err != nil {
		log.Session(number).WithError(err).Error("Failed to seed session config")
	}
	return cfg
}

func (m *Manager) welcomeMessage(cfg Config) string {
	return fmt.Sprintf("Bot is now active. Command prefix: %s — send %smenu to see what it can do.", cfg.Prefix, cfg.Prefix)
}

func (m *Manager) sendWelcomeImage(ctx context.Context, number string, client *whatsmeow.Client) {
	if m.welcomeImageURL == "" {
		return
	}
	resp, err := m.http.R().SetContext(ctx).Get(m.welcomeImageURL)
	if err != nil || resp.IsError() {
		log.Session(number).Warn("Failed to fetch welcome image")
		return
	}
	self, err := ownJID(client)
	if err != nil {
		return
	}
	if _, err := sendImage(ctx, client, self, resp.Body(), "image/jpeg", "Welcome aboard!"); err != nil {
		log.Session(number).WithError(err).Warn("Failed to send welcome image")
	}
}

func (m *Manager) notifyAdmins(ctx context.Context, number string) {
	admins := m.adminNumbers
	if stored, err := m.store.ListAdminNumbers(ctx); err == nil && len(stored) > 0 {
		admins = stored
	}
	for _, admin := range admins {
		adminClient, ok := m.registry.Get(admin)
		if !ok {
			continue
		}
		message := fmt.Sprintf("Session %s is now connected.", number)
		if _, err := sendText(ctx, adminClient, ComposeUserJID(admin), message); err != nil {
			log.Session(admin).WithError(err).Warn("Failed to notify admin")
		}
	}
}

// onLoggedOut is the terminal branch: credentials are gone server-side, so
// persisted state is deleted and no reconnect is attempted.
func (m *Manager) onLoggedOut(number string, client *whatsmeow.Client) {
	ctx := context.Background()
	log.Session(number).Warn("Session logged out, tearing down")

	_, _ = sendSelfText(ctx, client, "This bot session was logged out and will not reconnect. Pair again to resume.")

	m.finishLogout(ctx, number)

	if client != nil {
		storeCtx, cancel := context.WithTimeout(ctx, logoutRequestTimeout)
		defer cancel()
		if err := client.Store.Delete(storeCtx); err != nil {
			log.Session(number).WithError(err).Warn("Failed to delete device keys")
		}
		client.Disconnect()
	}
}

// onTransientClose handles every non-terminal close reason: drop the
// registry entry, wait the fixed cooldown, then pair from scratch — forever.
// The loop has no ceiling on purpose; the cooldown keeps it from spinning.
func (m *Manager) onTransientClose(number string, reason string) {
	// A close for a number that was never live is the tail of a failed or
	// abandoned pairing, not a drop; it gets no reconnect loop.
	if !m.registry.Has(number) {
		return
	}
	log.Session(number).Warn("Session connection closed (" + reason + ")")
	m.registry.Remove(number)
	m.scheduleReconnect(number)
}

// scheduleReconnect starts the per-number reconnect loop unless a pair or a
// loop is already in flight for the number.
func (m *Manager) scheduleReconnect(number string) {
	m.mu.Lock()
	if _, inFlight := m.pending[number]; inFlight {
		m.mu.Unlock()
		return
	}
	if _, running := m.reconnecting[number]; running {
		m.mu.Unlock()
		return
	}
	m.reconnecting[number] = struct{}{}
	m.mu.Unlock()

	go m.reconnectLoop(number)
}

func (m *Manager) reconnectLoop(number string) {
	defer func() {
		m.mu.Lock()
		delete(m.reconnecting, number)
		m.mu.Unlock()
	}()

	for {
		time.Sleep(m.reconnectCooldown)

		if m.registry.Has(number) {
			return
		}

		_, err := m.Pair(context.Background(), number)
		if err == nil || errors.Is(err, ErrAlreadyConnected) {
			return
		}
		log.Session(number).WithError(err).Warn("Reconnect attempt failed, will retry")
	}
}

// onCredentialsRotated persists the current credential snapshot. This is the
// only path that keeps durable storage in sync with the protocol layer; a
// failure is logged, never fatal, at the cost of stale credentials after a
// process restart.
func (m *Manager) onCredentialsRotated(number string, client *whatsmeow.Client) {
	blob, err := snapshotCredentials(client.Store)
	if err != nil {
		return
	}
	if err := m.store.Save(context.Background(), number, blob); err != nil {
		log.Session(number).WithError(err).Error("Failed to persist rotated credentials")
	}
}

// About fetches a target user's bio text through number's live session.
func (m *Manager) About(ctx context.Context, number string, target string) (string, error) {
	client, ok := m.registry.Get(number)
	if !ok {
		return "", ErrSessionNotConnected
	}

	targetNumber, err := NormalizeNumber(target)
	if err != nil {
		return "", err
	}
	targetJID := ComposeUserJID(targetNumber)

	info, err := client.GetUserInfo(ctx, []types.JID{targetJID})
	if err != nil {
		return "", err
	}
	userInfo, found := info[targetJID]
	if !found {
		return "", errors.New("WhatsApp User Info is not Available")
	}
	return userInfo.Status, nil
}

// Logout ends a session on purpose. A client-initiated logout disconnects
// without a LoggedOut event, so the host-side teardown runs inline here; the
// protocol library already deleted its own device keys on the success path.
func (m *Manager) Logout(ctx context.Context, number string) error {
	client, ok := m.registry.Get(number)
	if !ok {
		return ErrSessionNotConnected
	}

	logoutCtx, cancel := context.WithTimeout(ctx, logoutRequestTimeout)
	defer cancel()
	err := client.Logout(logoutCtx)
	m.finishLogout(ctx, number)
	if err != nil {
		client.Disconnect()
	}
	return err
}

// finishLogout drops the host-side state for a number whose session ended:
// the registry entry and the persisted session record. No reconnect loop is
// ever started from here.
func (m *Manager) finishLogout(ctx context.Context, number string) {
	m.registry.Remove(number)
	if err := m.store.Delete(ctx, number); err != nil {
		log.Session(number).WithError(err).Error("Failed to delete persisted credentials")
	}
}

// NotifySelf sends a message into number's own chat through its live session.
func (m *Manager) NotifySelf(ctx context.Context, number string, message string) error {
	client, ok := m.registry.Get(number)
	if !ok {
		return ErrSessionNotConnected
	}
	_, err := sendSelfText(ctx, client, message)
	return err
}

// Broadcast sends a message from number's session to a list of recipients.
func (m *Manager) Broadcast(ctx context.Context, number string, recipients []string, message string) (int, error) {
	client, ok := m.registry.Get(number)
	if !ok {
		return 0, ErrSessionNotConnected
	}
	sent := 0
	for _, recipient := range recipients {
		target := ComposeJID(strings.TrimSpace(recipient))
		if target.User == "" {
			continue
		}
		if _, err := sendText(ctx, client, target, message); err != nil {
			log.Session(number).WithError(err).Warn("Broadcast send failed for " + maskNumber(target.User))
			continue
		}
		sent++
	}
	return sent, nil
}

// ConnectAll replays the durable known-numbers list with bounded concurrency.
func (m *Manager) ConnectAll(ctx context.Context) (BulkResult, error) {
	numbers, err := m.store.ListKnownNumbers(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	return m.pairMany(ctx, numbers), nil
}

// ReconnectAll replays every persisted session record.
func (m *Manager) ReconnectAll(ctx context.Context) (BulkResult, error) {
	numbers, err := m.store.ListSessionNumbers(ctx)
	if err != nil {
		return BulkResult{}, err
	}
	return m.pairMany(ctx, numbers), nil
}

func (m *Manager) pairMany(ctx context.Context, numbers []string) BulkResult {
	result := BulkResult{Requested: len(numbers), Failures: make(map[string]string)}

	var resultMu sync.Mutex
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(env.GetEnvIntOrDefault("BULK_CONNECT_CONCURRENCY", 4))

	for _, number := range numbers {
		number := number
		if m.registry.Has(number) {
			result.Skipped++
			continue
		}
		group.Go(func() error {
			_, err := m.Pair(groupCtx, number)
			resultMu.Lock()
			defer resultMu.Unlock()
			switch {
			case err == nil:
				result.Started++
			case errors.Is(err, ErrAlreadyConnected):
				result.Skipped++
			default:
				result.Failures[number] = err.Error()
			}
			return nil
		})
	}
	_ = group.Wait()

	if len(result.Failures) == 0 {
		result.Failures = nil
	}
	return result
}

// IsPrivileged reports whether sender may run privileged commands on owner's
// session: the owner itself, the env admin list, or the stored admin list.
func (m *Manager) IsPrivileged(ctx context.Context, owner string, sender string) bool {
	if sender == owner {
		return true
	}
	for _, admin := range m.adminNumbers {
		if admin == sender {
			return true
		}
	}
	stored, err := m.store.ListAdminNumbers(ctx)
	if err != nil {
		return false
	}
	for _, admin := range stored {
		if admin == sender {
			return true
		}
	}
	return false
}

// HealthSweep re-pairs every known number missing from the registry and
// drops registry entries whose client went unhealthy underneath us.
func (m *Manager) HealthSweep(ctx context.Context) {
	m.registry.Range(func(number string, client *whatsmeow.Client) {
		if client.IsConnected() && client.IsLoggedIn() {
			return
		}
		log.Session(number).Warn("Health sweep found unhealthy session")
		m.onTransientClose(number, "health sweep")
	})

	numbers, err := m.store.ListSessionNumbers(ctx)
	if err != nil {
		log.Print(nil).WithError(err).Error("Health sweep failed to list sessions")
		return
	}
	for _, number := range numbers {
		if m.registry.Has(number) {
			continue
		}
		if _, err := m.Pair(ctx, number); err != nil && !errors.Is(err, ErrAlreadyConnected) {
			log.Session(number).WithError(err).Warn("Health sweep re-pair failed")
		}
	}
}

// RefreshChannels re-fetches the remote broadcast-channel list.
func (m *Manager) RefreshChannels(ctx context.Context) error {
	return m.channels.Refresh(ctx)
}

// Uptime returns how long number's current connection has been live.
func (m *Manager) Uptime(number string) (time.Duration, bool) {
	return m.registry.Uptime(number)
}
