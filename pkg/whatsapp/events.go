package whatsapp

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/wahost/go-whatsapp-bot-host/pkg/log"
)

// MessageDispatcher handles inbound chat commands. The command registry in
// pkg/bot implements it; the manager only knows this interface.
type MessageDispatcher interface {
	HandleMessage(ctx context.Context, client *whatsmeow.Client, number string, cfg Config, evt *events.Message)
}

// messageSubscriber is one member of the ordered per-message handler chain.
type messageSubscriber struct {
	name string
	fn   func(ctx context.Context, cfg Config, evt *events.Message)
}

// HandlerSet is the per-session event subscriber bundle. One instance is
// registered per client, before the connection opens, so no event between
// handshake and steady state is dropped. Message subscribers run in
// registration order inside a single goroutine; each one is isolated with
// recover so a panicking subscriber cannot take down its neighbours.
type HandlerSet struct {
	m      *Manager
	number string
	client *whatsmeow.Client

	onMessage []messageSubscriber
}

func newHandlerSet(m *Manager, number string, client *whatsmeow.Client) *HandlerSet {
	h := &HandlerSet{m: m, number: number, client: client}
	h.onMessage = []messageSubscriber{
		{name: "status_auto_respond", fn: h.statusAutoRespond},
		{name: "command_dispatch", fn: h.dispatchCommand},
		{name: "presence_update", fn: h.updatePresence},
		{name: "deletion_notify", fn: h.notifyDeletion},
		{name: "channel_react", fn: h.channelReact},
	}
	return h
}

// Handle is the single function registered with the protocol client. It
// fans typed events out to the subscriber set.
func (h *HandlerSet) Handle(rawEvt interface{}) {
	switch evt := rawEvt.(type) {
	case *events.PairSuccess:
		h.m.onCredentialsRotated(h.number, h.client)
	case *events.Connected:
		h.m.onCredentialsRotated(h.number, h.client)
		go h.m.onConnected(h.number, h.client)
	case *events.PushNameSetting:
		h.m.onCredentialsRotated(h.number, h.client)
	case *events.LoggedOut:
		go h.m.onLoggedOut(h.number, h.client)
	case *events.Disconnected:
		go h.m.onTransientClose(h.number, "disconnected")
	case *events.StreamReplaced:
		go h.m.onTransientClose(h.number, "stream replaced")
	case *events.Message:
		go h.handleMessage(evt)
	case *events.KeepAliveTimeout:
		log.Session(h.number).Warn(fmt.Sprintf("Client keepalive timeout, errors=%d, lastSuccess=%s", evt.ErrorCount, evt.LastSuccess.Format(time.RFC3339)))
	case *events.TemporaryBan:
		log.Session(h.number).Error(fmt.Sprintf("Client temporarily banned, reason=%s, expires=%s", evt.Code, evt.Expire))
	case *events.ConnectFailure:
		log.Session(h.number).Error(fmt.Sprintf("Client connection failure, reason=%s, message=%s", evt.Reason, evt.Message))
	}
}

func (h *HandlerSet) handleMessage(evt *events.Message) {
	ctx := context.Background()
	cfg := h.m.store.LoadConfig(ctx, h.number)

	for _, sub := range h.onMessage {
		h.runIsolated(sub, ctx, cfg, evt)
	}
}

func (h *HandlerSet) runIsolated(sub messageSubscriber, ctx context.Context, cfg Config, evt *events.Message) {
	defer func() {
		if r := recover(); r != nil {
			log.Session(h.number).Error(fmt.Sprintf("Message subscriber %s panicked: %v", sub.name, r))
		}
	}()
	sub.fn(ctx, cfg, evt)
}

// statusAutoRespond marks incoming status posts as viewed and reacts with a
// random emoji from the configured palette. Reactions are rate limited
// process-wide and retried a bounded number of times.
func (h *HandlerSet) statusAutoRespond(ctx context.Context, cfg Config, evt *events.Message) {
	if evt.Info.Chat != types.StatusBroadcastJID || evt.Info.IsFromMe {
		return
	}
	if h.excluded(cfg, evt.Info.Sender.String()) {
		return
	}

	if cfg.AutoViewStatus {
		ids := []types.MessageID{evt.Info.ID}
		if err := h.client.MarkRead(ctx, ids, time.Now(), evt.Info.Chat, evt.Info.Sender); err != nil {
			log.Session(h.number).WithError(err).Warn("Failed to mark status as viewed")
		}
	}

	if !cfg.AutoLikeStatus || len(cfg.EmojiPalette) == 0 {
		return
	}
	if !h.m.reactLimiter.Allow() {
		return
	}

	emoji := cfg.EmojiPalette[rand.Intn(len(cfg.EmojiPalette))]
	err := h.m.actionPolicy.Do(ctx, func() error {
		msg := h.client.BuildReaction(evt.Info.Chat, evt.Info.Sender, evt.Info.ID, emoji)
		_, err := h.client.SendMessage(ctx, evt.Info.Chat, msg)
		return err
	})
	if err != nil {
		log.Session(h.number).WithError(err).Warn("Failed to react to status")
	}
}

func (h *HandlerSet) dispatchCommand(ctx context.Context, cfg Config, evt *events.Message) {
	if h.m.dispatcher == nil {
		return
	}
	if evt.Info.Chat == types.StatusBroadcastJID || evt.Info.Chat.Server == types.NewsletterServer {
		return
	}
	h.m.dispatcher.HandleMessage(ctx, h.client, h.number, cfg, evt)
}

// updatePresence flashes a "recording" chat state on direct messages. It is
// fire and forget: failure changes nothing about message handling.
func (h *HandlerSet) updatePresence(ctx context.Context, cfg Config, evt *events.Message) {
	if !cfg.AutoRecording || evt.Info.IsFromMe {
		return
	}
	if evt.Info.Chat.Server != types.DefaultUserServer {
		return
	}
	_ = h.client.SendChatPresence(ctx, evt.Info.Chat, types.ChatPresenceComposing, types.ChatPresenceMediaAudio)
}

// notifyDeletion tells the session owner when someone revokes a message.
func (h *HandlerSet) notifyDeletion(ctx context.Context, cfg Config, evt *events.Message) {
	if evt.Info.IsFromMe || evt.Message == nil || evt.Message.ProtocolMessage == nil {
		return
	}
	if evt.Message.ProtocolMessage.GetType() != waE2E.ProtocolMessage_REVOKE {
		return
	}

	deletedID := evt.Message.ProtocolMessage.GetKey().GetID()
	notice := fmt.Sprintf("Message %s was deleted by %s in %s at %s",
		deletedID,
		evt.Info.Sender.User,
		evt.Info.Chat.String(),
		evt.Info.Timestamp.Format(time.RFC3339))
	if _, err := sendSelfText(ctx, h.client, notice); err != nil {
		log.Session(h.number).WithError(err).Warn("Failed to send deletion notice")
	}
}

// channelReact reacts to posts in followed broadcast channels, skipping any
// channel on the per-number exclusion list.
func (h *HandlerSet) channelReact(ctx context.Context, cfg Config, evt *events.Message) {
	if evt.Info.Chat.Server != types.NewsletterServer || evt.Info.IsFromMe {
		return
	}
	if !h.m.channels.Contains(evt.Info.Chat.String()) {
		return
	}
	if h.excluded(cfg, evt.Info.Chat.String()) {
		return
	}
	if len(cfg.EmojiPalette) == 0 || !h.m.reactLimiter.Allow() {
		return
	}

	emoji := cfg.EmojiPalette[rand.Intn(len(cfg.EmojiPalette))]
	err := h.client.NewsletterSendReaction(ctx, evt.Info.Chat, evt.Info.ServerID, emoji, "")
	if err != nil {
		log.Session(h.number).WithError(err).Warn("Failed to react in channel")
	}
}

func (h *HandlerSet) excluded(cfg Config, jid string) bool {
	for _, excluded := range cfg.ExcludedNewsletters {
		if excluded == jid {
			return true
		}
	}
	return false
}
