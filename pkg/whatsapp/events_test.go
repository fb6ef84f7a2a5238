package whatsapp

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/types/events"
)

func TestMessageSubscriberOrder(t *testing.T) {
	h := newHandlerSet(&Manager{}, "628111111111", nil)

	var names []string
	for _, sub := range h.onMessage {
		names = append(names, sub.name)
	}
	// Subscribers fire in registration order for a given message; the status
	// responder must run before command dispatch.
	assert.Equal(t, []string{
		"status_auto_respond",
		"command_dispatch",
		"presence_update",
		"deletion_notify",
		"channel_react",
	}, names)
}

func TestSubscriberPanicIsolation(t *testing.T) {
	h := newHandlerSet(&Manager{}, "628111111111", nil)

	boom := messageSubscriber{
		name: "boom",
		fn: func(ctx context.Context, cfg Config, evt *events.Message) {
			panic("subscriber exploded")
		},
	}
	require.NotPanics(t, func() {
		h.runIsolated(boom, context.Background(), Config{}, nil)
	})
}

func TestExclusionList(t *testing.T) {
	h := newHandlerSet(&Manager{}, "628111111111", nil)
	cfg := Config{ExcludedNewsletters: []string{"123@newsletter"}}

	assert.True(t, h.excluded(cfg, "123@newsletter"))
	assert.False(t, h.excluded(cfg, "456@newsletter"))
	assert.False(t, h.excluded(Config{}, "123@newsletter"))
}
