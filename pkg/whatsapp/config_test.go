package whatsapp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseConfig(t *testing.T) {
	t.Run("valid document", func(t *testing.T) {
		cfg, err := ParseConfig([]byte(`{"prefix":"#","autoViewStatus":true,"emojiPalette":["🔥","💚"]}`))
		require.NoError(t, err)
		assert.Equal(t, "#", cfg.Prefix)
		assert.True(t, cfg.AutoViewStatus)
		assert.Equal(t, []string{"🔥", "💚"}, cfg.EmojiPalette)
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"prefix":`))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("wrong field type", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"autoViewStatus":"yes"}`))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})

	t.Run("non-emoji palette entry", func(t *testing.T) {
		_, err := ParseConfig([]byte(`{"emojiPalette":["not-an-emoji"]}`))
		assert.ErrorIs(t, err, ErrInvalidConfig)
	})
}

func TestConfigClone(t *testing.T) {
	original := Config{Prefix: ".", EmojiPalette: []string{"🔥"}}
	clone := original.Clone()
	clone.EmojiPalette[0] = "💚"
	assert.Equal(t, "🔥", original.EmojiPalette[0])
}

func TestNormalizeNumber(t *testing.T) {
	t.Run("strips punctuation and plus", func(t *testing.T) {
		number, err := NormalizeNumber("+263 786-831-091")
		require.NoError(t, err)
		assert.Equal(t, "263786831091", number)
	})

	t.Run("rejects short input", func(t *testing.T) {
		_, err := NormalizeNumber("12345")
		assert.ErrorIs(t, err, ErrInvalidNumber)
	})

	t.Run("rejects empty input", func(t *testing.T) {
		_, err := NormalizeNumber("not a number")
		assert.ErrorIs(t, err, ErrInvalidNumber)
	})
}

func TestComposeJID(t *testing.T) {
	t.Run("bare number becomes a user jid", func(t *testing.T) {
		jid := ComposeJID("+628111111111")
		assert.Equal(t, "628111111111", jid.User)
		assert.Equal(t, "s.whatsapp.net", jid.Server)
	})

	t.Run("group identifier becomes a group jid", func(t *testing.T) {
		jid := ComposeJID("628111111111-1631234567")
		assert.Equal(t, "g.us", jid.Server)
	})

	t.Run("full jid passes through", func(t *testing.T) {
		jid := ComposeJID("120363023456789012@g.us")
		assert.Equal(t, "120363023456789012", jid.User)
		assert.Equal(t, "g.us", jid.Server)
	})
}
