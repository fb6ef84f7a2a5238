package whatsapp

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forPelevin/gomoji"
	"github.com/rivo/uniseg"

	"github.com/wahost/go-whatsapp-bot-host/pkg/env"
)

// Config is the per-number configuration document. Absent numbers fall back
// to the process-wide defaults; the OTP-gated update flow replaces the whole
// document at once.
type Config struct {
	Prefix              string   `json:"prefix"`
	AutoViewStatus      bool     `json:"autoViewStatus"`
	AutoLikeStatus      bool     `json:"autoLikeStatus"`
	AutoRecording       bool     `json:"autoRecording"`
	EmojiPalette        []string `json:"emojiPalette"`
	ExcludedNewsletters []string `json:"excludedNewsletters"`
}

var ErrInvalidConfig = errors.New("Invalid config format")

// DefaultConfig builds the process-wide default document from environment.
func DefaultConfig() Config {
	return Config{
		Prefix:              env.GetEnvStringOrDefault("BOT_PREFIX", "."),
		AutoViewStatus:      env.GetEnvBoolOrDefault("BOT_AUTO_VIEW_STATUS", true),
		AutoLikeStatus:      env.GetEnvBoolOrDefault("BOT_AUTO_LIKE_STATUS", true),
		AutoRecording:       env.GetEnvBoolOrDefault("BOT_AUTO_RECORDING", false),
		EmojiPalette:        env.GetEnvStringListOrDefault("BOT_EMOJI_PALETTE", []string{"💚", "🔥", "✨", "🙌", "🎉"}),
		ExcludedNewsletters: env.GetEnvStringListOrDefault("BOT_EXCLUDED_NEWSLETTERS", nil),
	}
}

// Clone returns an independent copy so callers can mutate their view freely.
func (c Config) Clone() Config {
	clone := c
	clone.EmojiPalette = append([]string(nil), c.EmojiPalette...)
	clone.ExcludedNewsletters = append([]string(nil), c.ExcludedNewsletters...)
	return clone
}

// ParseConfig validates a raw configuration payload from the update flow.
// Anything that is not a JSON object matching the document shape, or that
// carries a palette entry which is not a single emoji, is rejected.
func ParseConfig(raw []byte) (Config, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return Config{}, ErrInvalidConfig
	}

	for _, emoji := range cfg.EmojiPalette {
		if !gomoji.ContainsEmoji(emoji) && uniseg.GraphemeClusterCount(emoji) != 1 {
			return Config{}, fmt.Errorf("%w: palette entry %q is not a single emoji", ErrInvalidConfig, emoji)
		}
	}

	return cfg, nil
}
