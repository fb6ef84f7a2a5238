package whatsapp

import (
	"errors"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var ErrInvalidNumber = errors.New("phone number must contain 7 to 15 digits")

// NormalizeNumber reduces any caller-supplied phone number to the digits-only
// form used as the session key everywhere in this system.
func NormalizeNumber(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	number := b.String()
	if len(number) < 7 || len(number) > 15 {
		return "", ErrInvalidNumber
	}
	return number, nil
}

// ComposeUserJID maps a normalized number to its personal JID.
func ComposeUserJID(number string) types.JID {
	return types.NewJID(number, types.DefaultUserServer)
}

// ComposeJID accepts a full JID string, a group identifier, or a bare phone
// number and produces the matching JID.
func ComposeJID(id string) types.JID {
	if strings.ContainsRune(id, '@') {
		if parsed, err := types.ParseJID(id); err == nil {
			return parsed
		}
	}

	id = DecomposeJID(id)
	if strings.ContainsRune(id, '-') || len(id) >= 18 {
		return types.NewJID(id, types.GroupServer)
	}
	return types.NewJID(id, types.DefaultUserServer)
}

// maskNumber hides all but the last four digits for log output.
func maskNumber(number string) string {
	if len(number) < 4 {
		return number
	}
	return number[:len(number)-4] + "xxxx"
}

// DecomposeJID strips the server part and any leading plus sign.
func DecomposeJID(id string) string {
	if strings.ContainsRune(id, '@') {
		buffers := strings.Split(id, "@")
		id = buffers[0]
	}

	id = strings.TrimSpace(id)
	if len(id) > 0 && id[0] == '+' {
		id = id[1:]
	}

	return id
}
