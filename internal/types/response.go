// Package types holds the fixed wire shapes of the control surface. Callers
// parse these field by field, so they bypass the standard envelope.
package types

type PairResponse struct {
	Code string `json:"code"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type ActiveResponse struct {
	Count   int              `json:"count"`
	Numbers []string         `json:"numbers"`
	Uptimes map[string]int64 `json:"uptimes,omitempty"`
}

type QRResponse struct {
	QR      string `json:"qr"`
	Timeout int    `json:"timeout"`
}

type AboutResponse struct {
	Number string `json:"number"`
	Target string `json:"target"`
	About  string `json:"about"`
}

type AdminTokenResponse struct {
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

type AdminStatsResponse struct {
	ActiveSessions int      `json:"active_sessions"`
	KnownNumbers   int      `json:"known_numbers"`
	Channels       int      `json:"channels"`
	UptimeSeconds  int64    `json:"uptime_seconds"`
	Numbers        []string `json:"numbers"`
}
