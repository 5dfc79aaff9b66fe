package auth

import (
	"strings"
	"time"
)

// DeviceGrantType is the RFC 8628 grant type sent while polling.
const DeviceGrantType = "urn:ietf:params:oauth:grant-type:device_code"

// Session is one device-code registration. It is single-use: once polling
// reaches a terminal outcome it must not be polled again.
type Session struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"` // seconds until the device code expires
	Interval        int    `json:"interval"`   // minimum polling interval in seconds
}

// Expiry returns the session lifetime, or zero when the provider did not send one.
func (s Session) Expiry() time.Duration {
	if s.ExpiresIn <= 0 {
		return 0
	}
	return time.Duration(s.ExpiresIn) * time.Second
}

// Credential is the long-lived access token produced by a successful device flow.
type Credential struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Scope       string `json:"scope"`
}

// Valid reports whether the credential carries a usable access token.
func (c Credential) Valid() bool {
	return strings.TrimSpace(c.AccessToken) != ""
}

// State is a step of the device authentication state machine.
type State int

const (
	StateIdle State = iota
	StateCodeRequested
	StateAwaitingConsent
	StatePolling
	StateAuthorized
	StateDenied
	StateExpired
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCodeRequested:
		return "code_requested"
	case StateAwaitingConsent:
		return "awaiting_consent"
	case StatePolling:
		return "polling"
	case StateAuthorized:
		return "authorized"
	case StateDenied:
		return "denied"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateAuthorized || s == StateDenied || s == StateExpired
}
