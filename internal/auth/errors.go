package auth

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	// ErrAuthorizationDenied means the user declined the grant. The whole flow must restart.
	ErrAuthorizationDenied = errors.New("auth: authorization denied by user")
	// ErrDeviceCodeExpired means the device code or the consent wait timed out.
	ErrDeviceCodeExpired = errors.New("auth: device code expired; restart authentication")
	// ErrConsentUnconfirmed means the consent UI signalled completion but the
	// provider has not granted the token.
	ErrConsentUnconfirmed = errors.New("auth: consent signalled but provider has not granted access")
)

// DeviceFlowError reports an unexpected provider answer or transport failure
// during device registration or polling.
type DeviceFlowError struct {
	Op          string // "device_code" or "poll"
	StatusCode  int
	Code        string
	Description string
	Err         error
}

func (e *DeviceFlowError) Error() string {
	msg := "auth: " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status=%d", e.StatusCode)
	}
	if e.Code != "" {
		msg += ": " + e.Code
	}
	if e.Description != "" {
		msg += " - " + e.Description
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeviceFlowError) Unwrap() error { return e.Err }

// truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
