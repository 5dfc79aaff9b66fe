package app

import (
	"os"
	"path/filepath"
	"time"
)

// Credential sink kinds accepted by CredentialSink.
const (
	SinkFile    = "file"
	SinkEnv     = "env"
	SinkKeyring = "keyring"
)

// Defaults applied when neither flags, env nor the config file set a value.
const (
	defaultScope          = "read:user"
	defaultCredentialEnv  = "BROKER_CREDENTIAL"
	defaultConsentTimeout = 10 * time.Minute
	defaultHTTPTimeout    = 60 * time.Second
	keyringService        = "chatbroker"
)

// Config holds runtime configuration for the application.
type Config struct {
	// Device flow
	ClientID      string
	Scope         string
	DeviceCodeURL string
	TokenURL      string

	// Short-lived token exchange
	TokenExchangeURL string

	// Chat provider
	ChatBaseURL string
	Model       string
	// ExtraHeaders are sent on exchange and provider requests.
	ExtraHeaders map[string]string

	// Credential storage
	CredentialSink string
	CredentialPath string
	CredentialEnv  string
	// MachineID overrides the host name the vault key is bound to.
	MachineID string

	// Behavior
	Verbose        bool
	NoBrowser      bool
	ConsentTimeout time.Duration
	HTTPTimeout    time.Duration
}

// DefaultCredentialPath is the vault file under the user config directory.
func DefaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		dir = "."
	}
	return filepath.Join(dir, "chatbroker", "credential")
}

// ApplyDefaults fills zero fields with defaults. It runs last.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Scope == "" {
		cfg.Scope = defaultScope
	}
	if cfg.CredentialSink == "" {
		cfg.CredentialSink = SinkFile
	}
	if cfg.CredentialPath == "" {
		cfg.CredentialPath = DefaultCredentialPath()
	}
	if cfg.CredentialEnv == "" {
		cfg.CredentialEnv = defaultCredentialEnv
	}
	if cfg.ConsentTimeout <= 0 {
		cfg.ConsentTimeout = defaultConsentTimeout
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = defaultHTTPTimeout
	}
}
