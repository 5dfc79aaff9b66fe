package app

import (
	"os"
	"strings"
	"time"
)

// Environment keys read by ApplyEnvToConfig and ApplyEnvOverrides.
const (
	EnvClientID         = "BROKER_CLIENT_ID"
	EnvScope            = "BROKER_SCOPE"
	EnvDeviceCodeURL    = "BROKER_DEVICE_CODE_URL"
	EnvTokenURL         = "BROKER_TOKEN_URL"
	EnvTokenExchangeURL = "BROKER_TOKEN_EXCHANGE_URL"
	EnvChatBaseURL      = "BROKER_CHAT_BASE_URL"
	EnvModel            = "BROKER_MODEL"
	EnvCredentialSink   = "BROKER_CREDENTIAL_SINK"
	EnvCredentialPath   = "BROKER_CREDENTIAL_PATH"
	EnvCredentialEnv    = "BROKER_CREDENTIAL_ENV"
	EnvVerbose          = "BROKER_VERBOSE"
	EnvNoBrowser        = "BROKER_NO_BROWSER"
	EnvConsentTimeout   = "BROKER_CONSENT_TIMEOUT"
)

func stringFields(cfg *Config) map[string]*string {
	return map[string]*string{
		EnvClientID:         &cfg.ClientID,
		EnvScope:            &cfg.Scope,
		EnvDeviceCodeURL:    &cfg.DeviceCodeURL,
		EnvTokenURL:         &cfg.TokenURL,
		EnvTokenExchangeURL: &cfg.TokenExchangeURL,
		EnvChatBaseURL:      &cfg.ChatBaseURL,
		EnvModel:            &cfg.Model,
		EnvCredentialSink:   &cfg.CredentialSink,
		EnvCredentialPath:   &cfg.CredentialPath,
		EnvCredentialEnv:    &cfg.CredentialEnv,
	}
}

// ApplyEnvToConfig populates unset fields of cfg from environment variables.
// Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	for key, dst := range stringFields(cfg) {
		if *dst == "" {
			*dst = strings.TrimSpace(os.Getenv(key))
		}
	}
	if cfg.ConsentTimeout == 0 {
		if d, ok := envDuration(EnvConsentTimeout); ok {
			cfg.ConsentTimeout = d
		}
	}

	setBool := func(dst *bool, envKey string) {
		if *dst {
			return
		}
		if v, ok := envBool(envKey); ok && v {
			*dst = true
		}
	}
	setBool(&cfg.Verbose, EnvVerbose)
	setBool(&cfg.NoBrowser, EnvNoBrowser)
}

// ApplyEnvOverrides forcefully overrides cfg fields with environment variables
// when the corresponding env vars are set. Env then wins over the config file
// while flags, applied afterwards, stay highest.
func ApplyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}
	for key, dst := range stringFields(cfg) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	if d, ok := envDuration(EnvConsentTimeout); ok {
		cfg.ConsentTimeout = d
	}
	if v, ok := envBool(EnvVerbose); ok {
		cfg.Verbose = v
	}
	if v, ok := envBool(EnvNoBrowser); ok {
		cfg.NoBrowser = v
	}
}

func envBool(key string) (value, ok bool) {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true, true
	case "0", "false", "no", "off":
		return false, true
	}
	return false, false
}

// envDuration accepts Go durations ("90s") and bare seconds ("90").
func envDuration(key string) (time.Duration, bool) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return 0, false
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d, true
	}
	if d, err := time.ParseDuration(s + "s"); err == nil && d > 0 {
		return d, true
	}
	return 0, false
}
