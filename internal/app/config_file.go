package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// FileConfig represents the single-file configuration schema.
type FileConfig struct {
	OAuth struct {
		ClientID      string `yaml:"clientId" json:"clientId"`
		Scope         string `yaml:"scope" json:"scope"`
		DeviceCodeURL string `yaml:"deviceCodeUrl" json:"deviceCodeUrl"`
		TokenURL      string `yaml:"tokenUrl" json:"tokenUrl"`
		ExchangeURL   string `yaml:"tokenExchangeUrl" json:"tokenExchangeUrl"`
	} `yaml:"oauth" json:"oauth"`

	Chat struct {
		BaseURL string            `yaml:"base" json:"base"`
		Model   string            `yaml:"model" json:"model"`
		Headers map[string]string `yaml:"headers" json:"headers"`
	} `yaml:"chat" json:"chat"`

	Credential struct {
		Sink      string `yaml:"sink" json:"sink"`
		Path      string `yaml:"path" json:"path"`
		Env       string `yaml:"env" json:"env"`
		MachineID string `yaml:"machineId" json:"machineId"`
	} `yaml:"credential" json:"credential"`

	Verbose   bool `yaml:"verbose" json:"verbose"`
	NoBrowser bool `yaml:"noBrowser" json:"noBrowser"`
	// Durations are strings ("10m") in both YAML and JSON.
	ConsentTimeout string `yaml:"consentTimeout" json:"consentTimeout"`
	HTTPTimeout    string `yaml:"httpTimeout" json:"httpTimeout"`
}

// LoadConfigFile reads YAML or JSON into FileConfig.
func LoadConfigFile(path string) (FileConfig, error) {
	var fc FileConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return fc, err
	}
	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse yaml: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(b, &fc); err != nil {
			return fc, fmt.Errorf("parse json: %w", err)
		}
	default:
		// Try YAML then JSON
		if err := yaml.Unmarshal(b, &fc); err != nil {
			if jerr := json.Unmarshal(b, &fc); jerr != nil {
				return fc, fmt.Errorf("parse config: %v (yaml) / %v (json)", err, jerr)
			}
		}
	}
	return fc, nil
}

// ApplyFileConfig overlays values from FileConfig into cfg for any fields that
// are currently unset in cfg.
func ApplyFileConfig(cfg *Config, fc FileConfig) error {
	if cfg == nil {
		return nil
	}
	fill := func(dst *string, v string) {
		if *dst == "" && v != "" {
			*dst = v
		}
	}
	fill(&cfg.ClientID, fc.OAuth.ClientID)
	fill(&cfg.Scope, fc.OAuth.Scope)
	fill(&cfg.DeviceCodeURL, fc.OAuth.DeviceCodeURL)
	fill(&cfg.TokenURL, fc.OAuth.TokenURL)
	fill(&cfg.TokenExchangeURL, fc.OAuth.ExchangeURL)
	fill(&cfg.ChatBaseURL, fc.Chat.BaseURL)
	fill(&cfg.Model, fc.Chat.Model)
	fill(&cfg.CredentialSink, fc.Credential.Sink)
	fill(&cfg.CredentialPath, fc.Credential.Path)
	fill(&cfg.CredentialEnv, fc.Credential.Env)
	fill(&cfg.MachineID, fc.Credential.MachineID)

	if len(fc.Chat.Headers) > 0 {
		if cfg.ExtraHeaders == nil {
			cfg.ExtraHeaders = map[string]string{}
		}
		for k, v := range fc.Chat.Headers {
			if _, set := cfg.ExtraHeaders[k]; !set {
				cfg.ExtraHeaders[k] = v
			}
		}
	}
	if !cfg.Verbose && fc.Verbose {
		cfg.Verbose = true
	}
	if !cfg.NoBrowser && fc.NoBrowser {
		cfg.NoBrowser = true
	}
	if cfg.ConsentTimeout == 0 && fc.ConsentTimeout != "" {
		d, err := time.ParseDuration(fc.ConsentTimeout)
		if err != nil {
			return fmt.Errorf("config: consentTimeout: %w", err)
		}
		cfg.ConsentTimeout = d
	}
	if cfg.HTTPTimeout == 0 && fc.HTTPTimeout != "" {
		d, err := time.ParseDuration(fc.HTTPTimeout)
		if err != nil {
			return fmt.Errorf("config: httpTimeout: %w", err)
		}
		cfg.HTTPTimeout = d
	}
	return nil
}

// ValidateConfig performs minimal schema validation for required settings.
func ValidateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return fmt.Errorf("config: client id is required (or set %s)", EnvClientID)
	}
	urls := []struct {
		name, env, value string
	}{
		{"device code url", EnvDeviceCodeURL, cfg.DeviceCodeURL},
		{"token url", EnvTokenURL, cfg.TokenURL},
		{"token exchange url", EnvTokenExchangeURL, cfg.TokenExchangeURL},
		{"chat base url", EnvChatBaseURL, cfg.ChatBaseURL},
	}
	for _, u := range urls {
		if strings.TrimSpace(u.value) == "" {
			return fmt.Errorf("config: %s is required (or set %s)", u.name, u.env)
		}
		parsed, err := url.Parse(u.value)
		if err != nil || parsed.Host == "" || (parsed.Scheme != "http" && parsed.Scheme != "https") {
			return fmt.Errorf("config: %s %q is not an absolute http(s) url", u.name, u.value)
		}
	}
	switch cfg.CredentialSink {
	case "", SinkFile, SinkEnv, SinkKeyring:
	default:
		return fmt.Errorf("config: unknown credential sink %q (want %s, %s or %s)", cfg.CredentialSink, SinkFile, SinkEnv, SinkKeyring)
	}
	if cfg.ConsentTimeout < 0 || cfg.HTTPTimeout < 0 {
		return errors.New("config: negative timeouts are not allowed")
	}
	return nil
}
