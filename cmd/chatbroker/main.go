package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/hyperifyio/chatbroker/internal/app"
	"github.com/hyperifyio/chatbroker/internal/auth"
	"github.com/hyperifyio/chatbroker/internal/llm"
	"github.com/hyperifyio/chatbroker/internal/token"
)

// Exit codes for CLI commands.
const (
	ExitCodeSuccess = 0
	// ExitCodeError indicates a general error (command failed, invalid arguments).
	ExitCodeError = 1
	// ExitCodeAuthFailed indicates the device flow failed or a credential is missing.
	ExitCodeAuthFailed = 2
	// ExitCodeExchangeFailed indicates the short-lived token exchange failed.
	ExitCodeExchangeFailed = 3
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd(&globalFlags{}).ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("chatbroker failed")
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error onto the documented exit codes.
func exitCode(err error) int {
	var exErr *token.ExchangeError
	if errors.As(err, &exErr) {
		return ExitCodeExchangeFailed
	}
	var flowErr *auth.DeviceFlowError
	switch {
	case errors.Is(err, auth.ErrAuthorizationDenied),
		errors.Is(err, auth.ErrDeviceCodeExpired),
		errors.Is(err, auth.ErrConsentUnconfirmed),
		errors.Is(err, token.ErrNoCredential),
		errors.Is(err, llm.ErrUnauthorized),
		errors.As(err, &flowErr):
		return ExitCodeAuthFailed
	}
	return ExitCodeError
}

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	envFiles   []string
	cfg        app.Config
	headers    map[string]string
}

func newRootCmd(g *globalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "chatbroker",
		Short: "Chat with an OAuth device-flow gated, OpenAI-compatible provider",
		Long: `chatbroker authorizes this device with an OAuth device code, keeps the
long-lived credential encrypted on disk (or in the OS keyring), exchanges it
for short-lived bearer tokens and streams chat completions with tool calls
reassembled.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       app.BuildVersion,
	}
	root.SetVersionTemplate(`{{printf "chatbroker version %s\n" .Version}}`)

	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "Path to a YAML or JSON config file")
	pf.StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "Dotenv files loaded before reading the environment")
	pf.BoolVarP(&g.cfg.Verbose, "verbose", "v", false, "Verbose logging")
	pf.BoolVar(&g.cfg.NoBrowser, "no-browser", false, "Do not open the verification URL in a browser")
	pf.StringVar(&g.cfg.ClientID, "client-id", "", "OAuth client id")
	pf.StringVar(&g.cfg.Scope, "scope", "", "OAuth scope")
	pf.StringVar(&g.cfg.DeviceCodeURL, "device-code-url", "", "Device code registration endpoint")
	pf.StringVar(&g.cfg.TokenURL, "token-url", "", "Device token polling endpoint")
	pf.StringVar(&g.cfg.TokenExchangeURL, "token-exchange-url", "", "Short-lived token exchange endpoint")
	pf.StringVar(&g.cfg.ChatBaseURL, "chat-url", "", "Chat API base URL")
	pf.StringVar(&g.cfg.CredentialSink, "credential-sink", "", "Where to keep the credential: file, env or keyring")
	pf.StringVar(&g.cfg.CredentialPath, "credential-path", "", "Credential file path for the file sink")
	pf.StringVar(&g.cfg.MachineID, "machine-id", "", "Override the host identity the credential is bound to")
	pf.DurationVar(&g.cfg.ConsentTimeout, "consent-timeout", 0, "How long to wait for the user to approve (default 10m)")
	pf.StringToStringVar(&g.headers, "header", nil, "Extra request header as Name=Value (repeatable)")

	root.AddCommand(
		newLoginCmd(g),
		newLogoutCmd(g),
		newTokenCmd(g),
		newChatCmd(g),
		newModelsCmd(g),
		newVersionCmd(),
	)
	return root
}

// resolve builds the effective config: flags > env > config file > defaults.
func (g *globalFlags) resolve(cmd *cobra.Command) (app.Config, error) {
	if err := app.LoadEnvFiles(g.envFiles...); err != nil {
		return app.Config{}, fmt.Errorf("load env files: %w", err)
	}
	var cfg app.Config
	if g.configPath != "" {
		fc, err := app.LoadConfigFile(g.configPath)
		if err != nil {
			return app.Config{}, fmt.Errorf("load config: %w", err)
		}
		if err := app.ApplyFileConfig(&cfg, fc); err != nil {
			return app.Config{}, err
		}
		app.ApplyEnvOverrides(&cfg)
	} else {
		app.ApplyEnvToConfig(&cfg)
	}

	fs := cmd.Flags()
	set := func(name string, dst *string, v string) {
		if fs.Changed(name) {
			*dst = v
		}
	}
	set("client-id", &cfg.ClientID, g.cfg.ClientID)
	set("scope", &cfg.Scope, g.cfg.Scope)
	set("device-code-url", &cfg.DeviceCodeURL, g.cfg.DeviceCodeURL)
	set("token-url", &cfg.TokenURL, g.cfg.TokenURL)
	set("token-exchange-url", &cfg.TokenExchangeURL, g.cfg.TokenExchangeURL)
	set("chat-url", &cfg.ChatBaseURL, g.cfg.ChatBaseURL)
	set("credential-sink", &cfg.CredentialSink, g.cfg.CredentialSink)
	set("credential-path", &cfg.CredentialPath, g.cfg.CredentialPath)
	set("machine-id", &cfg.MachineID, g.cfg.MachineID)
	if fs.Changed("verbose") {
		cfg.Verbose = g.cfg.Verbose
	}
	if fs.Changed("no-browser") {
		cfg.NoBrowser = g.cfg.NoBrowser
	}
	if fs.Changed("consent-timeout") {
		cfg.ConsentTimeout = g.cfg.ConsentTimeout
	}
	if len(g.headers) > 0 {
		if cfg.ExtraHeaders == nil {
			cfg.ExtraHeaders = map[string]string{}
		}
		for k, v := range g.headers {
			cfg.ExtraHeaders[k] = v
		}
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	return cfg, nil
}

// open resolves config and builds the application.
func (g *globalFlags) open(cmd *cobra.Command) (*app.App, error) {
	cfg, err := g.resolve(cmd)
	if err != nil {
		return nil, err
	}
	return app.New(cfg, app.Options{PromptOut: cmd.ErrOrStderr()})
}
