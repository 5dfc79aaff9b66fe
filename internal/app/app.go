package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/oauth2"

	"github.com/hyperifyio/chatbroker/internal/auth"
	"github.com/hyperifyio/chatbroker/internal/llm"
	"github.com/hyperifyio/chatbroker/internal/token"
	"github.com/hyperifyio/chatbroker/internal/vault"
)

// Options carries collaborators that tests and the CLI may replace.
type Options struct {
	// PromptOut receives the device code prompt. Nil means os.Stderr.
	PromptOut io.Writer
	// Presenter replaces the console presenter.
	Presenter auth.Presenter
	// Identity replaces the host/user identity the vault key is bound to.
	Identity *vault.Identity
	// HTTPClient replaces the tuned clients for every outgoing call.
	HTTPClient *http.Client
	// PollUnit scales device flow poll intervals. Zero means one second.
	PollUnit time.Duration
}

// App wires the vault, device flow, token cache and provider.
type App struct {
	cfg      Config
	vault    *vault.Vault
	flow     *auth.Flow
	source   *token.VaultSource
	tokens   *token.Cache
	provider *llm.Provider
}

// New validates cfg and builds the application graph. Nothing touches the
// network until a command runs.
func New(cfg Config, opts Options) (*App, error) {
	ApplyDefaults(&cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	id := vault.CurrentIdentity()
	if opts.Identity != nil {
		id = *opts.Identity
	}
	if cfg.MachineID != "" {
		id.Machine = cfg.MachineID
	}
	sink, err := newSink(cfg, id)
	if err != nil {
		return nil, err
	}
	v := vault.New(id, sink)

	apiClient, streamClient := opts.HTTPClient, opts.HTTPClient
	if apiClient == nil {
		apiClient = newAPIClient(cfg.HTTPTimeout)
		streamClient = newStreamingHTTPClient(cfg.HTTPTimeout)
	}

	presenter := opts.Presenter
	if presenter == nil {
		out := opts.PromptOut
		if out == nil {
			out = os.Stderr
		}
		presenter = auth.ConsolePresenter{Out: out, OpenBrowser: !cfg.NoBrowser}
	}
	flow := auth.NewFlow(auth.Config{
		ClientID: cfg.ClientID,
		Scope:    cfg.Scope,
		Endpoint: oauth2.Endpoint{
			DeviceAuthURL: cfg.DeviceCodeURL,
			TokenURL:      cfg.TokenURL,
		},
		HTTPClient:     apiClient,
		Presenter:      presenter,
		Store:          v,
		ConsentTimeout: cfg.ConsentTimeout,
		PollUnit:       opts.PollUnit,
	})

	header := requestHeader(cfg)
	source := &token.VaultSource{Vault: v, Auth: flow}
	tokens := token.NewCache(source, &token.HTTPExchanger{
		URL:        cfg.TokenExchangeURL,
		HTTPClient: apiClient,
		Header:     header,
	})
	provider := llm.NewProvider(llm.Config{
		BaseURL:    cfg.ChatBaseURL,
		HTTPClient: streamClient,
		Tokens:     tokens,
		Header:     header,
	})

	log.Debug().Str("sink", sink.Name()).Str("chat", cfg.ChatBaseURL).Msg("app configured")
	return &App{cfg: cfg, vault: v, flow: flow, source: source, tokens: tokens, provider: provider}, nil
}

func newSink(cfg Config, id vault.Identity) (vault.Sink, error) {
	switch cfg.CredentialSink {
	case SinkFile:
		return vault.FileSink{Path: cfg.CredentialPath}, nil
	case SinkEnv:
		return vault.EnvSink{Key: cfg.CredentialEnv}, nil
	case SinkKeyring:
		return vault.KeyringSink{Service: keyringService, User: id.User}, nil
	}
	return nil, fmt.Errorf("config: unknown credential sink %q", cfg.CredentialSink)
}

func requestHeader(cfg Config) http.Header {
	h := http.Header{}
	h.Set("User-Agent", UserAgent())
	for k, v := range cfg.ExtraHeaders {
		h.Set(k, v)
	}
	return h
}

// Close zeroes key material.
func (a *App) Close() {
	a.vault.Close()
}

// Provider exposes the authenticated chat client.
func (a *App) Provider() *llm.Provider { return a.provider }

// Login forces a new device flow run even when a credential is stored. The
// previous credential stays in place if the run fails.
func (a *App) Login(ctx context.Context) (auth.Credential, error) {
	cred, err := a.flow.Authenticate(ctx)
	if err != nil {
		return auth.Credential{}, err
	}
	a.source.Use(cred)
	a.tokens.Invalidate()
	return cred, nil
}

// Logout forgets the stored credential and the cached token.
func (a *App) Logout() error {
	a.tokens.Invalidate()
	if err := a.vault.Forget(); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	a.source.Reset()
	return nil
}

// Token returns a valid short-lived token, authenticating if needed.
func (a *App) Token(ctx context.Context) (token.Token, error) {
	if _, err := a.tokens.GetToken(ctx); err != nil {
		return token.Token{}, err
	}
	return a.tokens.Current(), nil
}

// Models lists model ids offered by the provider.
func (a *App) Models(ctx context.Context) ([]string, error) {
	var list openai.ModelsList
	err := a.retryUnauthorized(func() error {
		var err error
		list, err = a.provider.ListModels(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// ChatOptions describes one chat turn.
type ChatOptions struct {
	System      string
	Prompt      string
	Model       string
	Stream      bool
	Temperature float32
	MaxTokens   int
	Tools       []openai.Tool
	ToolChoice  any
}

func (a *App) request(opts ChatOptions) openai.ChatCompletionRequest {
	model := opts.Model
	if model == "" {
		model = a.cfg.Model
	}
	var msgs []openai.ChatCompletionMessage
	if opts.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: opts.System})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: opts.Prompt})
	req := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    msgs,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		Tools:       opts.Tools,
	}
	if len(opts.Tools) > 0 && opts.ToolChoice != nil {
		req.ToolChoice = opts.ToolChoice
	}
	return req
}

// Chat runs one turn. When streaming, content deltas are written to out as
// they arrive; otherwise the full reply is written once. Tool calls are
// returned in the Completion and never written to out.
func (a *App) Chat(ctx context.Context, opts ChatOptions, out io.Writer) (llm.Completion, error) {
	if out == nil {
		out = io.Discard
	}
	req := a.request(opts)
	if !opts.Stream {
		var resp openai.ChatCompletionResponse
		err := a.retryUnauthorized(func() error {
			var err error
			resp, err = a.provider.CreateChatCompletion(ctx, req)
			return err
		})
		if err != nil {
			return llm.Completion{}, err
		}
		c := llm.Completion{ID: resp.ID}
		if len(resp.Choices) > 0 {
			msg := resp.Choices[0].Message
			c.Content = msg.Content
			c.ToolCalls = msg.ToolCalls
			c.FinishReason = resp.Choices[0].FinishReason
		}
		if c.Content != "" {
			_, _ = io.WriteString(out, c.Content)
		}
		return c, nil
	}

	var stream *llm.Stream
	err := a.retryUnauthorized(func() error {
		var err error
		stream, err = a.provider.StreamChatCompletion(ctx, req)
		return err
	})
	if err != nil {
		return llm.Completion{}, err
	}
	defer stream.Close()
	return llm.Collect(tee(stream, out))
}

// tee writes each content delta to out while passing chunks on.
func tee(s *llm.Stream, out io.Writer) iter.Seq2[llm.Chunk, error] {
	return func(yield func(llm.Chunk, error) bool) {
		for c, err := range s.All() {
			if err == nil {
				for _, ch := range c.Choices {
					if ch.Delta.Content != "" {
						_, _ = io.WriteString(out, ch.Delta.Content)
					}
				}
			}
			if !yield(c, err) {
				return
			}
		}
	}
}

// retryUnauthorized runs fn again once after a 401. The provider already
// invalidated the cached token, so the second attempt uses a fresh one.
func (a *App) retryUnauthorized(fn func() error) error {
	err := fn()
	if errors.Is(err, llm.ErrUnauthorized) {
		log.Info().Msg("token rejected by provider; refreshing and retrying once")
		err = fn()
	}
	return err
}
