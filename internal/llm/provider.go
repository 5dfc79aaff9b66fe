package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Client is the minimal interface needed to call a chat model.
type Client interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Streamer produces reassembled chunk streams.
type Streamer interface {
	StreamChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (*Stream, error)
}

// ModelLister is an optional capability that allows listing available models.
type ModelLister interface {
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// TokenCache authenticates outgoing requests with short-lived tokens.
type TokenCache interface {
	Transport(base http.RoundTripper) http.RoundTripper
	Invalidate()
}

// ErrUnauthorized is returned when the provider rejects the bearer token.
// The cached token has already been dropped, so a retry refreshes it.
var ErrUnauthorized = errors.New("llm: provider rejected token")

// Config configures a Provider.
type Config struct {
	// BaseURL is the chat API root; "/chat/completions" and "/models" are
	// appended to it.
	BaseURL string
	// HTTPClient supplies the base transport and timeout. Nil uses
	// http.DefaultClient.
	HTTPClient *http.Client
	Tokens     TokenCache
	// Header is added to every request.
	Header http.Header
}

// Provider talks to an OpenAI-compatible chat endpoint with bearer tokens
// from a TokenCache.
type Provider struct {
	inner   *openai.Client
	http    *http.Client
	baseURL string
}

// NewProvider builds a Provider. Requests pass through the static header
// transport and then the token transport.
func NewProvider(cfg Config) *Provider {
	base := cfg.HTTPClient
	if base == nil {
		base = http.DefaultClient
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	if cfg.Tokens != nil {
		rt = cfg.Tokens.Transport(rt)
	}
	hc := &http.Client{
		Timeout:   base.Timeout,
		Transport: &headerTransport{base: rt, header: cfg.Header.Clone(), tokens: cfg.Tokens},
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	oc := openai.DefaultConfig("")
	oc.BaseURL = baseURL
	oc.HTTPClient = hc
	return &Provider{inner: openai.NewClientWithConfig(oc), http: hc, baseURL: baseURL}
}

func (p *Provider) CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	request.Stream = false
	resp, err := p.inner.CreateChatCompletion(ctx, request)
	if err != nil {
		return resp, classify(err)
	}
	return resp, nil
}

func (p *Provider) ListModels(ctx context.Context) (openai.ModelsList, error) {
	list, err := p.inner.ListModels(ctx)
	if err != nil {
		return list, classify(err)
	}
	return list, nil
}

// classify maps go-openai 401 errors to ErrUnauthorized.
func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode == http.StatusUnauthorized {
		return fmt.Errorf("%w: %v", ErrUnauthorized, reqErr.Err)
	}
	return err
}

// headerTransport sets static headers and drops the cached token when the
// provider answers 401.
type headerTransport struct {
	base   http.RoundTripper
	header http.Header
	tokens TokenCache
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if len(t.header) > 0 {
		req = req.Clone(req.Context())
		for k, vs := range t.header {
			req.Header.Del(k)
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.tokens != nil {
		log.Warn().Str("url", req.URL.Redacted()).Msg("provider rejected token; invalidating cache")
		t.tokens.Invalidate()
	}
	return resp, nil
}
