package token

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// cacheSource adapts a Cache to oauth2.TokenSource. oauth2.TokenSource has
// no context parameter, so the context captured at construction is used
// for refreshes.
type cacheSource struct {
	ctx   context.Context
	cache *Cache
}

func (s cacheSource) Token() (*oauth2.Token, error) {
	t, err := s.cache.get(s.ctx)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: t.Value, TokenType: "Bearer", Expiry: t.ExpiresAt}, nil
}

// TokenSource exposes the cache as an oauth2.TokenSource.
func (c *Cache) TokenSource(ctx context.Context) oauth2.TokenSource {
	return cacheSource{ctx: ctx, cache: c}
}

// Transport wraps base so every request carries "Authorization: Bearer <token>"
// from the cache. Refreshes run under the request's context. A nil base uses
// http.DefaultTransport.
func (c *Cache) Transport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return &bearerTransport{cache: c, base: base}
}

type bearerTransport struct {
	cache *Cache
	base  http.RoundTripper
}

func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	rt := &oauth2.Transport{Source: t.cache.TokenSource(req.Context()), Base: t.base}
	return rt.RoundTrip(req)
}
