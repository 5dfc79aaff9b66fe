// Package token caches the short-lived service bearer token that is
// exchanged from the long-lived device-flow credential.
package token

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatbroker/internal/auth"
)

// RefreshMargin is how long before expiry a token stops being served.
const RefreshMargin = 5 * time.Minute

// Token is an exchanged service token. Values are replaced, never mutated.
type Token struct {
	Value     string
	ExpiresAt time.Time
}

// ValidAt reports whether the token is usable at now: now+RefreshMargin
// must be strictly before ExpiresAt.
func (t Token) ValidAt(now time.Time) bool {
	return t.Value != "" && now.Add(RefreshMargin).Before(t.ExpiresAt)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// CredentialSource yields the long-lived credential, authenticating when none exists.
type CredentialSource interface {
	Credential(ctx context.Context) (auth.Credential, error)
}

// Exchanger trades a long-lived credential for a short-lived token.
type Exchanger interface {
	Exchange(ctx context.Context, cred auth.Credential) (Token, error)
}

// Cache holds at most one short-lived token and refreshes it single-flight.
type Cache struct {
	source    CredentialSource
	exchanger Exchanger
	clock     Clock

	// current is read lock-free on the fast path; sem is a one-slot
	// semaphore serializing refreshes that waiters can abandon on cancel.
	current atomic.Pointer[Token]
	sem     chan struct{}
}

// Option customizes a Cache.
type Option func(*Cache)

// WithClock injects a clock.
func WithClock(c Clock) Option {
	return func(cache *Cache) { cache.clock = c }
}

// NewCache builds a Cache.
func NewCache(source CredentialSource, exchanger Exchanger, opts ...Option) *Cache {
	c := &Cache{source: source, exchanger: exchanger, clock: systemClock{}, sem: make(chan struct{}, 1)}
	for _, o := range opts {
		o(c)
	}
	return c
}

// GetToken returns a usable bearer token. Concurrent callers racing an
// expired cache trigger exactly one exchange and all observe its result.
// A failed exchange leaves the previous value in place; it stays stale and
// the next call retries.
func (c *Cache) GetToken(ctx context.Context) (string, error) {
	t, err := c.get(ctx)
	if err != nil {
		return "", err
	}
	return t.Value, nil
}

func (c *Cache) get(ctx context.Context) (Token, error) {
	if t := c.current.Load(); t != nil && t.ValidAt(c.clock.Now()) {
		return *t, nil
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	// Another caller may have refreshed while we waited.
	if t := c.current.Load(); t != nil && t.ValidAt(c.clock.Now()) {
		return *t, nil
	}
	if err := ctx.Err(); err != nil {
		return Token{}, err
	}

	cred, err := c.source.Credential(ctx)
	if err != nil {
		return Token{}, fmt.Errorf("token: credential: %w", err)
	}
	t, err := c.exchanger.Exchange(ctx, cred)
	if err != nil {
		var xe *ExchangeError
		if errors.As(err, &xe) && xe.Revoked() {
			if r, ok := c.source.(Resetter); ok {
				log.Warn().Int("status", xe.StatusCode).Msg("long-lived credential rejected; re-authentication required")
				r.Reset()
			}
		}
		return Token{}, err
	}
	c.current.Store(&t)
	log.Debug().Time("expires_at", t.ExpiresAt).Msg("service token refreshed")
	return t, nil
}

// Current returns the cached value without refreshing.
func (c *Cache) Current() Token {
	if t := c.current.Load(); t != nil {
		return *t
	}
	return Token{}
}

// Invalidate drops the cached token so the next GetToken exchanges again.
// Used when the provider rejects a token before its advertised expiry.
func (c *Cache) Invalidate() {
	c.current.Store(nil)
}

// ErrNoCredential is returned by sources that have nothing to offer.
var ErrNoCredential = errors.New("token: no long-lived credential available")
