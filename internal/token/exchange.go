package token

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hyperifyio/chatbroker/internal/auth"
)

// ExchangeError is the TokenExchangeFailure: the exchange call did not
// produce a token.
type ExchangeError struct {
	StatusCode int
	Body       string
	Err        error
}

func (e *ExchangeError) Error() string {
	switch {
	case e.Err != nil && e.StatusCode != 0:
		return fmt.Sprintf("token exchange failed: status=%d: %v", e.StatusCode, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("token exchange failed: %v", e.Err)
	default:
		return fmt.Sprintf("token exchange failed: status=%d body=%s", e.StatusCode, e.Body)
	}
}

func (e *ExchangeError) Unwrap() error { return e.Err }

// Revoked reports whether the provider rejected the long-lived credential itself.
func (e *ExchangeError) Revoked() bool {
	return e.StatusCode == http.StatusUnauthorized || e.StatusCode == http.StatusForbidden
}

// HTTPExchanger calls GET {URL} with "Authorization: Token <access token>".
type HTTPExchanger struct {
	URL        string
	HTTPClient *http.Client
	// Header is added to every exchange request (editor/user-agent identification).
	Header http.Header
}

func (x *HTTPExchanger) client() *http.Client {
	if x.HTTPClient != nil {
		return x.HTTPClient
	}
	return &http.Client{Timeout: 15 * time.Second}
}

// Exchange performs one exchange call.
func (x *HTTPExchanger) Exchange(ctx context.Context, cred auth.Credential) (Token, error) {
	if !cred.Valid() {
		return Token{}, &ExchangeError{Err: ErrNoCredential}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, x.URL, nil)
	if err != nil {
		return Token{}, &ExchangeError{Err: err}
	}
	for k, vs := range x.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Authorization", "Token "+cred.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := x.client().Do(req)
	if err != nil {
		return Token{}, &ExchangeError{Err: err}
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Token{}, &ExchangeError{StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Token{}, &ExchangeError{StatusCode: resp.StatusCode, Body: snippet(body)}
	}
	var raw struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return Token{}, &ExchangeError{StatusCode: resp.StatusCode, Err: fmt.Errorf("decode: %w", err)}
	}
	if raw.Token == "" || raw.ExpiresAt <= 0 {
		return Token{}, &ExchangeError{StatusCode: resp.StatusCode, Body: "response missing token or expires_at"}
	}
	return Token{Value: raw.Token, ExpiresAt: time.Unix(raw.ExpiresAt, 0)}, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
