package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"
)

// DefaultConsentTimeout is the hard ceiling on waiting for the user.
const DefaultConsentTimeout = 10 * time.Minute

const (
	defaultInterval = 5 // seconds, RFC 8628 section 3.2
	slowDownStep    = 5 // seconds added on slow_down, RFC 8628 section 3.5
	maxBodyBytes    = 1 << 20
)

// CredentialStore persists a successful credential. *vault.Vault satisfies it.
type CredentialStore interface {
	SetCredential(v any) error
}

// Config wires a Flow.
type Config struct {
	ClientID string
	Scope    string
	// Endpoint.DeviceAuthURL receives the registration POST, Endpoint.TokenURL the polls.
	Endpoint   oauth2.Endpoint
	HTTPClient *http.Client
	Presenter  Presenter
	Store      CredentialStore
	// ConsentTimeout bounds the wait for the user. Zero means DefaultConsentTimeout.
	ConsentTimeout time.Duration
	// PollUnit is the duration of one interval second. Zero means time.Second.
	PollUnit time.Duration
}

// Flow runs the OAuth device authorization grant.
type Flow struct {
	cfg    Config
	client *http.Client

	mu    sync.Mutex
	state State
}

// NewFlow builds a Flow. A nil HTTPClient gets a 15s-timeout client.
func NewFlow(cfg Config) *Flow {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.ConsentTimeout <= 0 {
		cfg.ConsentTimeout = DefaultConsentTimeout
	}
	if cfg.PollUnit <= 0 {
		cfg.PollUnit = time.Second
	}
	return &Flow{cfg: cfg, client: client}
}

// State returns the current state of the most recent attempt.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *Flow) setState(s State) {
	f.mu.Lock()
	prev := f.state
	f.state = s
	f.mu.Unlock()
	if prev != s {
		log.Debug().Str("from", prev.String()).Str("to", s.String()).Msg("device flow state")
	}
}

// RequestDeviceCode registers this device with the provider. Failure is
// fatal for the attempt; there is no retry at this layer.
func (f *Flow) RequestDeviceCode(ctx context.Context) (Session, error) {
	f.setState(StateIdle)
	if strings.TrimSpace(f.cfg.Endpoint.DeviceAuthURL) == "" {
		return Session{}, &DeviceFlowError{Op: "device_code", Err: errors.New("endpoint not configured")}
	}
	oc := &oauth2.Config{ClientID: f.cfg.ClientID, Endpoint: f.cfg.Endpoint}
	if scope := strings.TrimSpace(f.cfg.Scope); scope != "" {
		oc.Scopes = strings.Fields(scope)
	}
	da, err := oc.DeviceAuth(context.WithValue(ctx, oauth2.HTTPClient, f.client))
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) && re.Response != nil {
			return Session{}, &DeviceFlowError{Op: "device_code", StatusCode: re.Response.StatusCode, Code: re.ErrorCode,
				Description: truncate(strings.TrimSpace(string(re.Body)), 200)}
		}
		return Session{}, &DeviceFlowError{Op: "device_code", Err: err}
	}
	s := sessionFrom(da)
	if strings.TrimSpace(s.DeviceCode) == "" || strings.TrimSpace(s.UserCode) == "" {
		return Session{}, &DeviceFlowError{Op: "device_code", StatusCode: http.StatusOK, Description: "response missing device_code or user_code"}
	}
	f.setState(StateCodeRequested)
	log.Info().Str("verification_uri", s.VerificationURI).Int("expires_in", s.ExpiresIn).Msg("device code issued")
	return s, nil
}

// sessionFrom maps the oauth2 registration answer onto a Session.
func sessionFrom(da *oauth2.DeviceAuthResponse) Session {
	s := Session{
		DeviceCode:      da.DeviceCode,
		UserCode:        da.UserCode,
		VerificationURI: da.VerificationURI,
		Interval:        int(da.Interval),
	}
	if !da.Expiry.IsZero() {
		s.ExpiresIn = int(math.Round(time.Until(da.Expiry).Seconds()))
	}
	if s.Interval <= 0 {
		s.Interval = defaultInterval
	}
	return s
}

// Consent couples the running callback listener with the presenter cleanup.
type Consent struct {
	listener *CallbackListener
	release  func()
	once     sync.Once
}

// Done is closed when the consent UI calls back.
func (c *Consent) Done() <-chan struct{} { return c.listener.Done() }

// CallbackURL is the loopback URL the consent UI should POST to.
func (c *Consent) CallbackURL() string { return c.listener.URL() }

// Release closes the listener and the presenter artifact. Idempotent.
func (c *Consent) Release() {
	c.once.Do(func() {
		if c.release != nil {
			c.release()
		}
		_ = c.listener.Close()
	})
}

// PresentToUser starts the loopback callback listener and hands the code to
// the Presenter. The caller must Release the returned Consent.
func (f *Flow) PresentToUser(ctx context.Context, s Session) (*Consent, error) {
	if f.cfg.Presenter == nil {
		return nil, errors.New("auth: no presenter configured")
	}
	ln, err := ListenCallback()
	if err != nil {
		return nil, err
	}
	release, err := f.cfg.Presenter.Present(ctx, Prompt{
		UserCode:        s.UserCode,
		VerificationURI: s.VerificationURI,
		CallbackURL:     ln.URL(),
		ExpiresIn:       s.Expiry(),
	})
	if err != nil {
		_ = ln.Close()
		return nil, fmt.Errorf("auth: present code: %w", err)
	}
	f.setState(StateAwaitingConsent)
	return &Consent{listener: ln, release: release}, nil
}

// pollResult is one token endpoint answer.
type pollResult struct {
	cred     Credential
	code     string
	desc     string
	status   int
	terminal bool
}

// PollForAccessToken polls the token endpoint every Interval seconds until
// the grant succeeds, is denied, or expires. authorization_pending keeps
// polling, slow_down widens the interval. No request is issued after a
// terminal answer.
func (f *Flow) PollForAccessToken(ctx context.Context, s Session) (Credential, error) {
	f.setState(StatePolling)
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	for {
		select {
		case <-time.After(time.Duration(interval) * f.cfg.PollUnit):
		case <-ctx.Done():
			return Credential{}, fmt.Errorf("auth: polling cancelled: %w", ctx.Err())
		}

		res, err := f.pollOnce(ctx, s)
		if err != nil {
			return Credential{}, err
		}
		switch {
		case res.terminal:
			return res.cred, nil
		case res.code == "slow_down":
			interval += slowDownStep
			log.Debug().Int("interval", interval).Msg("provider asked to slow down")
		}
	}
}

// pollOnce issues a single token request and classifies the answer.
// Terminal failures come back as errors, pending states as a non-terminal result.
func (f *Flow) pollOnce(ctx context.Context, s Session) (pollResult, error) {
	form := url.Values{}
	form.Set("client_id", f.cfg.ClientID)
	form.Set("device_code", s.DeviceCode)
	form.Set("grant_type", DeviceGrantType)
	status, body, err := f.postForm(ctx, f.cfg.Endpoint.TokenURL, form)
	if err != nil {
		if ctx.Err() != nil {
			return pollResult{}, fmt.Errorf("auth: polling cancelled: %w", ctx.Err())
		}
		return pollResult{}, &DeviceFlowError{Op: "poll", Err: err}
	}

	var raw struct {
		AccessToken      string `json:"access_token"`
		TokenType        string `json:"token_type"`
		Scope            string `json:"scope"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return pollResult{}, &DeviceFlowError{Op: "poll", StatusCode: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	res := pollResult{code: strings.TrimSpace(raw.Error), desc: raw.ErrorDescription, status: status}

	if raw.AccessToken != "" {
		res.cred = Credential{AccessToken: raw.AccessToken, TokenType: raw.TokenType, Scope: raw.Scope}
		res.terminal = true
		f.setState(StateAuthorized)
		return res, nil
	}
	switch res.code {
	case "authorization_pending", "slow_down":
		return res, nil
	case "expired_token":
		f.setState(StateExpired)
		return res, ErrDeviceCodeExpired
	case "access_denied":
		f.setState(StateDenied)
		return res, ErrAuthorizationDenied
	case "":
		return res, &DeviceFlowError{Op: "poll", StatusCode: status, Description: "response carried neither access_token nor error"}
	default:
		return res, &DeviceFlowError{Op: "poll", StatusCode: status, Code: truncate(res.code, 100), Description: truncate(res.desc, 200)}
	}
}

var errConsentSignalled = errors.New("consent signalled")

// Authenticate runs the whole grant: registration, presentation, and polling
// raced against the consent callback. The success path persists the
// credential through the Store before returning it. The listener and
// presenter artifact are released on every exit path.
func (f *Flow) Authenticate(ctx context.Context) (Credential, error) {
	s, err := f.RequestDeviceCode(ctx)
	if err != nil {
		return Credential{}, err
	}
	consent, err := f.PresentToUser(ctx, s)
	if err != nil {
		return Credential{}, err
	}
	defer consent.Release()

	ceiling := f.cfg.ConsentTimeout
	if exp := s.Expiry(); exp > 0 && exp < ceiling {
		ceiling = exp
	}
	waitCtx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	var (
		cred    Credential
		pollErr error
	)
	g, gctx := errgroup.WithContext(waitCtx)
	g.Go(func() error {
		c, err := f.PollForAccessToken(gctx, s)
		if err != nil {
			if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
				pollErr = err
			}
			return err
		}
		cred = c
		// A nil return would leave the consent wait running; cancel it.
		return errPollWon
	})
	g.Go(func() error {
		select {
		case <-consent.Done():
			return errConsentSignalled
		case <-gctx.Done():
			return gctx.Err()
		}
	})
	err = g.Wait()
	// Release before any further network call so the port is freed promptly.
	consent.Release()

	switch {
	case cred.Valid():
	case pollErr != nil:
		// Polling reached a terminal answer; the session is spent.
		return Credential{}, pollErr
	case errors.Is(err, errConsentSignalled):
		log.Debug().Msg("consent callback received; confirming grant")
		c, cerr := f.confirmGrant(waitCtx, s)
		if cerr != nil {
			return Credential{}, cerr
		}
		cred = c
	case ctx.Err() != nil:
		return Credential{}, fmt.Errorf("auth: cancelled: %w", ctx.Err())
	case errors.Is(waitCtx.Err(), context.DeadlineExceeded):
		f.setState(StateExpired)
		return Credential{}, fmt.Errorf("%w: no consent within %s", ErrDeviceCodeExpired, ceiling)
	default:
		return Credential{}, err
	}

	f.setState(StateAuthorized)
	if f.cfg.Store != nil {
		if serr := f.cfg.Store.SetCredential(cred); serr != nil {
			// Usable for this session even if persistence failed.
			log.Warn().Err(serr).Msg("credential obtained but could not be persisted")
		}
	}
	log.Info().Str("scope", cred.Scope).Msg("device authorized")
	return cred, nil
}

var errPollWon = errors.New("poll won")

// confirmGrant polls right after the consent signal. slow_down waits at the
// widened interval and polls again; a pending answer means consent was not given.
func (f *Flow) confirmGrant(ctx context.Context, s Session) (Credential, error) {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	for {
		res, err := f.pollOnce(ctx, s)
		if err != nil {
			return Credential{}, err
		}
		switch {
		case res.terminal:
			return res.cred, nil
		case res.code != "slow_down":
			return Credential{}, ErrConsentUnconfirmed
		}
		interval += slowDownStep
		select {
		case <-time.After(time.Duration(interval) * f.cfg.PollUnit):
		case <-ctx.Done():
			return Credential{}, fmt.Errorf("auth: polling cancelled: %w", ctx.Err())
		}
	}
}

func (f *Flow) postForm(ctx context.Context, endpoint string, form url.Values) (int, []byte, error) {
	if strings.TrimSpace(endpoint) == "" {
		return 0, nil, errors.New("endpoint not configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return 0, nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, body, nil
}
