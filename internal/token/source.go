package token

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/chatbroker/internal/auth"
	"github.com/hyperifyio/chatbroker/internal/vault"
)

// Authenticator obtains a fresh long-lived credential. *auth.Flow satisfies it.
type Authenticator interface {
	Authenticate(ctx context.Context) (auth.Credential, error)
}

// VaultSource loads the credential from the vault and falls back to the
// device flow when nothing usable is stored. The loaded value is kept for
// the rest of the session.
type VaultSource struct {
	Vault *vault.Vault
	Auth  Authenticator

	mu   sync.Mutex
	cred *auth.Credential
}

// Credential implements CredentialSource.
func (s *VaultSource) Credential(ctx context.Context) (auth.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred != nil {
		return *s.cred, nil
	}
	if s.Vault != nil {
		if c, ok := vault.Load[auth.Credential](s.Vault); ok && c.Valid() {
			s.cred = &c
			return c, nil
		}
	}
	if s.Auth == nil {
		return auth.Credential{}, ErrNoCredential
	}
	log.Info().Msg("no stored credential; starting device authorization")
	c, err := s.Auth.Authenticate(ctx)
	if err != nil {
		return auth.Credential{}, err
	}
	s.cred = &c
	return c, nil
}

// Reset drops the in-memory credential and the stored copy, forcing the
// next call to authenticate again.
func (s *VaultSource) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = nil
	if s.Vault != nil {
		if err := s.Vault.Forget(); err != nil {
			log.Warn().Err(err).Msg("could not clear revoked credential")
		}
	}
}

// Use replaces the in-memory credential, e.g. after an explicit login.
func (s *VaultSource) Use(c auth.Credential) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cred = &c
}

// Resetter is implemented by sources that can discard a revoked credential.
type Resetter interface {
	Reset()
}
