package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"

	"github.com/rs/zerolog/log"
)

// applicationSalt is mixed into the key derivation so that the derived key
// differs from a plain hash of host and user identity.
const applicationSalt = "chatbroker/credential-vault/v1"

// keySize is the AES-256 key length.
const keySize = 32

var (
	// ErrNoCredential reports that the sink holds no credential yet.
	ErrNoCredential = errors.New("vault: no credential stored")
	// ErrCiphertextTooShort is returned when a blob cannot even hold a nonce.
	ErrCiphertextTooShort = errors.New("vault: ciphertext too short")
)

// Identity is the host/user pair the encryption key is bound to. A blob
// sealed under one identity does not open under another.
type Identity struct {
	Machine string
	User    string
}

// CurrentIdentity reads the host name and OS user name of this process.
func CurrentIdentity() Identity {
	id := Identity{}
	if h, err := os.Hostname(); err == nil {
		id.Machine = h
	}
	if u, err := user.Current(); err == nil {
		id.User = u.Username
	} else {
		id.User = os.Getenv("USER")
	}
	return id
}

// deriveKey computes SHA256(machine + user + salt). The digest length equals
// the AES-256 key length so no truncation happens in practice.
func deriveKey(id Identity) *Secret {
	sum := sha256.Sum256([]byte(id.Machine + id.User + applicationSalt))
	k := NewSecret(sum[:keySize])
	for i := range sum {
		sum[i] = 0
	}
	return k
}

// Vault encrypts credential records and persists them through a Sink.
type Vault struct {
	sink Sink
	key  *Secret
}

// New returns a Vault bound to id that persists into sink.
func New(id Identity, sink Sink) *Vault {
	return &Vault{sink: sink, key: deriveKey(id)}
}

// Close zeroes the derived key. The vault must not be used afterwards.
func (v *Vault) Close() {
	if v != nil && v.key != nil {
		v.key.Zero()
	}
}

func (v *Vault) aead() (cipher.AEAD, error) {
	block, err := aes.NewCipher(v.key.Bytes())
	if err != nil {
		return nil, fmt.Errorf("vault: aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: gcm: %w", err)
	}
	return gcm, nil
}

// Encrypt seals plaintext with a fresh random nonce and returns nonce||ciphertext.
func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt splits the leading nonce from data and opens the remainder.
// A blob sealed under a different key fails authentication.
func (v *Vault) Decrypt(data []byte) ([]byte, error) {
	gcm, err := v.aead()
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(data) < n+gcm.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plain, err := gcm.Open(nil, data[:n], data[n:], nil)
	if err != nil {
		return nil, fmt.Errorf("vault: decrypt: %w", err)
	}
	return plain, nil
}

// SetCredential serializes value as JSON, encrypts it, and writes
// base64(nonce||ciphertext) to the sink. The plaintext buffer is zeroed
// before returning.
func (v *Vault) SetCredential(value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("vault: encode credential: %w", err)
	}
	plain := NewSecret(raw)
	zeroBytes(raw)
	defer plain.Zero()

	sealed, err := v.Encrypt(plain.Bytes())
	if err != nil {
		return err
	}
	blob := make([]byte, base64.StdEncoding.EncodedLen(len(sealed)))
	base64.StdEncoding.Encode(blob, sealed)
	if err := v.sink.Write(blob); err != nil {
		return fmt.Errorf("vault: write sink: %w", err)
	}
	log.Debug().Str("sink", v.sink.Name()).Msg("credential stored")
	return nil
}

// Forget removes any stored credential from the sink.
func (v *Vault) Forget() error {
	if err := v.sink.Clear(); err != nil && !errors.Is(err, ErrNoCredential) {
		return fmt.Errorf("vault: clear sink: %w", err)
	}
	return nil
}

// Load reads, decrypts, and decodes the stored credential. Every failure,
// including a blob sealed on another host or by another user, is reported
// as absence: the caller re-authenticates instead of crashing.
func Load[T any](v *Vault) (T, bool) {
	var zero T
	blob, err := v.sink.Read()
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			log.Debug().Str("sink", v.sink.Name()).Msg("no stored credential")
		} else {
			log.Warn().Err(err).Str("sink", v.sink.Name()).Msg("credential sink unreadable; treating as absent")
		}
		return zero, false
	}
	sealed := make([]byte, base64.StdEncoding.DecodedLen(len(blob)))
	n, err := base64.StdEncoding.Decode(sealed, blob)
	if err != nil {
		log.Warn().Err(err).Msg("stored credential is not valid base64; treating as absent")
		return zero, false
	}
	raw, err := v.Decrypt(sealed[:n])
	if err != nil {
		log.Warn().Err(err).Msg("stored credential failed to decrypt; treating as absent")
		return zero, false
	}
	plain := NewSecret(raw)
	zeroBytes(raw)
	defer plain.Zero()

	var out T
	if err := json.Unmarshal(plain.Bytes(), &out); err != nil {
		log.Warn().Err(err).Msg("stored credential is malformed; treating as absent")
		return zero, false
	}
	return out, true
}
