package vault

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/zalando/go-keyring"
)

// Sink is where the encrypted blob lives between runs.
type Sink interface {
	// Read returns the stored blob or ErrNoCredential.
	Read() ([]byte, error)
	Write(blob []byte) error
	Clear() error
	Name() string
}

// EnvSink stores the blob in a process environment variable. It only
// survives for the lifetime of the process and its children.
type EnvSink struct {
	Key string
}

func (s EnvSink) Name() string { return "env:" + s.Key }

func (s EnvSink) Read() ([]byte, error) {
	v, ok := os.LookupEnv(s.Key)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, ErrNoCredential
	}
	return []byte(strings.TrimSpace(v)), nil
}

func (s EnvSink) Write(blob []byte) error {
	return os.Setenv(s.Key, string(blob))
}

func (s EnvSink) Clear() error {
	return os.Unsetenv(s.Key)
}

// FileSink stores the blob in a file with owner-only permissions.
type FileSink struct {
	Path string
}

func (s FileSink) Name() string { return "file:" + s.Path }

func (s FileSink) Read() ([]byte, error) {
	b, err := os.ReadFile(s.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoCredential
		}
		return nil, err
	}
	b = []byte(strings.TrimSpace(string(b)))
	if len(b) == 0 {
		return nil, ErrNoCredential
	}
	return b, nil
}

// Write replaces the file atomically via a temp file and rename.
func (s FileSink) Write(blob []byte) error {
	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credential dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".credential-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	name := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if _, err := tmp.Write(blob); err != nil {
		tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, s.Path)
}

func (s FileSink) Clear() error {
	if err := os.Remove(s.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// KeyringSink stores the blob in the OS credential store (Keychain,
// Secret Service, Windows Credential Manager).
type KeyringSink struct {
	Service string
	User    string
}

func (s KeyringSink) Name() string { return "keyring:" + s.Service }

func (s KeyringSink) Read() ([]byte, error) {
	v, err := keyring.Get(s.Service, s.User)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, ErrNoCredential
		}
		return nil, err
	}
	if strings.TrimSpace(v) == "" {
		return nil, ErrNoCredential
	}
	return []byte(v), nil
}

func (s KeyringSink) Write(blob []byte) error {
	return keyring.Set(s.Service, s.User, string(blob))
}

func (s KeyringSink) Clear() error {
	if err := keyring.Delete(s.Service, s.User); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return err
	}
	return nil
}
