package app

import (
	"os"
	"path/filepath"
	"testing"
)

// unsetenv removes key for the duration of the test.
func unsetenv(t *testing.T, key string) {
	t.Helper()
	t.Setenv(key, "")
	_ = os.Unsetenv(key)
}

func TestLoadEnvFiles_LoadsKeyValues(t *testing.T) {
	unsetenv(t, "FOO")
	unsetenv(t, "BAR")
	unsetenv(t, "QUOTED")

	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env.test")
	content := "\n# sample dotenv file\nFOO=alpha\nexport BAR=beta\nQUOTED=\"a b\"\nmalformed\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("write dotenv: %v", err)
	}

	if err := LoadEnvFiles(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}
	for key, want := range map[string]string{"FOO": "alpha", "BAR": "beta", "QUOTED": "a b"} {
		if got := os.Getenv(key); got != want {
			t.Fatalf("%s=%q, want %q", key, got, want)
		}
	}
}

// Later files override earlier ones when loading multiple dotenv files.
func TestLoadEnvFiles_OverrideOrder(t *testing.T) {
	unsetenv(t, "K")
	dir := t.TempDir()
	a := filepath.Join(dir, ".env.a")
	b := filepath.Join(dir, ".env.b")
	if err := os.WriteFile(a, []byte("K=first\n"), 0o600); err != nil {
		t.Fatalf("write a: %v", err)
	}
	if err := os.WriteFile(b, []byte("K=second\n"), 0o600); err != nil {
		t.Fatalf("write b: %v", err)
	}

	if err := LoadEnvFiles(a, b); err != nil {
		t.Fatalf("LoadEnvFiles error: %v", err)
	}
	if got := os.Getenv("K"); got != "second" {
		t.Fatalf("override order failed: got %q, want second", got)
	}
}

func TestLoadEnvFiles_RealEnvironmentWins(t *testing.T) {
	t.Setenv(EnvModel, "from-shell")
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(EnvModel+"=from-file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFiles(path); err != nil {
		t.Fatal(err)
	}
	if got := os.Getenv(EnvModel); got != "from-shell" {
		t.Fatalf("dotenv replaced a real variable: %q", got)
	}
}
