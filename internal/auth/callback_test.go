package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func TestCallbackListener_CORSAndSignal(t *testing.T) {
	l, err := ListenCallback()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	if !strings.HasPrefix(l.URL(), "http://localhost:") || !strings.HasSuffix(l.URL(), CallbackPath) {
		t.Fatalf("unexpected url %s", l.URL())
	}

	req, _ := http.NewRequest(http.MethodOptions, l.URL(), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("options: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("options status %d", resp.StatusCode)
	}
	if resp.Header.Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS origin header")
	}
	select {
	case <-l.Done():
		t.Fatal("preflight must not signal completion")
	default:
	}

	resp, err = http.Get(l.URL())
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("get status %d", resp.StatusCode)
	}

	// Two posts must not panic on a double close
	for i := 0; i < 2; i++ {
		resp, err = http.Post(l.URL(), "application/json", bytes.NewReader([]byte("{}")))
		if err != nil {
			t.Fatalf("post: %v", err)
		}
		var body map[string]string
		_ = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body["status"] != "success" {
			t.Fatalf("unexpected body %v", body)
		}
	}
	select {
	case <-l.Done():
	case <-time.After(time.Second):
		t.Fatal("expected Done to be closed")
	}
}

func TestCallbackListener_CloseIdempotent(t *testing.T) {
	l, err := ListenCallback()
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, l.URL(), nil)
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
		t.Fatal("expected closed listener to refuse connections")
	}
}

func TestConsolePresenter(t *testing.T) {
	var buf bytes.Buffer
	opened := ""
	p := ConsolePresenter{Out: &buf, OpenBrowser: true, Opener: func(u string) error { opened = u; return nil }}
	release, err := p.Present(context.Background(), Prompt{UserCode: "WXYZ-0000", VerificationURI: "https://example.com/device", ExpiresIn: 15 * time.Minute})
	if err != nil {
		t.Fatalf("present: %v", err)
	}
	release()
	out := buf.String()
	if !strings.Contains(out, "WXYZ-0000") || !strings.Contains(out, "https://example.com/device") {
		t.Fatalf("unexpected output %q", out)
	}
	if opened != "https://example.com/device" {
		t.Fatalf("browser not opened with verification uri, got %q", opened)
	}
}

func TestConsolePresenter_BrowserFailureIsNotFatal(t *testing.T) {
	var buf bytes.Buffer
	p := ConsolePresenter{Out: &buf, OpenBrowser: true, Opener: func(string) error { return errors.New("no display") }}
	if _, err := p.Present(context.Background(), Prompt{UserCode: "WXYZ-0000", VerificationURI: "https://example.com/device"}); err != nil {
		t.Fatalf("present: %v", err)
	}
	if !strings.Contains(buf.String(), "https://example.com/device") {
		t.Fatalf("url must still be printed, got %q", buf.String())
	}
}

func TestTruncate_KeepsRuneBoundary(t *testing.T) {
	s := "ab✓cd" // ✓ is three bytes at offsets 2..4
	for n := 2; n <= 4; n++ {
		got := truncate(s, n)
		if !utf8.ValidString(got) {
			t.Fatalf("truncate(%q, %d) = %q splits a rune", s, n, got)
		}
	}
	if got := truncate(s, 5); got != "ab✓" {
		t.Fatalf("truncate at boundary = %q", got)
	}
	if got := truncate(s, 100); got != s {
		t.Fatalf("short input changed: %q", got)
	}
}
