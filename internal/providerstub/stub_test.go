package providerstub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func postForm(t *testing.T, srv *httptest.Server, path string, form url.Values) map[string]any {
	t.Helper()
	resp, err := http.PostForm(srv.URL+path, form)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestStub_DeviceFlowAndExchange(t *testing.T) {
	s := &Stub{PendingPolls: 1}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	dc := postForm(t, srv, DeviceCodePath, url.Values{"client_id": {"c"}, "scope": {"read:user"}})
	if dc["user_code"] != "WDJB-MJHT" || dc["device_code"] != "dc-1" {
		t.Fatalf("device code %v", dc)
	}
	grant := url.Values{"grant_type": {"urn:ietf:params:oauth:grant-type:device_code"}, "device_code": {"dc-1"}, "client_id": {"c"}}
	if got := postForm(t, srv, TokenPath, grant); got["error"] != "authorization_pending" {
		t.Fatalf("first poll %v", got)
	}
	got := postForm(t, srv, TokenPath, grant)
	access, _ := got["access_token"].(string)
	if access == "" {
		t.Fatalf("second poll %v", got)
	}

	req, _ := http.NewRequest(http.MethodGet, srv.URL+ExchangePath, nil)
	req.Header.Set("Authorization", "Token "+access)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var tok struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(tok.Token, "tid=stub") || tok.ExpiresAt == 0 {
		t.Fatalf("exchange %+v", tok)
	}
}

func TestStub_RejectsUnknownBearer(t *testing.T) {
	s := &Stub{}
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	req, _ := http.NewRequest(http.MethodPost, srv.URL+ChatPath, strings.NewReader(`{"model":"m","messages":[]}`))
	req.Header.Set("Authorization", "Bearer forged")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d", resp.StatusCode)
	}
	if s.Chats.Load() != 1 {
		t.Fatalf("chats %d", s.Chats.Load())
	}
}
