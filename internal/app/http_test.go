package app

import (
	"net/http"
	"reflect"
	"testing"
	"time"
)

func TestNewStreamingHTTPClient_Config(t *testing.T) {
	c := newStreamingHTTPClient(30 * time.Second)
	if c.Timeout != 0 {
		t.Fatalf("streaming client must not cap the body read, got %s", c.Timeout)
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok {
		t.Fatalf("expected http.Transport")
	}
	if tr.ResponseHeaderTimeout != 30*time.Second {
		t.Fatalf("header timeout %s", tr.ResponseHeaderTimeout)
	}
	// Ensure we didn't return the default client's transport
	if reflect.ValueOf(http.DefaultTransport).Pointer() == reflect.ValueOf(tr).Pointer() {
		t.Fatalf("transport should not be default")
	}
}

func TestNewAPIClient_Timeout(t *testing.T) {
	c := newAPIClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Fatalf("timeout %s", c.Timeout)
	}
}
