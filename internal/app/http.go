package app

import (
	"net"
	"net/http"
	"time"
)

// newStreamingHTTPClient returns a client for long-lived SSE responses. The
// header timeout bounds a stalled provider; the body may stream for as long
// as the context allows, so the client has no overall Timeout.
func newStreamingHTTPClient(headerTimeout time.Duration) *http.Client {
	return &http.Client{Transport: newTransport(headerTimeout)}
}

// newAPIClient returns a client for short request/response exchanges.
func newAPIClient(timeout time.Duration) *http.Client {
	return &http.Client{Transport: newTransport(timeout), Timeout: timeout}
}

func newTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}
}
