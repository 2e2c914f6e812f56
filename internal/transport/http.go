// Package transport builds the HTTP client used for every HQ request.
package transport

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// NewHTTPClient returns a client whose every request is bounded by timeout.
// With enableHTTP2 the transport is configured for HTTP/2 over TLS; plain
// http:// HQ URLs keep using HTTP/1.1.
func NewHTTPClient(timeout time.Duration, enableHTTP2 bool) (*http.Client, error) {
	if timeout <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %s", timeout)
	}

	rt := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          4,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ExpectContinueTimeout: time.Second,
	}

	if enableHTTP2 {
		if err := http2.ConfigureTransport(rt); err != nil {
			return nil, fmt.Errorf("configuring http2 transport: %w", err)
		}
	}

	return &http.Client{
		Transport: rt,
		Timeout:   timeout,
	}, nil
}
