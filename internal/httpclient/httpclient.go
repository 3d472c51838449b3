// Package httpclient builds the pooled HTTP clients shared by the fetcher
// and the analysis client. Both are safe for concurrent use.
package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Shared returns an HTTP client with connection pooling. A zero timeout
// leaves the overall request unbounded so callers can bound each attempt
// with a context instead.
func Shared(timeout time.Duration) *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
