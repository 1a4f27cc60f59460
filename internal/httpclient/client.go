// Package httpclient builds the *http.Client instances the scraper
// executor uses when executor.Context carries no shared session.
package httpclient

import (
	"net/http"
	"net/url"
	"time"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout and no
// cookie jar.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewProxiedHTTPClient creates a one-shot HTTP client that routes every
// request through proxyURL. Executors build one of these per proxy
// selection rather than sharing a pooled client, since the proxy changes
// task to task.
func NewProxiedHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return nil, err
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}, nil
}
