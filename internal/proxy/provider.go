// Package proxy defines the narrow interface scrape-style executors use
// to obtain and retire proxy URLs, plus a static, in-memory
// implementation. Fetched (free/paid) providers plug into the same
// interface by populating the same bucket map on a refresh schedule;
// they are not implemented here since the engine only ever talks to the
// Provider interface (spec §4.3).
package proxy

import (
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// WildcardBucket is the country key used for proxies available
// regardless of country, and as the fallback when a country-specific
// bucket is empty or unknown.
const WildcardBucket = "*"

// Provider supplies proxy URLs, optionally partitioned by country, and
// tracks which proxies are currently known-bad.
type Provider interface {
	// GetOneProxy returns a candidate proxy URL for country (falling
	// back to the wildcard bucket when country's bucket is empty), or
	// ok=false when no candidate remains.
	GetOneProxy(country string) (proxyURL string, ok bool)

	// CheckProxies probes every known proxy once (with retries) against
	// a benign target and marks failures bad. Idempotent.
	CheckProxies(ctx context.Context, timeout time.Duration, retries int) error
}

// StaticProvider is a Provider backed by a fixed, in-memory map of
// country (or "" / "*") to an ordered list of proxy URLs. Selection
// within a bucket is round-robin, chosen over random rotation because
// it is deterministic and needs no seeding (spec §9 leaves the policy
// open; this is the documented resolution).
type StaticProvider struct {
	mu        sync.Mutex
	proxies   map[string][]string
	bad       map[string]struct{}
	cursors   map[string]int
	checkURL  string
	checkRate *rate.Limiter
}

// NewStaticProvider builds a Provider from a country->proxy-list map.
// checkURL is the benign endpoint CheckProxies probes through each
// proxy; pass "" to disable health checks (GetOneProxy still works).
func NewStaticProvider(proxies map[string][]string, checkURL string) *StaticProvider {
	cp := make(map[string][]string, len(proxies))
	for k, v := range proxies {
		cp[k] = append([]string(nil), v...)
	}
	return &StaticProvider{
		proxies:   cp,
		bad:       make(map[string]struct{}),
		cursors:   make(map[string]int),
		checkURL:  checkURL,
		checkRate: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
	}
}

// NewStaticListProvider builds a Provider from a flat list of proxy URLs
// placed in the wildcard bucket - the "static from list" variant of
// spec §4.3.
func NewStaticListProvider(urls []string, checkURL string) *StaticProvider {
	return NewStaticProvider(map[string][]string{WildcardBucket: urls}, checkURL)
}

func (p *StaticProvider) GetOneProxy(country string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, bucket := range []string{country, WildcardBucket} {
		candidates := p.availableLocked(bucket)
		if len(candidates) == 0 {
			continue
		}
		cursor := p.cursors[bucket]
		chosen := candidates[cursor%len(candidates)]
		p.cursors[bucket] = cursor + 1
		return chosen, true
	}
	return "", false
}

// availableLocked returns bucket's proxies excluding known-bad ones.
// Caller must hold p.mu.
func (p *StaticProvider) availableLocked(bucket string) []string {
	all := p.proxies[bucket]
	if len(all) == 0 {
		return nil
	}
	out := make([]string, 0, len(all))
	for _, u := range all {
		if _, bad := p.bad[u]; !bad {
			out = append(out, u)
		}
	}
	return out
}

// MarkBad excludes proxyURL from future GetOneProxy results until the
// Provider is reconstructed. bad_proxies is kept in memory only, per
// spec §9 ("the source keeps it in memory only") - not persisted across
// runs.
func (p *StaticProvider) MarkBad(proxyURL string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bad[proxyURL] = struct{}{}
}

// CheckProxies probes each known proxy once (with retries) by issuing a
// GET to checkURL through it; proxies that fail every attempt are marked
// bad. Safe to call before a run; a no-op if checkURL is empty.
func (p *StaticProvider) CheckProxies(ctx context.Context, timeout time.Duration, retries int) error {
	if p.checkURL == "" {
		return nil
	}
	if retries < 1 {
		retries = 1
	}

	p.mu.Lock()
	all := make([]string, 0)
	seen := make(map[string]struct{})
	for _, list := range p.proxies {
		for _, u := range list {
			if _, ok := seen[u]; ok {
				continue
			}
			seen[u] = struct{}{}
			all = append(all, u)
		}
	}
	p.mu.Unlock()

	for _, proxyURL := range all {
		if err := p.checkRate.Wait(ctx); err != nil {
			return err
		}
		if !p.probe(ctx, proxyURL, timeout, retries) {
			p.MarkBad(proxyURL)
		}
	}
	return nil
}

func (p *StaticProvider) probe(ctx context.Context, proxyURL string, timeout time.Duration, retries int) bool {
	parsed, err := url.Parse(proxyURL)
	if err != nil {
		return false
	}

	client := &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(parsed)},
	}

	for attempt := 0; attempt < retries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.checkURL, nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 500 {
				return true
			}
		}
	}
	return false
}

// ParseHostPort is a small helper executors can use to log a proxy URL's
// host without leaking embedded credentials.
func ParseHostPort(proxyURL string) string {
	u, err := url.Parse(proxyURL)
	if err != nil {
		return proxyURL
	}
	return u.Host
}
