// Package proxy maintains a cached pool of outbound HTTP proxies.
//
// Proxies come from two runtime settings: "proxy_list" (semicolon-separated
// entries) and "proxy_list_url" (remote list, one entry per line). The pool
// refreshes itself lazily when the cache TTL expires and can be invalidated
// on hot reload. When no proxies are configured Get returns nil and callers
// connect directly.
package proxy

import (
	"bufio"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	cacheTTL     = 6 * time.Hour
	probeWorkers = 10
	probeTimeout = 5 * time.Second
)

// Settings is the runtime configuration lookup the pool reads its sources
// from. Missing keys yield an empty string.
type Settings interface {
	GetConfig(key string) string
}

type Proxy struct {
	URL *url.URL

	successes atomic.Uint64
	errors    atomic.Uint64
	totalMs   atomic.Int64
}

func (p *Proxy) String() string {
	return p.URL.Redacted()
}

type Pool struct {
	settings Settings
	client   *http.Client
	probeURL string

	// refreshMu serializes reloads; mu guards only the cached slot so
	// readers never wait behind the remote fetch or the probe pass.
	refreshMu sync.Mutex

	mu        sync.Mutex
	proxies   []*Proxy
	fetchedAt time.Time
}

// New builds a pool. probeURL is the target used for liveness probes when
// "proxy_check_enabled" is set.
func New(settings Settings, probeURL string) *Pool {
	return &Pool{
		settings: settings,
		client:   &http.Client{Timeout: 15 * time.Second},
		probeURL: probeURL,
	}
}

// Get returns a random live proxy, or nil when none are configured.
func (p *Pool) Get() *Proxy {
	p.maybeRefresh()

	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.proxies) == 0 {
		return nil
	}
	return p.proxies[rand.Intn(len(p.proxies))]
}

// Invalidate drops the cache so the next Get re-reads the sources.
func (p *Pool) Invalidate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.proxies = nil
	p.fetchedAt = time.Time{}
}

// Size returns the number of cached proxies without triggering a refresh.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

func (p *Pool) ReportSuccess(px *Proxy, latency time.Duration) {
	if px == nil {
		return
	}
	px.successes.Add(1)
	px.totalMs.Add(latency.Milliseconds())
}

func (p *Pool) ReportError(px *Proxy) {
	if px == nil {
		return
	}
	px.errors.Add(1)
}

// maybeRefresh reloads the pool when the cache TTL has expired. The load
// itself runs without holding mu, so concurrent Get and Size calls only
// ever wait for the final slot swap.
func (p *Pool) maybeRefresh() {
	if !p.stale() {
		return
	}

	p.refreshMu.Lock()
	defer p.refreshMu.Unlock()
	if !p.stale() {
		// Another caller refreshed while we waited.
		return
	}

	parsed := p.load()

	p.mu.Lock()
	p.proxies = parsed
	p.fetchedAt = time.Now()
	p.mu.Unlock()

	if len(parsed) > 0 {
		slog.Info("Proxy pool refreshed", "count", len(parsed))
	}
}

func (p *Pool) stale() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.fetchedAt) > cacheTTL
}

func (p *Pool) load() []*Proxy {
	entries := p.collect()
	parsed := make([]*Proxy, 0, len(entries))
	for _, raw := range entries {
		px, err := parseProxy(raw)
		if err != nil {
			slog.Warn("Skipping malformed proxy entry", "entry", raw, "error", err)
			continue
		}
		parsed = append(parsed, px)
	}

	if len(parsed) > 0 && p.checkEnabled() {
		if live := p.probe(parsed); len(live) > 0 {
			parsed = live
		} else {
			slog.Warn("No proxies passed the liveness probe, keeping untested list", "count", len(parsed))
		}
	}

	return parsed
}

func (p *Pool) collect() []string {
	seen := make(map[string]bool)
	var entries []string
	add := func(raw string) {
		raw = strings.TrimSpace(raw)
		if raw == "" || strings.HasPrefix(raw, "#") || seen[raw] {
			return
		}
		seen[raw] = true
		entries = append(entries, raw)
	}

	for _, raw := range strings.Split(p.settings.GetConfig("proxy_list"), ";") {
		add(raw)
	}

	if listURL := strings.TrimSpace(p.settings.GetConfig("proxy_list_url")); listURL != "" {
		lines, err := p.fetchRemote(listURL)
		if err != nil {
			slog.Error("Failed to fetch remote proxy list", "url", listURL, "error", err)
		}
		for _, raw := range lines {
			add(raw)
		}
	}

	return entries
}

func (p *Pool) fetchRemote(listURL string) ([]string, error) {
	resp, err := p.client.Get(listURL)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var lines []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, scanner.Err()
}

func (p *Pool) checkEnabled() bool {
	switch strings.ToLower(p.settings.GetConfig("proxy_check_enabled")) {
	case "1", "true", "yes":
		return p.probeURL != ""
	}
	return false
}

// probe issues one HEAD request through every candidate and keeps the ones
// that answer with 2xx or a redirect.
func (p *Pool) probe(candidates []*Proxy) []*Proxy {
	jobs := make(chan *Proxy)
	results := make(chan *Proxy)

	var wg sync.WaitGroup
	for i := 0; i < probeWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for px := range jobs {
				if p.probeOne(px) {
					results <- px
				}
			}
		}()
	}

	go func() {
		for _, px := range candidates {
			jobs <- px
		}
		close(jobs)
		wg.Wait()
		close(results)
	}()

	var live []*Proxy
	for px := range results {
		live = append(live, px)
	}
	return live
}

func (p *Pool) probeOne(px *Proxy) bool {
	client := &http.Client{
		Timeout: probeTimeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(px.URL),
			DisableKeepAlives: true,
		},
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	resp, err := client.Head(p.probeURL)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	return resp.StatusCode >= 200 && resp.StatusCode < 400
}

func parseProxy(raw string) (*Proxy, error) {
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Host == "" {
		return nil, fmt.Errorf("missing host")
	}
	return &Proxy{URL: u}, nil
}
