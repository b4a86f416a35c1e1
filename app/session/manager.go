// Package session manages per-host browsing sessions for the fetcher.
//
// A session bundles a cookie jar, one browser identity and one proxy for the
// lifetime of the session. Sessions rotate after a randomized number of
// requests or a maximum age so no single identity accumulates a long request
// history against one host.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/kmilewski/dealwatch/app/identity"
	"github.com/kmilewski/dealwatch/app/proxy"
	"github.com/kmilewski/dealwatch/app/ratelimit"
)

const (
	rotateRequestsMin = 80
	rotateRequestsMax = 120
	maxSessionAge     = 90 * time.Minute
	maxSessionIdle    = 30 * time.Minute
	requestTimeout    = 15 * time.Second
)

type session struct {
	host     string
	client   *http.Client
	identity identity.Identity
	proxy    *proxy.Proxy

	createdAt time.Time
	lastUsed  time.Time
	requests  int
	rotateAt  int
}

func (s *session) expired(now time.Time) bool {
	return s.requests >= s.rotateAt || now.Sub(s.createdAt) > maxSessionAge
}

type Manager struct {
	identities *identity.Pool
	limiter    *ratelimit.Limiter
	proxies    *proxy.Pool

	mu       sync.Mutex
	sessions map[string]*session

	// sleep is swapped out in tests.
	sleep func(time.Duration)
}

func NewManager(identities *identity.Pool, limiter *ratelimit.Limiter, proxies *proxy.Pool) *Manager {
	return &Manager{
		identities: identities,
		limiter:    limiter,
		proxies:    proxies,
		sessions:   make(map[string]*session),
		sleep:      time.Sleep,
	}
}

// Get performs a rate-limited GET through the host's session. Responses are
// returned unclassified; the caller owns the body. A 429 response does not
// count toward the session's rotation threshold.
func (m *Manager) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse request URL: %w", err)
	}
	host := u.Host

	if err := m.limiter.Acquire(ctx, host); err != nil {
		return nil, err
	}

	s := m.acquire(ctx, host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	for k, v := range s.identity.Headers(host) {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		m.proxies.ReportError(s.proxy)
		return nil, fmt.Errorf("request to %s failed: %w", host, err)
	}
	m.proxies.ReportSuccess(s.proxy, time.Since(start))

	m.mu.Lock()
	s.lastUsed = time.Now()
	if resp.StatusCode != http.StatusTooManyRequests {
		s.requests++
	}
	m.mu.Unlock()

	return resp, nil
}

// Warmup ensures a live session for host, issuing the cookie-priming request
// if one has to be created.
func (m *Manager) Warmup(ctx context.Context, host string) {
	m.acquire(ctx, host)
}

// Invalidate discards the host's session so the next request starts fresh.
// Used after authorization failures and soft blocks.
func (m *Manager) Invalidate(host string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[host]; ok {
		delete(m.sessions, host)
		slog.Debug("Session invalidated", "host", host)
	}
}

// InvalidateAll discards every session. Used on hot reload.
func (m *Manager) InvalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions = make(map[string]*session)
}

// CleanupStale drops sessions that have been idle too long.
func (m *Manager) CleanupStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-maxSessionIdle)
	for host, s := range m.sessions {
		if s.lastUsed.Before(cutoff) {
			delete(m.sessions, host)
			slog.Debug("Dropped idle session", "host", host)
		}
	}
}

// acquire returns a live session for host, rotating or creating one as
// needed. Rotation pauses briefly so the identity change does not land
// back-to-back with the previous request.
func (m *Manager) acquire(ctx context.Context, host string) *session {
	m.mu.Lock()
	s, ok := m.sessions[host]
	if ok && !s.expired(time.Now()) {
		m.mu.Unlock()
		return s
	}
	rotating := ok
	var served int
	if ok {
		// Read under the lock; the retiring session may still be counting a
		// request on another goroutine.
		served = s.requests
	}
	delete(m.sessions, host)
	m.mu.Unlock()

	if rotating {
		m.sleep(rotationPause())
		slog.Info("Rotating session", "host", host, "requests", served)
	}

	fresh := m.newSession(host)
	m.warmup(ctx, fresh)

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.sessions[host]; ok {
		// Another goroutine won the race; use its session.
		return existing
	}
	m.sessions[host] = fresh
	return fresh
}

func (m *Manager) newSession(host string) *session {
	jar, _ := cookiejar.New(nil)

	px := m.proxies.Get()
	transport := &http.Transport{}
	if px != nil {
		transport.Proxy = http.ProxyURL(px.URL)
	}

	now := time.Now()
	return &session{
		host: host,
		client: &http.Client{
			Jar:       jar,
			Timeout:   requestTimeout,
			Transport: transport,
		},
		identity:  m.identities.Next(),
		proxy:     px,
		createdAt: now,
		lastUsed:  now,
		rotateAt:  rotateRequestsMin + rand.Intn(rotateRequestsMax-rotateRequestsMin+1),
	}
}

// warmup primes the cookie jar with a GET to the site root. Best effort.
func (m *Manager) warmup(ctx context.Context, s *session) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://"+s.host+"/", nil)
	if err != nil {
		return
	}
	for k, v := range s.identity.Headers(s.host) {
		req.Header.Set(k, v)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Del("Origin")

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Debug("Session warmup failed", "host", s.host, "error", err)
		return
	}
	resp.Body.Close()
}

// rotationPause draws a gaussian pause around 4s, clamped to [1s, 8s].
func rotationPause() time.Duration {
	secs := rand.NormFloat64()*1.5 + 4
	if secs < 1 {
		secs = 1
	}
	if secs > 8 {
		secs = 8
	}
	return time.Duration(secs * float64(time.Second))
}
