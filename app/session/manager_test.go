package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kmilewski/dealwatch/app/identity"
	"github.com/kmilewski/dealwatch/app/proxy"
	"github.com/kmilewski/dealwatch/app/ratelimit"
)

type noSettings struct{}

func (noSettings) GetConfig(string) string { return "" }

func newTestManager() *Manager {
	m := NewManager(
		identity.NewPool(),
		ratelimit.NewWithJitter(1000, time.Minute, time.Millisecond, 2*time.Millisecond),
		proxy.New(noSettings{}, ""),
	)
	m.sleep = func(time.Duration) {}
	return m
}

func hostOf(t *testing.T, server *httptest.Server) string {
	t.Helper()
	u, err := url.Parse(server.URL)
	if err != nil {
		t.Fatal(err)
	}
	return u.Host
}

func TestManager_Get_SendsIdentityHeaders(t *testing.T) {
	var ua atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua.Store(r.Header.Get("User-Agent"))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	m := newTestManager()
	resp, err := m.Get(context.Background(), server.URL+"/api/v2/catalog/items")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	got, _ := ua.Load().(string)
	if got == "" {
		t.Error("Request carried no User-Agent")
	}
}

func TestManager_Get_CountsRequestsTowardRotation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	host := hostOf(t, server)

	m := newTestManager()
	for i := 0; i < 3; i++ {
		resp, err := m.Get(context.Background(), server.URL)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		resp.Body.Close()
	}

	m.mu.Lock()
	s := m.sessions[host]
	m.mu.Unlock()
	if s == nil {
		t.Fatal("Expected a session for the host")
	}
	if s.requests != 3 {
		t.Errorf("requests = %d, want 3", s.requests)
	}
}

func TestManager_Get_RateLimitedResponseDoesNotCount(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()
	host := hostOf(t, server)

	m := newTestManager()
	resp, err := m.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	m.mu.Lock()
	s := m.sessions[host]
	m.mu.Unlock()
	if s.requests != 0 {
		t.Errorf("429 response counted toward rotation, requests = %d", s.requests)
	}
}

func TestManager_Get_RotatesAfterThreshold(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	host := hostOf(t, server)

	m := newTestManager()
	var slept atomic.Int32
	m.sleep = func(time.Duration) { slept.Add(1) }

	resp, err := m.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	m.mu.Lock()
	first := m.sessions[host]
	first.rotateAt = 1
	m.mu.Unlock()

	resp, err = m.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	m.mu.Lock()
	second := m.sessions[host]
	m.mu.Unlock()
	if second == first {
		t.Error("Expected a fresh session after the rotation threshold")
	}
	if slept.Load() == 0 {
		t.Error("Rotation should pause before creating the replacement")
	}
}

func TestManager_Get_ConcurrentRotation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	host := hostOf(t, server)

	m := newTestManager()

	// Keep every request on the rotation path so concurrent goroutines
	// retire and replace the session while others still count on it.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				m.mu.Lock()
				if s := m.sessions[host]; s != nil {
					s.rotateAt = 1
				}
				m.mu.Unlock()

				resp, err := m.Get(context.Background(), server.URL)
				if err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				resp.Body.Close()
			}
		}()
	}
	wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sessions) != 1 {
		t.Errorf("Expected one live session for the host, got %d", len(m.sessions))
	}
}

func TestManager_InvalidateAndCleanup(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	host := hostOf(t, server)

	m := newTestManager()
	resp, err := m.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	m.Invalidate(host)
	m.mu.Lock()
	_, ok := m.sessions[host]
	m.mu.Unlock()
	if ok {
		t.Error("Invalidate should remove the session")
	}

	resp, err = m.Get(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()

	m.mu.Lock()
	m.sessions[host].lastUsed = time.Now().Add(-time.Hour)
	m.mu.Unlock()
	m.CleanupStale()

	m.mu.Lock()
	_, ok = m.sessions[host]
	m.mu.Unlock()
	if ok {
		t.Error("CleanupStale should drop idle sessions")
	}
}
