package identity

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPool_Next_ReturnsBuiltinIdentity(t *testing.T) {
	pool := NewPool()

	if pool.Size() != len(builtinAgents) {
		t.Fatalf("Expected %d identities, got %d", len(builtinAgents), pool.Size())
	}

	for i := 0; i < 50; i++ {
		id := pool.Next()
		if id.UserAgent == "" {
			t.Fatal("Identity has empty User-Agent")
		}
		if id.AcceptLanguage == "" {
			t.Fatal("Identity has empty Accept-Language")
		}
	}
}

func TestIdentity_Headers_ChromiumCarriesClientHints(t *testing.T) {
	id := buildIdentities([]string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	})[0]

	h := id.Headers("www.example.pl")

	if h["Sec-Fetch-Mode"] != "cors" {
		t.Errorf("Chromium identity should send Sec-Fetch-Mode, got %q", h["Sec-Fetch-Mode"])
	}
	if !strings.Contains(h["Sec-Ch-Ua"], `v="133"`) {
		t.Errorf("Sec-Ch-Ua should carry the Chrome major version, got %q", h["Sec-Ch-Ua"])
	}
	if h["Origin"] != "https://www.example.pl" {
		t.Errorf("Unexpected Origin: %q", h["Origin"])
	}
	if !strings.HasPrefix(h["Referer"], "https://www.example.pl") {
		t.Errorf("Referer should be same-site, got %q", h["Referer"])
	}
}

func TestIdentity_Headers_FirefoxOmitsClientHints(t *testing.T) {
	id := buildIdentities([]string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
	})[0]

	h := id.Headers("www.example.pl")

	for _, k := range []string{"Sec-Fetch-Mode", "Sec-Ch-Ua", "Sec-Ch-Ua-Platform"} {
		if _, ok := h[k]; ok {
			t.Errorf("Firefox identity should not send %s", k)
		}
	}
}

func TestNewPoolFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yml")
	content := "user_agents:\n  - Agent-One/1.0\n  - Agent-Two/2.0\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	pool, err := NewPoolFromFile(path)
	if err != nil {
		t.Fatalf("NewPoolFromFile() error = %v", err)
	}
	if pool.Size() != 2 {
		t.Errorf("Expected 2 identities, got %d", pool.Size())
	}
}

func TestNewPoolFromFile_EmptyFails(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identities.yml")
	if err := os.WriteFile(path, []byte("user_agents: []\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := NewPoolFromFile(path); err == nil {
		t.Error("Expected error for empty identity file")
	}
}
