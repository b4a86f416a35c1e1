// Package identity provides randomized outbound browser identities.
//
// An Identity is a coherent header set imitating one real browser: the
// User-Agent, a matching Accept-Language, and - for Chromium-family agents
// only - the Sec-Fetch-*/Sec-Ch-Ua client hint headers. Firefox and Safari
// genuinely omit those, so the pool does too.
package identity

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

type Identity struct {
	UserAgent      string
	AcceptLanguage string
	Engine         Engine
	chromeVersion  string
}

type Engine string

const (
	EngineChromium Engine = "chromium"
	EngineFirefox  Engine = "firefox"
	EngineWebKit   Engine = "webkit"
)

// Headers returns the full request header set for the given target host.
// A plausible Referer is chosen fresh on every call.
func (id Identity) Headers(host string) map[string]string {
	h := map[string]string{
		"User-Agent":      id.UserAgent,
		"Accept":          "application/json, text/plain, */*",
		"Accept-Language": id.AcceptLanguage,
		"Referer":         Referer(host),
		"Origin":          "https://" + host,
	}

	if id.Engine == EngineChromium {
		ver := id.chromeVersion
		if ver == "" {
			ver = "133"
		}
		h["Sec-Fetch-Dest"] = "empty"
		h["Sec-Fetch-Mode"] = "cors"
		h["Sec-Fetch-Site"] = "same-origin"
		h["Sec-Ch-Ua"] = fmt.Sprintf(`"Not(A:Brand";v="99", "Google Chrome";v="%s", "Chromium";v="%s"`, ver, ver)
		h["Sec-Ch-Ua-Mobile"] = "?0"
		h["Sec-Ch-Ua-Platform"] = platforms[rand.Intn(len(platforms))]
	}

	return h
}

var platforms = []string{`"Windows"`, `"macOS"`, `"Linux"`}

var acceptLanguages = []string{
	"pl-PL,pl;q=0.9,en-US;q=0.8,en;q=0.7",
	"pl,en-US;q=0.9,en;q=0.8",
	"pl-PL,pl;q=0.9,en;q=0.8",
	"pl;q=0.9,en-US;q=0.8,en;q=0.7,de;q=0.6",
	"pl-PL,pl;q=0.8,en-US;q=0.5,en;q=0.3",
}

// Referer returns a plausible same-site page a browser could have come from.
func Referer(host string) string {
	base := "https://" + host
	pages := []string{
		base + "/catalog",
		base + "/",
		base + "/catalog?order=newest_first",
		base + "/catalog?order=relevance",
		base + "/men",
		base + "/women",
	}
	return pages[rand.Intn(len(pages))]
}

var builtinAgents = []string{
	// Chrome / Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	// Chrome / macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_3) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	// Firefox / Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:134.0) Gecko/20100101 Firefox/134.0",
	// Firefox / macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14.7; rv:135.0) Gecko/20100101 Firefox/135.0",
	// Edge / Windows
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36 Edg/133.0.0.0",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36 Edg/132.0.0.0",
	// Safari / macOS
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_7_3) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/18.3 Safari/605.1.15",
	// Chrome / Linux
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/133.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/132.0.0.0 Safari/537.36",
	// Firefox / Linux
	"Mozilla/5.0 (X11; Ubuntu; Linux x86_64; rv:135.0) Gecko/20100101 Firefox/135.0",
	"Mozilla/5.0 (X11; Linux x86_64; rv:134.0) Gecko/20100101 Firefox/134.0",
}

type Pool struct {
	mu         sync.RWMutex
	identities []Identity
}

// NewPool builds a pool from the built-in agent list.
func NewPool() *Pool {
	p := &Pool{}
	p.identities = buildIdentities(builtinAgents)
	return p
}

// NewPoolFromFile builds a pool from a YAML file of the form:
//
//	user_agents:
//	  - Mozilla/5.0 ...
func NewPoolFromFile(path string) (*Pool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read identity file: %w", err)
	}

	var doc struct {
		UserAgents []string `yaml:"user_agents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse identity file: %w", err)
	}
	if len(doc.UserAgents) == 0 {
		return nil, fmt.Errorf("identity file %s defines no user agents", path)
	}

	return &Pool{identities: buildIdentities(doc.UserAgents)}, nil
}

// Next returns a pseudo-randomly selected identity. Selection is uniform
// and has no side effects beyond randomness.
func (p *Pool) Next() Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.identities[rand.Intn(len(p.identities))]
}

func (p *Pool) Size() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.identities)
}

func buildIdentities(agents []string) []Identity {
	out := make([]Identity, 0, len(agents))
	for _, ua := range agents {
		out = append(out, Identity{
			UserAgent:      ua,
			AcceptLanguage: acceptLanguages[rand.Intn(len(acceptLanguages))],
			Engine:         classifyEngine(ua),
			chromeVersion:  chromeVersion(ua),
		})
	}
	return out
}

func classifyEngine(ua string) Engine {
	switch {
	case strings.Contains(ua, "Firefox"):
		return EngineFirefox
	case strings.Contains(ua, "Chrome"):
		return EngineChromium
	default:
		return EngineWebKit
	}
}

func chromeVersion(ua string) string {
	for _, part := range strings.Fields(ua) {
		if v, ok := strings.CutPrefix(part, "Chrome/"); ok {
			major, _, _ := strings.Cut(v, ".")
			return major
		}
	}
	return ""
}
