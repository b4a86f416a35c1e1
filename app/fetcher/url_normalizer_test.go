package fetcher

import (
	"net/url"
	"testing"
)

func TestNormalizeQueryURL_StripsUIParams(t *testing.T) {
	raw := "https://www.example.pl/catalog?search_text=dunk&time=123&search_id=9&page=2&utm_source=share&order=relevance"

	got, err := NormalizeQueryURL(raw)
	if err != nil {
		t.Fatalf("NormalizeQueryURL() error = %v", err)
	}

	u, _ := url.Parse(got)
	q := u.Query()
	if q.Get("search_text") != "dunk" {
		t.Errorf("search_text lost: %s", got)
	}
	if q.Get("order") != "newest_first" {
		t.Errorf("order should be pinned to newest_first, got %q", q.Get("order"))
	}
	for _, k := range []string{"time", "search_id", "page", "utm_source"} {
		if q.Has(k) {
			t.Errorf("UI param %s should be stripped: %s", k, got)
		}
	}
}

func TestNormalizeQueryURL_BrandShortcut(t *testing.T) {
	got, err := NormalizeQueryURL("https://www.example.pl/brand/123-nike")
	if err != nil {
		t.Fatalf("NormalizeQueryURL() error = %v", err)
	}

	u, _ := url.Parse(got)
	if u.Path != "/catalog" {
		t.Errorf("Brand path should become /catalog, got %q", u.Path)
	}
	if u.Query().Get("brand_ids[]") != "123" {
		t.Errorf("Brand id should become a filter, got %s", got)
	}
}

func TestBuildAPIURL_MapsFilterKeys(t *testing.T) {
	raw := "https://www.example.pl/catalog?catalog[]=5&catalog[]=7&status[]=1&brand_ids[]=88&search_text=dunk&ref=xyz"

	got, err := BuildAPIURL(raw, 20)
	if err != nil {
		t.Fatalf("BuildAPIURL() error = %v", err)
	}

	u, _ := url.Parse(got)
	if u.Path != "/api/v2/catalog/items" {
		t.Errorf("Unexpected API path %q", u.Path)
	}
	q := u.Query()
	if len(q["catalog_ids[]"]) != 2 {
		t.Errorf("catalog[] should map to catalog_ids[] keeping both values, got %v", q["catalog_ids[]"])
	}
	if q.Get("status_ids[]") != "1" {
		t.Errorf("status[] should map to status_ids[], got %v", q)
	}
	if q.Get("brand_ids[]") != "88" {
		t.Errorf("brand_ids[] should pass through, got %v", q)
	}
	if q.Has("catalog[]") || q.Has("ref") {
		t.Errorf("UI keys leaked into API URL: %s", got)
	}
	if q.Get("per_page") != "20" || q.Get("with_disabled_items") != "1" {
		t.Errorf("Paging params missing: %s", got)
	}
	if q.Get("order") != "newest_first" {
		t.Errorf("Default order should be newest_first, got %q", q.Get("order"))
	}
}

func TestBuildAPIURL_RequiresHost(t *testing.T) {
	if _, err := BuildAPIURL("/catalog?search_text=dunk", 20); err == nil {
		t.Error("Expected error for host-less URL")
	}
}

func TestHostOf(t *testing.T) {
	if got := HostOf("https://www.example.pl/catalog?a=1"); got != "www.example.pl" {
		t.Errorf("HostOf() = %q", got)
	}
}

func TestBackoff_StaysWithinEnvelope(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		for i := 0; i < 20; i++ {
			d := Backoff(attempt)
			if d < backoffBase {
				t.Fatalf("Backoff(%d) = %v below base", attempt, d)
			}
			if d > backoffCap {
				t.Fatalf("Backoff(%d) = %v above cap", attempt, d)
			}
		}
	}
}

func TestBackoff_FirstAttemptEnvelope(t *testing.T) {
	// The attempt-1 ceiling is base*2.
	for i := 0; i < 50; i++ {
		if d := Backoff(1); d > 2*backoffBase {
			t.Fatalf("Backoff(1) = %v exceeds first-attempt ceiling", d)
		}
	}
}
