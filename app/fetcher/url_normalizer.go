package fetcher

import (
	"fmt"
	"net/url"
	"strings"
)

// paramMap translates catalog UI filter keys to their API equivalents.
// Unlisted keys pass through unchanged.
var paramMap = map[string]string{
	"catalog[]": "catalog_ids[]",
	"status[]":  "status_ids[]",
}

// skipParams are UI-only keys that must never reach the API.
var skipParams = map[string]bool{
	"time":                     true,
	"search_id":                true,
	"page":                     true,
	"disabled_personalization": true,
	"ref":                      true,
	"utm_source":               true,
	"utm_medium":               true,
	"utm_campaign":             true,
}

// NormalizeQueryURL canonicalizes a stored catalog URL: brand shortcut paths
// become catalog queries, UI-only params are stripped and the sort order is
// pinned to newest_first so the high-water mark stays meaningful.
func NormalizeQueryURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("failed to parse query URL: %w", err)
	}

	// /brand/123-nike is a UI alias for a brand filter.
	if parts := strings.Split(strings.Trim(u.Path, "/"), "/"); len(parts) >= 2 && parts[0] == "brand" {
		brandID, _, _ := strings.Cut(parts[1], "-")
		u.Path = "/catalog"
		u.RawQuery = "brand_ids[]=" + url.QueryEscape(brandID)
	}

	filtered := url.Values{}
	for key, vals := range u.Query() {
		if skipParams[key] || key == "order" {
			continue
		}
		for _, v := range vals {
			if v != "" {
				filtered.Add(key, v)
			}
		}
	}
	filtered.Set("order", "newest_first")

	u.RawQuery = filtered.Encode()
	return u.String(), nil
}

// BuildAPIURL converts a catalog URL into the search API request for the
// same host: filter keys mapped, UI params dropped, paging and the
// include-hidden flag appended.
func BuildAPIURL(queryURL string, perPage int) (string, error) {
	u, err := url.Parse(queryURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse query URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("query URL %q has no host", queryURL)
	}

	params := url.Values{}
	for key, vals := range u.Query() {
		if skipParams[key] {
			continue
		}
		mapped, ok := paramMap[key]
		if !ok {
			mapped = key
		}
		for _, v := range vals {
			params.Add(mapped, v)
		}
	}

	params.Set("per_page", fmt.Sprintf("%d", perPage))
	if params.Get("order") == "" {
		params.Set("order", "newest_first")
	}
	params.Set("with_disabled_items", "1")

	api := url.URL{
		Scheme:   "https",
		Host:     u.Host,
		Path:     "/api/v2/catalog/items",
		RawQuery: params.Encode(),
	}
	return api.String(), nil
}

// HostOf extracts the host a catalog URL targets.
func HostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
