package fetcher

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Item is one marketplace listing, normalized from the search API's rather
// fluid JSON. The upstream alternates between scalar and object encodings
// for size, status and price depending on endpoint version, so everything
// funnels through parseItem.
type Item struct {
	ID       int64
	Title    string
	Brand    string
	Size     string
	Price    float64
	Currency string
	Status   string
	Hidden   bool

	URL       string
	Photos    []string
	CreatedAt int64 // unix seconds

	SellerID      int64
	SellerLogin   string
	SellerCountry string
	FeedbackCount int
	FeedbackScore float64

	Host string
}

var statusTitles = map[int64]string{
	1: "New with tags",
	2: "New without tags",
	3: "Very good",
	4: "Good",
	5: "Satisfactory",
}

// ParseItems decodes a search API response body for the given host.
func ParseItems(body []byte, host string) ([]Item, error) {
	var doc struct {
		Items []map[string]any `json:"items"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	items := make([]Item, 0, len(doc.Items))
	for _, raw := range doc.Items {
		item, ok := parseItem(raw, host)
		if !ok {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

func parseItem(raw map[string]any, host string) (Item, bool) {
	id := asInt(raw["id"])
	if id == 0 {
		return Item{}, false
	}

	item := Item{
		ID:     id,
		Title:  asString(raw["title"]),
		Brand:  asString(raw["brand_title"]),
		Hidden: asBool(raw["is_hidden"]),
		Host:   host,
	}

	// Size: string or {title: ...}.
	switch v := coalesce(raw["size_title"], raw["size"]).(type) {
	case string:
		item.Size = v
	case map[string]any:
		item.Size = asString(v["title"])
	}

	// Price: {amount, currency_code} or a bare scalar.
	switch v := raw["price"].(type) {
	case map[string]any:
		item.Price = asFloat(v["amount"])
		item.Currency = asString(v["currency_code"])
	default:
		item.Price = asFloat(v)
	}
	if item.Currency == "" {
		item.Currency = "PLN"
	}

	// Status: string, {id, title} or a sibling status_id.
	switch v := raw["status"].(type) {
	case string:
		item.Status = v
	case map[string]any:
		item.Status = asString(v["title"])
		if item.Status == "" {
			item.Status = statusTitles[asInt(v["id"])]
		}
	default:
		item.Status = statusTitles[asInt(raw["status_id"])]
	}

	base := "https://" + host
	if u := asString(raw["url"]); strings.HasPrefix(u, "http") {
		item.URL = u
	} else if u != "" {
		item.URL = base + u
	} else {
		item.URL = fmt.Sprintf("%s/items/%d", base, id)
	}

	item.Photos = parsePhotos(raw)
	item.CreatedAt = parseCreatedAt(raw)

	if user, ok := raw["user"].(map[string]any); ok {
		item.SellerID = asInt(user["id"])
		item.SellerLogin = asString(user["login"])
		item.SellerCountry = strings.ToUpper(asString(coalesce(user["country_iso_code"], user["country_code"])))
		item.FeedbackCount = int(asInt(coalesce(user["feedback_count"], user["positive_feedback_count"])))
		item.FeedbackScore = NormalizeScore(asFloat(coalesce(user["feedback_reputation"], user["reputation"], user["feedback_score"])))
	}

	return item, true
}

func parsePhotos(raw map[string]any) []string {
	var photos []string
	if list, ok := raw["photos"].([]any); ok {
		for _, p := range list {
			if len(photos) == 3 {
				break
			}
			if m, ok := p.(map[string]any); ok {
				if u := asString(coalesce(m["url"], m["full_size_url"])); u != "" {
					photos = append(photos, u)
				}
			}
		}
	}
	if len(photos) == 0 {
		if m, ok := raw["photo"].(map[string]any); ok {
			if u := asString(m["url"]); u != "" {
				photos = append(photos, u)
			}
		}
	}
	return photos
}

// parseCreatedAt prefers the explicit timestamp and falls back to the main
// photo's upload time, which tracks listing creation closely enough for the
// freshness window.
func parseCreatedAt(raw map[string]any) int64 {
	if ts := asInt(raw["created_at_ts"]); ts != 0 {
		return ts
	}
	if photo, ok := raw["photo"].(map[string]any); ok {
		if hr, ok := photo["high_resolution"].(map[string]any); ok {
			if ts := asInt(hr["timestamp"]); ts != 0 {
				return ts
			}
		}
	}
	return time.Now().Unix()
}

// NormalizeScore maps the upstream's three reputation scales onto 0..5:
// fractions are multiplied up, percentages divided down.
func NormalizeScore(raw float64) float64 {
	switch {
	case raw > 0 && raw <= 1:
		return raw * 5
	case raw > 5:
		return raw / 20
	default:
		return raw
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	}
	return false
}

func asInt(v any) int64 {
	switch t := v.(type) {
	case float64:
		return int64(t)
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	case json.Number:
		n, _ := t.Int64()
		return n
	}
	return 0
}

func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	case json.Number:
		f, _ := t.Float64()
		return f
	}
	return 0
}

func coalesce(vals ...any) any {
	for _, v := range vals {
		switch t := v.(type) {
		case nil:
			continue
		case string:
			if t != "" {
				return v
			}
		case float64:
			if t != 0 {
				return v
			}
		default:
			return v
		}
	}
	return nil
}
