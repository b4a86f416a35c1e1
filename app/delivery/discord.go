package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const defaultBotAPIBase = "https://discord.com/api/v10"

// Settings provides the sink's runtime configuration.
type Settings interface {
	GetConfig(key string) string
}

// Discord delivers notifications either through a per-source webhook or,
// when a source names a channel instead, through the bot API.
type Discord struct {
	client   *http.Client
	settings Settings
	apiBase  string

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration)
}

func NewDiscord(settings Settings) *Discord {
	return &Discord{
		client:   &http.Client{Timeout: 10 * time.Second},
		settings: settings,
		apiBase:  defaultBotAPIBase,
		sleep: func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		},
	}
}

// Send renders and posts one notification. 429 responses are retried after
// the server-provided delay, other failures bubble up so the sender can
// withhold the delivery record.
func (d *Discord) Send(ctx context.Context, n Notification) error {
	webhookURL := n.Source.WebhookURL
	if webhookURL == "" && n.Source.ChannelID == "" {
		webhookURL = d.settings.GetConfig("discord_webhook_url")
	}

	if webhookURL != "" {
		payload := map[string]any{"embeds": buildEmbeds(n)}
		return d.post(ctx, webhookURL, nil, payload, http.StatusNoContent)
	}

	token := d.settings.GetConfig("discord_bot_token")
	if n.Source.ChannelID == "" || token == "" {
		return fmt.Errorf("source %q has no usable sink", n.Source.Name)
	}

	payload := map[string]any{
		"embeds":     buildEmbeds(n),
		"components": buildComponents(n),
	}
	headers := map[string]string{"Authorization": "Bot " + token}
	url := fmt.Sprintf("%s/channels/%s/messages", d.apiBase, n.Source.ChannelID)
	return d.post(ctx, url, headers, payload, http.StatusOK)
}

func (d *Discord) post(ctx context.Context, url string, headers map[string]string, payload any, wantStatus int) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode notification: %w", err)
	}

	for attempt := 1; attempt <= 3; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("failed to build notification request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := d.client.Do(req)
		if err != nil {
			return fmt.Errorf("notification request failed: %w", err)
		}
		status := resp.StatusCode
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()

		if status == wantStatus || status == http.StatusOK || status == http.StatusNoContent {
			return nil
		}
		if status == http.StatusTooManyRequests && attempt < 3 {
			d.sleep(ctx, discordRetryAfter(resp))
			continue
		}
		return fmt.Errorf("notification sink returned status %d: %s", status, strings.TrimSpace(string(respBody)))
	}

	return fmt.Errorf("notification sink kept rate limiting")
}

func discordRetryAfter(resp *http.Response) time.Duration {
	if v, err := strconv.ParseFloat(resp.Header.Get("Retry-After"), 64); err == nil && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	return 2 * time.Second
}

func buildEmbeds(n Notification) []map[string]any {
	item := n.Item

	title := item.Title
	if item.Hidden {
		title = "🔒 " + title
	}
	if n.Kind == KindPriceDrop {
		title = "📉 " + title
	}

	fields := []map[string]any{
		{"name": "Price", "value": fmt.Sprintf("**%.2f %s** (%s)", item.Price, item.Currency, BuyerProtectionTotal(item.Price, item.Currency)), "inline": true},
	}
	if n.Kind == KindPriceDrop && n.Drop != nil {
		fields = append(fields, map[string]any{
			"name":   "Price drop",
			"value":  fmt.Sprintf("~~%.2f~~ → **%.2f %s** (−%.2f)", n.Drop.OldPrice, n.Drop.NewPrice, n.Drop.Currency, n.Drop.Amount),
			"inline": true,
		})
	}
	if item.Size != "" {
		fields = append(fields, map[string]any{"name": "Size", "value": item.Size, "inline": true})
	}
	if item.Status != "" {
		fields = append(fields, map[string]any{"name": "Condition", "value": item.Status, "inline": true})
	}
	if item.Brand != "" {
		fields = append(fields, map[string]any{"name": "Brand", "value": item.Brand, "inline": true})
	}
	if item.SellerLogin != "" {
		seller := item.SellerLogin
		if flag := CountryFlag(item.SellerCountry); flag != "" {
			seller += " " + flag
		}
		if item.FeedbackCount > 0 {
			seller += fmt.Sprintf("\n%s (%d)", Stars(item.FeedbackScore), item.FeedbackCount)
		}
		fields = append(fields, map[string]any{"name": "Seller", "value": seller, "inline": true})
	}

	footer := n.Source.Name
	if item.Hidden {
		footer += " · hidden listing"
	}

	embed := map[string]any{
		"title":  title,
		"url":    item.URL,
		"color":  embedColor(n),
		"fields": fields,
		"footer": map[string]any{"text": footer},
	}
	if len(item.Photos) > 0 {
		embed["image"] = map[string]any{"url": item.Photos[0]}
	}

	embeds := []map[string]any{embed}

	// Extra photos ride along as gallery embeds sharing the item URL.
	if len(item.Photos) > 1 {
		for _, photo := range item.Photos[1:] {
			embeds = append(embeds, map[string]any{
				"url":   item.URL,
				"image": map[string]any{"url": photo},
			})
		}
	}

	return embeds
}

func buildComponents(n Notification) []map[string]any {
	buyURL := fmt.Sprintf("https://%s/transaction/buy/new?source_screen=item&transaction%%5Bitem_id%%5D=%d", n.Item.Host, n.Item.ID)
	return []map[string]any{{
		"type": 1,
		"components": []map[string]any{
			{"type": 2, "style": 5, "label": "View", "url": n.Item.URL},
			{"type": 2, "style": 5, "label": "Buy", "url": buyURL},
		},
	}}
}

func embedColor(n Notification) int {
	if n.Kind == KindPriceDrop {
		return 0xE67E22
	}
	if n.Source.EmbedColor != 0 {
		return n.Source.EmbedColor
	}
	return 0x57F287
}

// BuyerProtectionTotal estimates the checkout total with the marketplace's
// buyer protection fee added.
func BuyerProtectionTotal(price float64, currency string) string {
	return fmt.Sprintf("≈ %.2f %s", price+price*0.06+0.30, currency)
}

// Stars renders a 0..5 score as star emojis with a half-star marker.
func Stars(score float64) string {
	if score > 5 {
		score = 5
	}
	if score < 0 {
		score = 0
	}
	full := int(score)
	half := 0
	if score-float64(full) >= 0.5 {
		half = 1
	}
	return strings.Repeat("⭐", full) + strings.Repeat("✨", half) + strings.Repeat("☆", 5-full-half)
}

var countryFlags = map[string]string{
	"PL": "🇵🇱", "DE": "🇩🇪", "FR": "🇫🇷", "GB": "🇬🇧", "IT": "🇮🇹",
	"ES": "🇪🇸", "NL": "🇳🇱", "BE": "🇧🇪", "AT": "🇦🇹", "CZ": "🇨🇿",
	"SK": "🇸🇰", "HU": "🇭🇺", "RO": "🇷🇴", "SE": "🇸🇪", "FI": "🇫🇮",
	"DK": "🇩🇰", "NO": "🇳🇴", "PT": "🇵🇹", "LT": "🇱🇹", "LV": "🇱🇻",
	"EE": "🇪🇪", "HR": "🇭🇷", "SI": "🇸🇮", "LU": "🇱🇺", "US": "🇺🇸",
}

// CountryFlag returns the flag emoji for an ISO country code, or empty.
func CountryFlag(code string) string {
	return countryFlags[strings.ToUpper(code)]
}
