package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	ratingTTL         = time.Hour
	ratingCacheCap    = 500
	ratingCacheEvict  = 100
	ratingWorkerLimit = 5
)

// SellerRating is the enrichment payload for one seller.
type SellerRating struct {
	FeedbackCount int
	Score         float64
	Country       string
}

type ratingEntry struct {
	rating  SellerRating
	expires time.Time
}

// ratingCache holds seller ratings for an hour. When the cache overflows the
// soonest-expiring entries are dropped in bulk.
type ratingCache struct {
	mu      sync.Mutex
	entries map[int64]ratingEntry
}

func newRatingCache() *ratingCache {
	return &ratingCache{entries: make(map[int64]ratingEntry)}
}

func (c *ratingCache) get(sellerID int64) (SellerRating, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sellerID]
	if !ok || time.Now().After(e.expires) {
		return SellerRating{}, false
	}
	return e.rating, true
}

func (c *ratingCache) put(sellerID int64, rating SellerRating) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[sellerID] = ratingEntry{rating: rating, expires: time.Now().Add(ratingTTL)}

	if len(c.entries) > ratingCacheCap {
		ids := make([]int64, 0, len(c.entries))
		for id := range c.entries {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			return c.entries[ids[i]].expires.Before(c.entries[ids[j]].expires)
		})
		for _, id := range ids[:ratingCacheEvict] {
			delete(c.entries, id)
		}
	}
}

// enrichSellers fills in ratings for items whose catalog payload carried
// none. Lookups run concurrently per unique seller; failures leave the
// zero rating in place.
func (o *Orchestrator) enrichSellers(ctx context.Context, host string, items []Item) {
	pending := make(map[int64]bool)
	for _, item := range items {
		if item.SellerID != 0 && item.FeedbackCount == 0 {
			pending[item.SellerID] = true
		}
	}
	if len(pending) == 0 {
		return
	}

	ratings := make(map[int64]SellerRating)
	var mu sync.Mutex

	sem := make(chan struct{}, ratingWorkerLimit)
	var wg sync.WaitGroup
	for sellerID := range pending {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			rating, ok := o.sellerRating(ctx, host, id)
			if !ok {
				return
			}
			mu.Lock()
			ratings[id] = rating
			mu.Unlock()
		}(sellerID)
	}
	wg.Wait()

	for i := range items {
		if r, ok := ratings[items[i].SellerID]; ok {
			items[i].FeedbackCount = r.FeedbackCount
			items[i].FeedbackScore = r.Score
			if r.Country != "" {
				items[i].SellerCountry = r.Country
			}
		}
	}
}

func (o *Orchestrator) sellerRating(ctx context.Context, host string, sellerID int64) (SellerRating, bool) {
	if cached, ok := o.ratings.get(sellerID); ok {
		return cached, true
	}

	rating, err := o.fetchSellerRating(ctx, host, sellerID)
	if err != nil {
		slog.Debug("Seller rating lookup failed", "seller_id", sellerID, "error", err)
		return SellerRating{}, false
	}

	o.ratings.put(sellerID, rating)
	return rating, true
}

func (o *Orchestrator) fetchSellerRating(ctx context.Context, host string, sellerID int64) (SellerRating, error) {
	ctx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()

	resp, err := o.client.Get(ctx, fmt.Sprintf("https://%s/api/v2/users/%d", host, sellerID))
	if err != nil {
		return SellerRating{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return SellerRating{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return SellerRating{}, err
	}

	var doc struct {
		User map[string]any `json:"user"`
	}
	if err := json.Unmarshal(body, &doc); err != nil {
		return SellerRating{}, fmt.Errorf("failed to decode seller response: %w", err)
	}

	country := asString(coalesce(doc.User["country_iso_code"], doc.User["country_code"]))
	if country == "" {
		if city, ok := doc.User["city"].(map[string]any); ok {
			country = asString(city["country_iso_code"])
		}
	}

	return SellerRating{
		FeedbackCount: int(asInt(coalesce(doc.User["feedback_count"], doc.User["positive_feedback_count"]))),
		Score:         NormalizeScore(asFloat(coalesce(doc.User["feedback_reputation"], doc.User["reputation"]))),
		Country:       strings.ToUpper(country),
	}, nil
}
