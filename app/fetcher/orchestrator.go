// Package fetcher turns stored catalog queries into normalized item
// snapshots. It owns URL translation, the retry and backoff policy around
// the anti-ban layer, response classification and seller enrichment.
package fetcher

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/kmilewski/dealwatch/app/database"
)

const (
	maxFetchWorkers = 8
	maxAttempts     = 3
)

// Client is the session-managed HTTP surface the orchestrator fetches
// through. Invalidate discards the host's session after a block.
type Client interface {
	Get(ctx context.Context, rawURL string) (*http.Response, error)
	Invalidate(host string)
}

// Settings provides the runtime fetch knobs.
type Settings interface {
	GetConfigInt(key string, fallback int) int
}

type Orchestrator struct {
	client   Client
	settings Settings
	ratings  *ratingCache
	workers  int

	// sleep is swapped out in tests.
	sleep func(context.Context, time.Duration)
}

func NewOrchestrator(client Client, settings Settings, workers int) *Orchestrator {
	if workers < 1 || workers > maxFetchWorkers {
		workers = maxFetchWorkers
	}
	return &Orchestrator{
		client:   client,
		settings: settings,
		ratings:  newRatingCache(),
		workers:  workers,
		sleep:    sleepCtx,
	}
}

// Result is the outcome of fetching one source URL.
type Result struct {
	Source database.Source
	URL    database.SourceURL
	Items  []Item
	Err    error
}

// ScrapeAll fans one fetch task out per (source, URL) pair across a bounded
// worker pool and collects every outcome. A failed task yields a Result with
// Err set; it never aborts the cycle.
func (o *Orchestrator) ScrapeAll(ctx context.Context, sources []database.Source) []Result {
	type task struct {
		source database.Source
		url    database.SourceURL
	}

	var tasks []task
	for _, src := range sources {
		for _, u := range src.URLs {
			tasks = append(tasks, task{source: src, url: u})
		}
	}
	if len(tasks) == 0 {
		return nil
	}

	workers := o.workers
	if len(tasks) < workers {
		workers = len(tasks)
	}

	jobs := make(chan task)
	results := make(chan Result)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range jobs {
				items, err := o.FetchQuery(ctx, t.url.URL)
				results <- Result{Source: t.source, URL: t.url, Items: items, Err: err}
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, t := range tasks {
			select {
			case jobs <- t:
			case <-ctx.Done():
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(results)
	}()

	var out []Result
	for r := range results {
		out = append(out, r)
	}
	return out
}

// FetchQuery fetches one catalog query, classifying each response:
// a clean 200 returns items; empty or non-JSON 200s and 401/403 discard the
// session and retry after backoff; 429 honors Retry-After; any other status
// aborts the task.
func (o *Orchestrator) FetchQuery(ctx context.Context, queryURL string) ([]Item, error) {
	host := HostOf(queryURL)
	perPage := o.settings.GetConfigInt("per_page", 20)

	apiURL, err := BuildAPIURL(queryURL, perPage)
	if err != nil {
		return nil, err
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		items, retry, err := o.attempt(ctx, host, apiURL, attempt)
		if err != nil {
			return nil, err
		}
		if !retry {
			o.enrichSellers(ctx, host, items)
			return items, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("giving up on %s after %d attempts", host, maxAttempts)
}

// attempt runs one request. retry=true means the caller should try again;
// a non-nil error aborts the whole task.
func (o *Orchestrator) attempt(ctx context.Context, host, apiURL string, attempt int) (items []Item, retry bool, err error) {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	resp, err := o.client.Get(reqCtx, apiURL)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		slog.Warn("Fetch transport error", "host", host, "attempt", attempt, "error", err)
		o.sleep(ctx, Backoff(attempt))
		return nil, true, nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		slog.Warn("Fetch read error", "host", host, "attempt", attempt, "error", err)
		o.sleep(ctx, Backoff(attempt))
		return nil, true, nil
	}

	switch {
	case resp.StatusCode == http.StatusOK && len(bytes.TrimSpace(body)) == 0:
		// Empty 200 is the upstream's silent block signal.
		slog.Warn("Empty response body, rotating session", "host", host, "attempt", attempt)
		o.client.Invalidate(host)
		o.sleep(ctx, Backoff(attempt))
		return nil, true, nil

	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		slog.Warn("Session rejected, rotating", "host", host, "status", resp.StatusCode, "attempt", attempt)
		o.client.Invalidate(host)
		o.sleep(ctx, Backoff(attempt))
		return nil, true, nil

	case resp.StatusCode == http.StatusTooManyRequests:
		wait := retryAfter(resp) + time.Duration(1+rand.Intn(4))*time.Second
		slog.Warn("Upstream rate limit", "host", host, "wait", wait)
		o.sleep(ctx, wait)
		return nil, true, nil

	case resp.StatusCode != http.StatusOK:
		return nil, false, fmt.Errorf("search API returned status %d for %s", resp.StatusCode, host)
	}

	items, parseErr := ParseItems(body, host)
	if parseErr != nil {
		// Non-JSON 200s are block pages.
		slog.Warn("Unparseable response body, rotating session", "host", host, "attempt", attempt)
		o.client.Invalidate(host)
		o.sleep(ctx, Backoff(attempt))
		return nil, true, nil
	}

	return items, false, nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && v > 0 {
		return time.Duration(v) * time.Second
	}
	return 20 * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) {
	select {
	case <-time.After(d):
	case <-ctx.Done():
	}
}
