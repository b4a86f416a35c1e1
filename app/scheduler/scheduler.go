// Package scheduler runs the two long-lived pipeline loops: the scan loop
// that fetches and classifies items, and the sender loop that drains the
// delivery queue. It also owns hot reload and graceful shutdown.
package scheduler

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/delivery"
	"github.com/kmilewski/dealwatch/app/detector"
	"github.com/kmilewski/dealwatch/app/fetcher"
	"github.com/kmilewski/dealwatch/app/metrics"
)

const (
	minScanDelay   = 20 * time.Second
	senderCadence  = 200 * time.Millisecond
	extraPauseOdds = 0.15
	extraPauseMean = 8.0 // seconds
)

// Fetcher is the scrape fan-out the scan loop drives.
type Fetcher interface {
	ScrapeAll(ctx context.Context, sources []database.Source) []fetcher.Result
}

// SessionControl is the slice of the session manager the scheduler touches.
type SessionControl interface {
	Warmup(ctx context.Context, host string)
	InvalidateAll()
	CleanupStale()
}

// ProxyControl is the slice of the proxy pool the scheduler touches.
type ProxyControl interface {
	Invalidate()
}

type Scheduler struct {
	sources  database.SourceStore
	settings database.ConfigStore
	logs     database.LogStore
	fetcher  Fetcher
	detector *detector.Detector
	queue    *delivery.Queue
	sender   *delivery.Sender
	sessions SessionControl
	proxies  ProxyControl
	metrics  *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(sources database.SourceStore, settings database.ConfigStore, logs database.LogStore,
	f Fetcher, det *detector.Detector, queue *delivery.Queue, sender *delivery.Sender,
	sessions SessionControl, proxies ProxyControl, m *metrics.Metrics) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		sources:  sources,
		settings: settings,
		logs:     logs,
		fetcher:  f,
		detector: det,
		queue:    queue,
		sender:   sender,
		sessions: sessions,
		proxies:  proxies,
		metrics:  m,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Scheduler) Start() {
	s.warmup()

	s.wg.Add(1)
	go s.scanLoop()

	s.wg.Add(1)
	go s.senderLoop()

	s.wg.Add(1)
	go s.watchSignals()
}

// Stop cancels both loops and waits for them to reach their next sleep
// point. In-flight HTTP requests finish on their own timeouts.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Reload drops every warm cache so the next cycle sees fresh settings,
// proxies and sessions. Wired to SIGHUP and the reload endpoint.
func (s *Scheduler) Reload() {
	s.settings.Invalidate()
	s.proxies.Invalidate()
	s.sessions.InvalidateAll()
	slog.Info("Hot reload: caches invalidated, sessions reset")
	if s.logs != nil {
		s.logs.AppendLog("info", "hot reload applied", "scheduler")
	}
}

// warmup primes a session for every distinct host among the active sources
// so the first cycle starts with cookies in place.
func (s *Scheduler) warmup() {
	sources, err := s.sources.GetActiveSources()
	if err != nil {
		slog.Warn("Warmup skipped", "error", err)
		return
	}

	hosts := make(map[string]bool)
	for _, src := range sources {
		for _, u := range src.URLs {
			if host := fetcher.HostOf(u.URL); host != "" {
				hosts[host] = true
			}
		}
	}
	for host := range hosts {
		s.sessions.Warmup(s.ctx, host)
		slog.Debug("Session warmed", "host", host)
	}
}

func (s *Scheduler) scanLoop() {
	defer s.wg.Done()

	for {
		s.runCycle()

		select {
		case <-time.After(s.nextDelay()):
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) senderLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(senderCadence)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sender.ProcessNext(s.ctx)
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Scheduler) watchSignals() {
	defer s.wg.Done()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)
	defer signal.Stop(ch)

	for {
		select {
		case <-ch:
			s.Reload()
		case <-s.ctx.Done():
			return
		}
	}
}

// runCycle is one pass over every active source URL.
func (s *Scheduler) runCycle() {
	s.sessions.CleanupStale()

	sources, err := s.sources.GetActiveSources()
	if err != nil {
		slog.Error("Failed to load sources", "error", err)
		s.metrics.ErrorsTotal.Add(1)
		return
	}
	if len(sources) == 0 {
		slog.Debug("No active sources")
		s.metrics.MarkCycle()
		return
	}

	start := time.Now()
	results := s.fetcher.ScrapeAll(s.ctx, sources)

	var found, queued, drops int
	for _, res := range results {
		if res.Err != nil {
			slog.Error("Fetch task failed", "source", res.Source.Name, "url_id", res.URL.ID, "error", res.Err)
			s.metrics.ErrorsTotal.Add(1)
			continue
		}
		found += len(res.Items)

		// The API returns newest first. Process oldest first so the
		// high-water mark ascends in send order; a restart mid-queue then
		// re-discovers anything not yet delivered instead of skipping it.
		items := append([]fetcher.Item(nil), res.Items...)
		sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt < items[j].CreatedAt })

		for _, item := range items {
			outcome, err := s.detector.Process(item, res.URL.LastItemTS)
			if err != nil {
				slog.Error("Detector failed", "item_id", item.ID, "error", err)
				s.metrics.ErrorsTotal.Add(1)
				continue
			}

			switch outcome.Action {
			case detector.ActionNotify:
				n := delivery.Notification{Kind: delivery.KindNewItem, Item: item, Source: res.Source, URLID: res.URL.ID}
				if err := s.queue.Put(s.ctx, n); err != nil {
					return
				}
				s.detector.MarkQueued(item.ID)
				s.metrics.ItemsFoundTotal.Add(1)
				queued++

			case detector.ActionPriceDrop:
				n := delivery.Notification{Kind: delivery.KindPriceDrop, Item: item, Source: res.Source, URLID: res.URL.ID, Drop: outcome.Drop}
				if err := s.queue.Put(s.ctx, n); err != nil {
					return
				}
				drops++

			default:
				// Known or duplicate items still move the mark so the next
				// cycle skips them outright.
				if outcome.AdvanceHWM {
					if err := s.sources.AdvanceHighWaterMark(res.URL.ID, item.CreatedAt); err != nil {
						slog.Error("Failed to advance high-water mark", "url_id", res.URL.ID, "error", err)
					}
				}
			}
		}
	}

	s.metrics.MarkCycle()
	s.metrics.SetQueueDepth(s.queue.Len())
	slog.Info("Scan cycle complete",
		"sources", len(sources),
		"found", found,
		"queued", queued,
		"drops", drops,
		"elapsed", time.Since(start).Round(time.Millisecond))
}

// nextDelay draws the pause before the next cycle: the configured interval
// skewed by a random factor, occasionally stretched by an exponential extra
// pause so the traffic pattern stays irregular. Never below the floor.
func (s *Scheduler) nextDelay() time.Duration {
	base := s.settings.GetConfigDuration("scan_interval", time.Minute)

	factor := 0.75 + rand.Float64()*0.60
	delay := time.Duration(float64(base) * factor)

	if rand.Float64() < extraPauseOdds {
		delay += time.Duration(rand.ExpFloat64() * extraPauseMean * float64(time.Second))
	}

	if delay < minScanDelay {
		delay = minScanDelay
	}
	return delay
}
