// Package metrics collects pipeline counters and renders them in the
// Prometheus text exposition format for external polling.
package metrics

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"
)

type Metrics struct {
	CyclesTotal     atomic.Uint64
	ItemsFoundTotal atomic.Uint64
	ItemsSentTotal  atomic.Uint64
	PriceDropsTotal atomic.Uint64
	ErrorsTotal     atomic.Uint64

	lastCycleUnix atomic.Int64
	queueDepth    atomic.Int64

	start time.Time
}

func New() *Metrics {
	return &Metrics{start: time.Now()}
}

func (m *Metrics) MarkCycle() {
	m.CyclesTotal.Add(1)
	m.lastCycleUnix.Store(time.Now().Unix())
}

func (m *Metrics) SetQueueDepth(n int) {
	m.queueDepth.Store(int64(n))
}

func (m *Metrics) QueueDepth() int {
	return int(m.queueDepth.Load())
}

func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.start)
}

// WritePrometheus renders all counters and gauges in text exposition format.
func (m *Metrics) WritePrometheus(w io.Writer) {
	counter := func(name, help string, v uint64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s counter\n%s %d\n", name, help, name, name, v)
	}
	gauge := func(name, help string, v int64) {
		fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s gauge\n%s %d\n", name, help, name, name, v)
	}

	counter("dealwatch_scrapes_total", "Completed scrape cycles", m.CyclesTotal.Load())
	counter("dealwatch_items_found_total", "Items discovered across all cycles", m.ItemsFoundTotal.Load())
	counter("dealwatch_items_sent_total", "Items delivered to the notification sink", m.ItemsSentTotal.Load())
	counter("dealwatch_price_drops_total", "Price drop alerts delivered", m.PriceDropsTotal.Load())
	counter("dealwatch_errors_total", "Errors across fetch, parse and delivery", m.ErrorsTotal.Load())
	gauge("dealwatch_last_scrape_ts", "Unix timestamp of the last completed cycle", m.lastCycleUnix.Load())
	gauge("dealwatch_queue_size", "Current delivery queue depth", m.queueDepth.Load())
	gauge("dealwatch_uptime_seconds", "Process uptime", int64(m.Uptime().Seconds()))
}
