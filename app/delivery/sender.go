package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/metrics"
)

// Sink posts one rendered notification to the outside world.
type Sink interface {
	Send(ctx context.Context, n Notification) error
}

// Sender drains the queue one notification at a time, paced so a burst of
// finds does not trip the sink's rate limit. The delivery record is written
// immediately after a successful send and withheld on failure, so a failed
// notification is retried naturally when the item is discovered again.
type Sender struct {
	queue      *Queue
	sink       Sink
	deliveries database.DeliveryStore
	sources    database.SourceStore
	logs       database.LogStore
	metrics    *metrics.Metrics
	pace       *rate.Limiter
}

func NewSender(queue *Queue, sink Sink, deliveries database.DeliveryStore, sources database.SourceStore, logs database.LogStore, m *metrics.Metrics) *Sender {
	return &Sender{
		queue:      queue,
		sink:       sink,
		deliveries: deliveries,
		sources:    sources,
		logs:       logs,
		metrics:    m,
		pace:       rate.NewLimiter(rate.Every(150*time.Millisecond), 1),
	}
}

// ProcessNext delivers at most one queued notification. It reports whether
// anything was dequeued so the loop can idle when the queue is empty.
func (s *Sender) ProcessNext(ctx context.Context) bool {
	n, ok := s.queue.TryGet()
	if !ok {
		return false
	}
	s.metrics.SetQueueDepth(s.queue.Len())

	if err := s.deliver(ctx, n); err != nil {
		s.metrics.ErrorsTotal.Add(1)
		slog.Error("Delivery failed", "item_id", n.Item.ID, "source", n.Source.Name, "error", err)
		if s.logs != nil {
			s.logs.AppendLog("error", fmt.Sprintf("delivery failed for item %d: %v", n.Item.ID, err), n.Source.Name)
		}
	}
	return true
}

func (s *Sender) deliver(ctx context.Context, n Notification) error {
	if n.Kind == KindNewItem {
		// Second idempotency gate: the item may have been delivered by an
		// overlapping query between detection and now.
		delivered, err := s.deliveries.DeliveryExists(n.Item.ID)
		if err != nil {
			return fmt.Errorf("failed to re-check delivery ledger: %w", err)
		}
		if delivered {
			// An overlapping query already sent it; the bookkeeping still
			// moves so the next cycle skips the item outright.
			s.advanceMark(n)
			return nil
		}
	}

	if err := s.pace.Wait(ctx); err != nil {
		return err
	}

	if err := s.sink.Send(ctx, n); err != nil {
		return err
	}

	switch n.Kind {
	case KindNewItem:
		err := s.deliveries.RecordDelivery(database.DeliveryRecord{
			ItemID:   n.Item.ID,
			SourceID: n.Source.ID,
			Title:    n.Item.Title,
			Price:    n.Item.Price,
			Currency: n.Item.Currency,
		})
		if err != nil {
			// The notification went out; losing the record means one
			// possible duplicate later, which the idempotent insert absorbs.
			slog.Error("Failed to record delivery", "item_id", n.Item.ID, "error", err)
		}
		s.metrics.ItemsSentTotal.Add(1)
		if err := s.sources.IncrementItemsFound(n.Source.ID); err != nil {
			slog.Error("Failed to bump source counter", "source_id", n.Source.ID, "error", err)
		}
	case KindPriceDrop:
		s.metrics.PriceDropsTotal.Add(1)
	}

	s.advanceMark(n)

	slog.Info("Notification delivered",
		"item_id", n.Item.ID,
		"title", n.Item.Title,
		"price", fmt.Sprintf("%.2f %s", n.Item.Price, n.Item.Currency),
		"source", n.Source.Name,
		"kind", kindLabel(n.Kind))
	return nil
}

func (s *Sender) advanceMark(n Notification) {
	if n.URLID == 0 {
		return
	}
	if err := s.sources.AdvanceHighWaterMark(n.URLID, n.Item.CreatedAt); err != nil {
		slog.Error("Failed to advance high-water mark", "url_id", n.URLID, "error", err)
	}
}

func kindLabel(k Kind) string {
	if k == KindPriceDrop {
		return "price_drop"
	}
	return "new_item"
}
