// Package detector decides what happens to each fetched item: dropped as
// stale or duplicate, queued as a new find, or flagged as a price drop on a
// previously delivered article.
package detector

import (
	"fmt"
	"time"

	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/fetcher"
)

const recentRingSize = 500

type Action int

const (
	// ActionSkip drops the item without notification.
	ActionSkip Action = iota
	// ActionNotify queues a new-item notification.
	ActionNotify
	// ActionPriceDrop queues a price-drop notification for a delivered item.
	ActionPriceDrop
)

// PriceDrop describes one detected drop on a tracked article.
type PriceDrop struct {
	Fingerprint string
	OldPrice    float64
	NewPrice    float64
	Amount      float64
	Currency    string
}

// Result is the decision for one item. AdvanceHWM tells the caller whether
// the URL's high-water mark may move up to this item's timestamp.
type Result struct {
	Action     Action
	Drop       *PriceDrop
	AdvanceHWM bool
}

// Settings provides the freshness window knob.
type Settings interface {
	GetConfigInt(key string, fallback int) int
}

type Detector struct {
	deliveries database.DeliveryStore
	prices     database.PriceStore
	settings   Settings
	recent     *recentRing

	// now is swapped out in tests.
	now func() time.Time
}

func New(deliveries database.DeliveryStore, prices database.PriceStore, settings Settings) *Detector {
	return &Detector{
		deliveries: deliveries,
		prices:     prices,
		settings:   settings,
		recent:     newRecentRing(recentRingSize),
		now:        time.Now,
	}
}

// Process classifies one item against the URL's high-water mark.
func (d *Detector) Process(item fetcher.Item, highWaterMark int64) (Result, error) {
	window := time.Duration(d.settings.GetConfigInt("new_item_window", 30)) * time.Minute
	if item.CreatedAt < d.now().Add(-window).Unix() {
		return Result{}, nil
	}
	if item.CreatedAt <= highWaterMark {
		return Result{}, nil
	}

	delivered, err := d.deliveries.DeliveryExists(item.ID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check delivery ledger: %w", err)
	}

	if delivered {
		drop, err := d.trackPrice(item)
		if err != nil {
			return Result{}, err
		}
		if drop != nil {
			return Result{Action: ActionPriceDrop, Drop: drop, AdvanceHWM: true}, nil
		}
		return Result{AdvanceHWM: true}, nil
	}

	// Same-cycle duplicate from an overlapping query.
	if d.recent.Contains(item.ID) {
		return Result{AdvanceHWM: true}, nil
	}

	return Result{Action: ActionNotify, AdvanceHWM: true}, nil
}

// MarkQueued records the id in the recency ring. Called when the item is
// actually enqueued, so a failed Put never poisons the ring for the cycle.
func (d *Detector) MarkQueued(itemID int64) {
	d.recent.Add(itemID)
}

// trackPrice updates the article's price track and reports a drop when the
// current price undercuts the last observed one. Seeding a track never
// alerts; each lower price alerts exactly once because the track's last
// price moves down with the alert.
func (d *Detector) trackPrice(item fetcher.Item) (*PriceDrop, error) {
	fp := Fingerprint(item.Title, item.Brand, item.Size)

	track, err := d.prices.GetPriceTrack(fp)
	if err != nil {
		return nil, fmt.Errorf("failed to load price track: %w", err)
	}

	if track == nil {
		err := d.prices.UpsertPriceTrack(database.PriceTrack{
			Fingerprint: fp,
			Title:       item.Title,
			FirstPrice:  item.Price,
			LastPrice:   item.Price,
			LowestPrice: item.Price,
			Currency:    item.Currency,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to seed price track: %w", err)
		}
		return nil, nil
	}

	if item.Price >= track.LastPrice {
		if item.Price > track.LastPrice {
			track.LastPrice = item.Price
			if err := d.prices.UpsertPriceTrack(*track); err != nil {
				return nil, fmt.Errorf("failed to update price track: %w", err)
			}
		}
		return nil, nil
	}

	drop := &PriceDrop{
		Fingerprint: fp,
		OldPrice:    track.LastPrice,
		NewPrice:    item.Price,
		Amount:      track.LastPrice - item.Price,
		Currency:    item.Currency,
	}

	track.LastPrice = item.Price
	if item.Price < track.LowestPrice {
		track.LowestPrice = item.Price
	}
	track.Drops++
	if err := d.prices.UpsertPriceTrack(*track); err != nil {
		return nil, fmt.Errorf("failed to update price track: %w", err)
	}

	return drop, nil
}
