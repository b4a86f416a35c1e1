package detector

import (
	"testing"
	"time"

	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/fetcher"
)

type fakeDeliveries map[int64]bool

func (f fakeDeliveries) DeliveryExists(itemID int64) (bool, error) { return f[itemID], nil }
func (f fakeDeliveries) RecordDelivery(rec database.DeliveryRecord) error {
	f[rec.ItemID] = true
	return nil
}
func (f fakeDeliveries) GetDeliveryCount() (int, error) { return len(f), nil }

type fakePrices map[string]database.PriceTrack

func (f fakePrices) GetPriceTrack(fp string) (*database.PriceTrack, error) {
	if t, ok := f[fp]; ok {
		return &t, nil
	}
	return nil, nil
}
func (f fakePrices) UpsertPriceTrack(t database.PriceTrack) error {
	if existing, ok := f[t.Fingerprint]; ok {
		t.FirstPrice = existing.FirstPrice
	}
	f[t.Fingerprint] = t
	return nil
}

type fakeSettings map[string]int

func (s fakeSettings) GetConfigInt(key string, fallback int) int {
	if v, ok := s[key]; ok {
		return v
	}
	return fallback
}

func newTestDetector(deliveries fakeDeliveries, prices fakePrices) *Detector {
	d := New(deliveries, prices, fakeSettings{"new_item_window": 30})
	d.now = func() time.Time { return time.Unix(1700000000, 0) }
	return d
}

func freshItem(id int64, price float64) fetcher.Item {
	return fetcher.Item{
		ID:        id,
		Title:     "Dunk Low Panda",
		Brand:     "Nike",
		Size:      "42",
		Price:     price,
		Currency:  "PLN",
		CreatedAt: 1700000000 - 60,
	}
}

func TestProcess_NewItemIsQueued(t *testing.T) {
	d := newTestDetector(fakeDeliveries{}, fakePrices{})

	res, err := d.Process(freshItem(1, 100), 0)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Action != ActionNotify {
		t.Errorf("Action = %v, want ActionNotify", res.Action)
	}
	if !res.AdvanceHWM {
		t.Error("New item should advance the high-water mark")
	}
}

func TestProcess_StaleItemIsSkipped(t *testing.T) {
	d := newTestDetector(fakeDeliveries{}, fakePrices{})

	item := freshItem(1, 100)
	item.CreatedAt = 1700000000 - 31*60

	res, err := d.Process(item, 0)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Action != ActionSkip || res.AdvanceHWM {
		t.Errorf("Stale item should be skipped entirely, got %+v", res)
	}
}

func TestProcess_HighWaterMarkCutsOff(t *testing.T) {
	d := newTestDetector(fakeDeliveries{}, fakePrices{})

	item := freshItem(1, 100)
	res, err := d.Process(item, item.CreatedAt)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Action != ActionSkip {
		t.Errorf("Item at the mark should be skipped, got %+v", res)
	}
}

func TestProcess_RecencyGuardBlocksSameCycleDuplicate(t *testing.T) {
	d := newTestDetector(fakeDeliveries{}, fakePrices{})

	res, _ := d.Process(freshItem(1, 100), 0)
	if res.Action != ActionNotify {
		t.Fatalf("First sighting should notify, got %+v", res)
	}
	d.MarkQueued(1)

	res, _ = d.Process(freshItem(1, 100), 0)
	if res.Action != ActionSkip {
		t.Errorf("Queued item seen again in the cycle should be skipped, got %+v", res)
	}
	if !res.AdvanceHWM {
		t.Error("Duplicate still advances the high-water mark")
	}
}

func TestProcess_DeliveredItemSeedsPriceTrack(t *testing.T) {
	prices := fakePrices{}
	d := newTestDetector(fakeDeliveries{1: true}, prices)

	res, err := d.Process(freshItem(1, 200), 0)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Action != ActionSkip {
		t.Errorf("Seeding a track must not alert, got %+v", res)
	}

	fp := Fingerprint("Dunk Low Panda", "Nike", "42")
	track, _ := prices.GetPriceTrack(fp)
	if track == nil || track.FirstPrice != 200 || track.LowestPrice != 200 {
		t.Errorf("Track not seeded: %+v", track)
	}
}

func TestProcess_PriceDropAlertsOncePerTransition(t *testing.T) {
	prices := fakePrices{}
	d := newTestDetector(fakeDeliveries{1: true, 2: true, 3: true}, prices)

	if _, err := d.Process(freshItem(1, 200), 0); err != nil {
		t.Fatal(err)
	}

	// Relisting at a lower price alerts with the delta.
	res, err := d.Process(freshItem(2, 150), 0)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if res.Action != ActionPriceDrop || res.Drop == nil {
		t.Fatalf("Expected a price drop, got %+v", res)
	}
	if res.Drop.OldPrice != 200 || res.Drop.NewPrice != 150 || res.Drop.Amount != 50 {
		t.Errorf("Drop delta wrong: %+v", res.Drop)
	}

	// The same price seen again must not alert a second time.
	res, _ = d.Process(freshItem(3, 150), 0)
	if res.Action == ActionPriceDrop {
		t.Error("Unchanged price re-alerted")
	}

	fp := Fingerprint("Dunk Low Panda", "Nike", "42")
	track, _ := prices.GetPriceTrack(fp)
	if track.Drops != 1 || track.LowestPrice != 150 || track.FirstPrice != 200 {
		t.Errorf("Track state wrong after drop: %+v", track)
	}
}

func TestProcess_PriceIncreaseUpdatesWithoutAlert(t *testing.T) {
	prices := fakePrices{}
	d := newTestDetector(fakeDeliveries{1: true, 2: true}, prices)

	if _, err := d.Process(freshItem(1, 100), 0); err != nil {
		t.Fatal(err)
	}
	res, _ := d.Process(freshItem(2, 130), 0)
	if res.Action == ActionPriceDrop {
		t.Error("Price increase alerted")
	}

	fp := Fingerprint("Dunk Low Panda", "Nike", "42")
	track, _ := prices.GetPriceTrack(fp)
	if track.LastPrice != 130 || track.LowestPrice != 100 {
		t.Errorf("Increase should move last price only: %+v", track)
	}
}

func TestFingerprint_NormalizesIdentity(t *testing.T) {
	a := Fingerprint("Kurtka Zimowa", "Żabka", "M")
	b := Fingerprint("  kurtka   ZIMOWA ", "Zabka", "m")
	if a != b {
		t.Error("Case, diacritics and whitespace should not change the fingerprint")
	}

	if Fingerprint("Kurtka Zimowa", "Żabka", "L") == a {
		t.Error("Size must differentiate fingerprints")
	}
}

func TestRecentRing_EvictsOldest(t *testing.T) {
	r := newRecentRing(3)
	for id := int64(1); id <= 4; id++ {
		r.Add(id)
	}

	if r.Contains(1) {
		t.Error("Oldest id should have been displaced")
	}
	for id := int64(2); id <= 4; id++ {
		if !r.Contains(id) {
			t.Errorf("id %d should still be present", id)
		}
	}
}
