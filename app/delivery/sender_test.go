package delivery

import (
	"context"
	"errors"
	"testing"

	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/detector"
	"github.com/kmilewski/dealwatch/app/metrics"
)

type fakeDeliveries map[int64]bool

func (f fakeDeliveries) DeliveryExists(itemID int64) (bool, error) { return f[itemID], nil }
func (f fakeDeliveries) RecordDelivery(rec database.DeliveryRecord) error {
	f[rec.ItemID] = true
	return nil
}
func (f fakeDeliveries) GetDeliveryCount() (int, error) { return len(f), nil }

type fakeSources struct {
	itemsFound map[int64]int
	marks      map[int64]int64
}

func newFakeSources() *fakeSources {
	return &fakeSources{itemsFound: map[int64]int{}, marks: map[int64]int64{}}
}

func (f *fakeSources) GetActiveSources() ([]database.Source, error) { return nil, nil }
func (f *fakeSources) GetAllSources() ([]database.Source, error)    { return nil, nil }
func (f *fakeSources) ToggleSource(id int64) (bool, error)          { return false, nil }
func (f *fakeSources) IncrementItemsFound(sourceID int64) error {
	f.itemsFound[sourceID]++
	return nil
}
func (f *fakeSources) AdvanceHighWaterMark(urlID int64, ts int64) error {
	if ts > f.marks[urlID] {
		f.marks[urlID] = ts
	}
	return nil
}
func (f *fakeSources) GetSourceCount() (int, error) { return 0, nil }

type fakeSink struct {
	sent []Notification
	err  error
}

func (f *fakeSink) Send(ctx context.Context, n Notification) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, n)
	return nil
}

func newTestSender(q *Queue, sink Sink, deliveries fakeDeliveries, sources *fakeSources) (*Sender, *metrics.Metrics) {
	m := metrics.New()
	return NewSender(q, sink, deliveries, sources, nil, m), m
}

func queuedItem(id int64, kind Kind) Notification {
	n := Notification{Kind: kind, URLID: 7}
	n.Item.ID = id
	n.Item.CreatedAt = 1700000000
	n.Source = database.Source{ID: 3, Name: "dunks"}
	if kind == KindPriceDrop {
		n.Drop = &detector.PriceDrop{OldPrice: 150, NewPrice: 100, Amount: 50}
	}
	return n
}

func TestSender_DeliversAndRecords(t *testing.T) {
	q := NewQueue(10)
	sink := &fakeSink{}
	deliveries := fakeDeliveries{}
	sources := newFakeSources()
	s, m := newTestSender(q, sink, deliveries, sources)

	q.Put(context.Background(), queuedItem(1, KindNewItem))

	if !s.ProcessNext(context.Background()) {
		t.Fatal("ProcessNext should report work done")
	}
	if len(sink.sent) != 1 {
		t.Fatalf("Expected 1 send, got %d", len(sink.sent))
	}
	if !deliveries[1] {
		t.Error("Delivery record missing after successful send")
	}
	if sources.itemsFound[3] != 1 {
		t.Error("Source counter not incremented")
	}
	if sources.marks[7] != 1700000000 {
		t.Errorf("High-water mark not advanced, got %d", sources.marks[7])
	}
	if m.ItemsSentTotal.Load() != 1 {
		t.Error("ItemsSentTotal not incremented")
	}
}

func TestSender_SkipsAlreadyDelivered(t *testing.T) {
	q := NewQueue(10)
	sink := &fakeSink{}
	deliveries := fakeDeliveries{1: true}
	sources := newFakeSources()
	s, m := newTestSender(q, sink, deliveries, sources)

	q.Put(context.Background(), queuedItem(1, KindNewItem))

	if !s.ProcessNext(context.Background()) {
		t.Fatal("ProcessNext should still dequeue")
	}
	if len(sink.sent) != 0 {
		t.Error("Already delivered item must not be re-sent")
	}
	if m.ItemsSentTotal.Load() != 0 {
		t.Error("Skipped item counted as sent")
	}
	if sources.marks[7] != 1700000000 {
		t.Errorf("Skip must still advance the high-water mark, got %d", sources.marks[7])
	}
}

func TestSender_FailureWithholdsRecord(t *testing.T) {
	q := NewQueue(10)
	sink := &fakeSink{err: errors.New("sink down")}
	deliveries := fakeDeliveries{}
	sources := newFakeSources()
	s, m := newTestSender(q, sink, deliveries, sources)

	q.Put(context.Background(), queuedItem(1, KindNewItem))
	s.ProcessNext(context.Background())

	if deliveries[1] {
		t.Error("Failed send must not write a delivery record")
	}
	if sources.marks[7] != 0 {
		t.Error("Failed send must not advance the high-water mark")
	}
	if m.ErrorsTotal.Load() != 1 {
		t.Error("Failure should count as an error")
	}
}

func TestSender_PriceDropLeavesLedgerAlone(t *testing.T) {
	q := NewQueue(10)
	sink := &fakeSink{}
	deliveries := fakeDeliveries{1: true}
	sources := newFakeSources()
	s, m := newTestSender(q, sink, deliveries, sources)

	q.Put(context.Background(), queuedItem(1, KindPriceDrop))

	if !s.ProcessNext(context.Background()) {
		t.Fatal("ProcessNext should report work done")
	}
	if len(sink.sent) != 1 {
		t.Fatal("Price drop should be sent even though the item was delivered before")
	}
	if m.PriceDropsTotal.Load() != 1 {
		t.Error("PriceDropsTotal not incremented")
	}
	if m.ItemsSentTotal.Load() != 0 {
		t.Error("Drop must not count as a new item delivery")
	}
}

func TestSender_EmptyQueueIdles(t *testing.T) {
	q := NewQueue(10)
	s, _ := newTestSender(q, &fakeSink{}, fakeDeliveries{}, newFakeSources())

	if s.ProcessNext(context.Background()) {
		t.Error("ProcessNext on an empty queue should report no work")
	}
}
