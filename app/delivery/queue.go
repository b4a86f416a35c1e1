// Package delivery carries accepted items from the scan loop to the
// notification sink: a bounded queue, the paced sender and the Discord
// rendering.
package delivery

import (
	"context"

	"github.com/kmilewski/dealwatch/app/database"
	"github.com/kmilewski/dealwatch/app/detector"
	"github.com/kmilewski/dealwatch/app/fetcher"
)

const DefaultQueueCapacity = 200

type Kind int

const (
	KindNewItem Kind = iota
	KindPriceDrop
)

// Notification is one queued delivery: the item, where it came from and,
// for drops, the detected price transition.
type Notification struct {
	Kind   Kind
	Item   fetcher.Item
	Source database.Source
	URLID  int64
	Drop   *detector.PriceDrop
}

// Queue is the bounded handoff between the scan loop and the sender. Put
// blocks when the queue is full, which stalls scanning rather than dropping
// finds.
type Queue struct {
	ch chan Notification
}

func NewQueue(capacity int) *Queue {
	if capacity < 1 {
		capacity = DefaultQueueCapacity
	}
	return &Queue{ch: make(chan Notification, capacity)}
}

// Put enqueues n, blocking until there is room or ctx is cancelled.
func (q *Queue) Put(ctx context.Context, n Notification) error {
	select {
	case q.ch <- n:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryGet dequeues the next notification without blocking.
func (q *Queue) TryGet() (Notification, bool) {
	select {
	case n := <-q.ch:
		return n, true
	default:
		return Notification{}, false
	}
}

func (q *Queue) Len() int {
	return len(q.ch)
}
