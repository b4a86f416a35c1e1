package delivery

import (
	"context"
	"testing"
	"time"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue(10)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		n := Notification{}
		n.Item.ID = i
		if err := q.Put(ctx, n); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
	}
	if q.Len() != 3 {
		t.Errorf("Len() = %d, want 3", q.Len())
	}

	for i := int64(1); i <= 3; i++ {
		n, ok := q.TryGet()
		if !ok || n.Item.ID != i {
			t.Fatalf("TryGet() = %v %v, want item %d", n.Item.ID, ok, i)
		}
	}
	if _, ok := q.TryGet(); ok {
		t.Error("Empty queue should not yield")
	}
}

func TestQueue_PutBlocksWhenFull(t *testing.T) {
	q := NewQueue(1)
	ctx := context.Background()

	if err := q.Put(ctx, Notification{}); err != nil {
		t.Fatal(err)
	}

	blocked := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		blocked <- q.Put(ctx, Notification{})
	}()

	select {
	case err := <-blocked:
		if err == nil {
			t.Fatal("Put on a full queue should block until cancelled")
		}
	case <-time.After(time.Second):
		t.Fatal("Blocked Put never returned after cancellation")
	}

	// Draining frees the slot.
	q.TryGet()
	if err := q.Put(ctx, Notification{}); err != nil {
		t.Errorf("Put() after drain error = %v", err)
	}
}
