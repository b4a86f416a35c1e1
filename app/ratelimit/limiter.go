// Package ratelimit provides blocking sliding-window admission control
// keyed by a logical target (a host, or "global").
package ratelimit

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// Limiter admits at most capacity acquisitions per key over any sliding
// window. Each key tracks the monotonic timestamps of its recent
// admissions; an exhausted caller sleeps until the oldest admission leaves
// the window, plus a small random jitter so concurrent fetch tasks don't
// resume in lockstep.
type Limiter struct {
	capacity  int
	window    time.Duration
	jitterMin time.Duration
	jitterMax time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time
}

func New(capacity int, window time.Duration) *Limiter {
	return NewWithJitter(capacity, window, 500*time.Millisecond, 2500*time.Millisecond)
}

func NewWithJitter(capacity int, window time.Duration, jitterMin, jitterMax time.Duration) *Limiter {
	if capacity < 1 {
		capacity = 1
	}
	return &Limiter{
		capacity:  capacity,
		window:    window,
		jitterMin: jitterMin,
		jitterMax: jitterMax,
		buckets:   make(map[string][]time.Time),
	}
}

// Acquire blocks until a token is available for key or ctx is cancelled.
func (l *Limiter) Acquire(ctx context.Context, key string) error {
	for {
		ok, wait := l.tryAcquire(key)
		if ok {
			return nil
		}

		select {
		case <-time.After(wait + l.jitter()):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Allow reports whether a token is immediately available without blocking.
func (l *Limiter) Allow(key string) bool {
	ok, _ := l.tryAcquire(key)
	return ok
}

// tryAcquire is the single atomic critical section: pruning, the capacity
// check and the admission record happen under one lock.
func (l *Limiter) tryAcquire(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-l.window)

	stamps := l.buckets[key]
	for len(stamps) > 0 && stamps[0].Before(cutoff) {
		stamps = stamps[1:]
	}

	if len(stamps) >= l.capacity {
		l.buckets[key] = stamps
		return false, l.window - now.Sub(stamps[0])
	}

	l.buckets[key] = append(stamps, now)
	return true, 0
}

func (l *Limiter) jitter() time.Duration {
	if l.jitterMax <= l.jitterMin {
		return l.jitterMin
	}
	return l.jitterMin + time.Duration(rand.Int63n(int64(l.jitterMax-l.jitterMin)))
}
