// Package rate bounds how often an action keyed by name may run within a
// fixed window. The watch command uses it to cap reconnects per thread.
package rate

import (
	"context"
	"sync"
	"time"
)

type Limiter interface {
	Allow(key string) (bool, time.Duration)
}

// Window allows up to limit actions per key in each window.
type Window struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	buckets map[string]*bucket
}

type bucket struct {
	count   int
	resetAt time.Time
}

func NewWindow(limit int, window time.Duration) *Window {
	if limit < 1 {
		limit = 1
	}
	return &Window{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow records an attempt for key. When the budget is spent it returns
// false and the time left until the window resets.
func (w *Window) Allow(key string) (bool, time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	b, ok := w.buckets[key]
	if !ok || !now.Before(b.resetAt) {
		b = &bucket{resetAt: now.Add(w.window)}
		w.buckets[key] = b
	}

	if b.count >= w.limit {
		return false, b.resetAt.Sub(now)
	}
	b.count++
	return true, b.resetAt.Sub(now)
}

// Reset forgets the attempts recorded for key, e.g. after a connection
// stayed healthy.
func (w *Window) Reset(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.buckets, key)
}

// Wait blocks until l allows key or ctx is done.
func Wait(ctx context.Context, l Limiter, key string) error {
	for {
		ok, retry := l.Allow(key)
		if ok {
			return nil
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
