package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Window is an in-process sliding window limiter. It backs admin credit
// limits when no Redis is configured.
type Window struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

func NewWindow(limit int, window time.Duration) *Window {
	w := &Window{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
		stopCh:   make(chan struct{}),
	}
	go w.cleanup()
	return w
}

func (w *Window) Close() {
	w.stopOnce.Do(func() { close(w.stopCh) })
}

func (w *Window) Allow(_ context.Context, key string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	recent := w.recent(key, now)
	if len(recent) >= w.limit {
		w.requests[key] = recent
		return false, nil
	}
	w.requests[key] = append(recent, now)
	return true, nil
}

func (w *Window) recent(key string, now time.Time) []time.Time {
	cutoff := now.Add(-w.window)
	var out []time.Time
	for _, t := range w.requests[key] {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

func (w *Window) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.mu.Lock()
			now := w.now()
			for key := range w.requests {
				if recent := w.recent(key, now); len(recent) == 0 {
					delete(w.requests, key)
				} else {
					w.requests[key] = recent
				}
			}
			w.mu.Unlock()
		}
	}
}
