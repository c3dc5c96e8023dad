package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Throttle hands out one token bucket per key.
type Throttle struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	now     func() time.Time
}

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

func NewThrottle(perSecond float64, burst int) *Throttle {
	return &Throttle{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idle:    10 * time.Minute,
		now:     time.Now,
	}
}

func (t *Throttle) Allow(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	b, ok := t.buckets[key]
	if !ok {
		if len(t.buckets) > 10_000 {
			t.evict(now)
		}
		b = &bucket{lim: rate.NewLimiter(t.limit, t.burst)}
		t.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim.AllowN(now, 1)
}

func (t *Throttle) evict(now time.Time) {
	for k, b := range t.buckets {
		if now.Sub(b.lastSeen) > t.idle {
			delete(t.buckets, k)
		}
	}
}
