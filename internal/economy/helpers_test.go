package economy

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

var testNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts ...Option) (*Service, *MemoryStore, *testClock) {
	t.Helper()
	store := NewMemoryStore()
	clock := &testClock{now: testNow}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewService(store, logger, DefaultSettings(), opts...), store, clock
}

func mustWallet(t *testing.T, store *MemoryStore, userID string) Wallet {
	t.Helper()
	w, err := store.Wallet(context.Background(), userID)
	if err != nil {
		t.Fatalf("wallet %s: %v", userID, err)
	}
	return w
}

func countKey(store *MemoryStore, key string) int {
	n := 0
	for _, e := range store.Entries() {
		if e.IdempotencyKey == key {
			n++
		}
	}
	return n
}
