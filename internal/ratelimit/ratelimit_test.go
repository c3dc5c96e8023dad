package ratelimit

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func TestWindowAllow(t *testing.T) {
	w := NewWindow(2, time.Hour)
	defer w.Close()
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if ok, _ := w.Allow(ctx, "admin_credit:a1"); !ok {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if ok, _ := w.Allow(ctx, "admin_credit:a1"); ok {
		t.Fatalf("third request in window must be denied")
	}
	if ok, _ := w.Allow(ctx, "admin_credit:a2"); !ok {
		t.Fatalf("other keys have their own budget")
	}

	now = now.Add(time.Hour + time.Second)
	if ok, _ := w.Allow(ctx, "admin_credit:a1"); !ok {
		t.Fatalf("window should slide")
	}
}

func TestThrottle(t *testing.T) {
	th := NewThrottle(1, 2)
	now := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	th.now = func() time.Time { return now }

	if !th.Allow("u1") || !th.Allow("u1") {
		t.Fatalf("burst should be allowed")
	}
	if th.Allow("u1") {
		t.Fatalf("burst exhausted")
	}
	if !th.Allow("u2") {
		t.Fatalf("separate bucket per key")
	}
	now = now.Add(1100 * time.Millisecond)
	if !th.Allow("u1") {
		t.Fatalf("bucket should refill")
	}
}

func TestRedisAllow(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	r := NewRedis(client, 2, time.Hour)
	key := "test:" + uuid.NewString()
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		ok, err := r.Allow(ctx, key)
		if err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	if ok, _ := r.Allow(ctx, key); ok {
		t.Fatalf("third request must be denied")
	}
	client.Del(ctx, windowKey(key))
}

func TestRedisWindowSlides(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}

	r := NewRedis(client, 2, time.Hour)
	now := time.Date(2026, 3, 4, 10, 59, 59, 0, time.UTC)
	r.now = func() time.Time { return now }
	key := "test:" + uuid.NewString()
	defer client.Del(ctx, windowKey(key))

	for i := 0; i < 2; i++ {
		if ok, err := r.Allow(ctx, key); err != nil || !ok {
			t.Fatalf("request %d: ok=%v err=%v", i, ok, err)
		}
	}
	// crossing the clock hour must not reset the budget
	now = now.Add(2 * time.Second)
	if ok, _ := r.Allow(ctx, key); ok {
		t.Fatalf("request after the hour boundary must be denied")
	}
	if n := client.ZCard(ctx, windowKey(key)).Val(); n != 2 {
		t.Fatalf("denied request must not be counted, have %d", n)
	}
	if ttl := client.PTTL(ctx, windowKey(key)).Val(); ttl <= 0 {
		t.Fatalf("window key must expire, ttl=%s", ttl)
	}
	now = now.Add(time.Hour)
	if ok, err := r.Allow(ctx, key); err != nil || !ok {
		t.Fatalf("window should slide: ok=%v err=%v", ok, err)
	}
}
