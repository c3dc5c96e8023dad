package economy

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newRegenService(t *testing.T, interval time.Duration) (*Service, *MemoryStore) {
	t.Helper()
	svc, store, _ := newTestService(t)
	svc.cfg.RegenInterval = interval
	return svc, store
}

func TestRegenerateKeepsLeftoverTime(t *testing.T) {
	svc, store := newRegenService(t, 300*time.Second)
	seedWallet(store, "u1", 0, 0, 5)

	w, err := svc.Regenerate(context.Background(), "u1", testNow.Add(1450*time.Second))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if w.Lives != 4 {
		t.Fatalf("lives got=%d want=4", w.Lives)
	}
	if want := testNow.Add(1200 * time.Second); !w.LastLifeRegenAt.Equal(want) {
		t.Fatalf("timestamp got=%s want=%s", w.LastLifeRegenAt, want)
	}
	if n := countKey(store, RegenKey("u1", testNow.Add(1200*time.Second))); n != 1 {
		t.Fatalf("expected one regen entry, got %d", n)
	}
}

func TestRegenerateFullWalletDoesNotAdvance(t *testing.T) {
	svc, store := newRegenService(t, 300*time.Second)
	seedWallet(store, "u1", 0, 5, 5)

	w, err := svc.Regenerate(context.Background(), "u1", testNow.Add(time.Hour))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if !w.LastLifeRegenAt.Equal(testNow) {
		t.Fatalf("full wallet timestamp moved to %s", w.LastLifeRegenAt)
	}
	if len(store.Entries()) != 0 {
		t.Fatalf("full wallet must not be credited")
	}
}

func TestRegenerateConcurrentReaders(t *testing.T) {
	svc, store := newRegenService(t, 300*time.Second)
	seedWallet(store, "u1", 0, 0, 5)
	now := testNow.Add(1450 * time.Second)

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Regenerate(context.Background(), "u1", now); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("regenerate: %v", err)
	}
	if w := mustWallet(t, store, "u1"); w.Lives != 4 {
		t.Fatalf("lives got=%d want=4", w.Lives)
	}
	if n := len(store.Entries()); n != 1 {
		t.Fatalf("expected exactly one regen entry, got %d", n)
	}
}

func TestRegeneratePremiumInterval(t *testing.T) {
	svc, store := newRegenService(t, 20*time.Minute)
	svc.cfg.PremiumRegenInterval = 10 * time.Minute
	seedWallet(store, "u1", 0, 0, 10)
	w := mustWallet(t, store, "u1")
	w.SubscriptionTier = TierPremium
	store.PutWallet(w)

	got, err := svc.Regenerate(context.Background(), "u1", testNow.Add(35*time.Minute))
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if got.Lives != 3 {
		t.Fatalf("premium lives got=%d want=3", got.Lives)
	}
}
