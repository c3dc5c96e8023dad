package economy

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedBooster(store *MemoryStore, userID string, activatedAt time.Time, duration time.Duration) {
	seedWallet(store, userID, 0, 5, 5)
	w, _ := store.Wallet(context.Background(), userID)
	expires := activatedAt.Add(duration)
	w.SpeedBoosterActive = true
	w.SpeedBoosterMultiplier = 3
	w.SpeedBoosterActivatedAt = &activatedAt
	w.SpeedBoosterExpiresAt = &expires
	w.SpeedCoinsPerTick = 5
	store.PutWallet(w)
}

func TestSpeedTickCreditsEachDueTick(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedBooster(store, "u1", testNow, 30*time.Minute)
	now := testNow.Add(3*time.Minute + 10*time.Second)
	ctx := context.Background()

	report, err := svc.RunSpeedTick(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Credited != 3 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	w := mustWallet(t, store, "u1")
	if w.Coins != 45 {
		t.Fatalf("coins got=%d want=45", w.Coins)
	}
	if w.SpeedTickLastProcessedAt == nil || !w.SpeedTickLastProcessedAt.Equal(testNow.Add(3*time.Minute)) {
		t.Fatalf("tick marker got=%v", w.SpeedTickLastProcessedAt)
	}
	for n := 1; n <= 3; n++ {
		key := SpeedTickKey("u1", testNow.Add(time.Duration(n)*time.Minute))
		if countKey(store, key) != 1 {
			t.Fatalf("missing tick %s", key)
		}
	}

	again, err := svc.RunSpeedTick(ctx, now)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if again.Credited != 0 || again.Duplicates != 0 {
		t.Fatalf("second sweep should find nothing due, got %+v", again)
	}
	if w := mustWallet(t, store, "u1"); w.Coins != 45 {
		t.Fatalf("coins changed on rerun: %d", w.Coins)
	}
}

func TestSpeedTickExpiryWins(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedBooster(store, "u1", testNow, 30*time.Minute)

	report, err := svc.RunSpeedTick(context.Background(), testNow.Add(30*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Expired != 1 || report.Credited != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	w := mustWallet(t, store, "u1")
	if w.SpeedBoosterActive || w.SpeedBoosterMultiplier != 1 || w.SpeedBoosterExpiresAt != nil || w.SpeedCoinsPerTick != 0 {
		t.Fatalf("booster not cleared: %+v", w)
	}
	if w.Coins != 0 {
		t.Fatalf("expired booster must not credit, coins=%d", w.Coins)
	}
}

func TestSpeedTickPartialFailureAdvancesPrefix(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedBooster(store, "u1", testNow, 30*time.Minute)
	seedBooster(store, "u2", testNow, 30*time.Minute)
	failing := SpeedTickKey("u1", testNow.Add(2*time.Minute))
	store.FailCredit = func(req CreditRequest) error {
		if req.IdempotencyKey == failing {
			return errors.New("connection reset")
		}
		return nil
	}
	now := testNow.Add(3*time.Minute + 10*time.Second)
	ctx := context.Background()

	report, err := svc.RunSpeedTick(ctx, now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if report.Failed != 1 || report.Credited != 5 {
		t.Fatalf("unexpected report %+v", report)
	}
	w := mustWallet(t, store, "u1")
	if !w.SpeedTickLastProcessedAt.Equal(testNow.Add(time.Minute)) {
		t.Fatalf("marker must stop before the failed tick, got %s", w.SpeedTickLastProcessedAt)
	}
	if other := mustWallet(t, store, "u2"); other.Coins != 45 {
		t.Fatalf("other user affected by failure, coins=%d", other.Coins)
	}

	store.FailCredit = nil
	retry, err := svc.RunSpeedTick(ctx, now)
	if err != nil {
		t.Fatalf("retry sweep: %v", err)
	}
	if retry.Credited != 1 || retry.Duplicates != 1 {
		t.Fatalf("unexpected retry report %+v", retry)
	}
	w = mustWallet(t, store, "u1")
	if w.Coins != 45 || !w.SpeedTickLastProcessedAt.Equal(testNow.Add(3*time.Minute)) {
		t.Fatalf("after retry coins=%d marker=%s", w.Coins, w.SpeedTickLastProcessedAt)
	}
}

func TestSpeedTickStopsOnCancel(t *testing.T) {
	svc, store, _ := newTestService(t)
	seedBooster(store, "u1", testNow, 30*time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := svc.RunSpeedTick(ctx, testNow.Add(5*time.Minute))
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !report.Interrupted || report.Wallets != 0 {
		t.Fatalf("expected interrupted empty sweep, got %+v", report)
	}
}
