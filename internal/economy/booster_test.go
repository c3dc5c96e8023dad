package economy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"
)

func TestConfirmPurchaseExample(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	if _, _, err := svc.EnsureWallet(ctx, "u1", TierFree); err != nil {
		t.Fatalf("ensure wallet: %v", err)
	}

	in := PurchaseConfirmation{UserID: "u1", BoosterCode: "coins_300", TransactionID: "abc123"}
	first, err := svc.ConfirmPurchase(ctx, in)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if !first.Applied || first.Coins != 400 {
		t.Fatalf("unexpected first purchase %+v", first)
	}
	replay, err := svc.ConfirmPurchase(ctx, in)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if replay.Applied || replay.Coins != 400 {
		t.Fatalf("replay must not credit again, got %+v", replay)
	}
	if n := countKey(store, "purchase:abc123"); n != 1 {
		t.Fatalf("expected one purchase entry, got %d", n)
	}
}

func TestConfirmPurchaseValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "nope", TransactionID: "t1"}); !errors.Is(err, ErrUnknownBooster) {
		t.Fatalf("expected unknown booster, got %v", err)
	}
	if _, err := svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "coins_300"}); !errors.Is(err, ErrInvalidIdempotencyKey) {
		t.Fatalf("expected missing transaction id to fail, got %v", err)
	}
}

func TestTokenBoosterGrantsTokensOnce(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	svc.EnsureWallet(ctx, "u1", TierFree)

	in := PurchaseConfirmation{UserID: "u1", BoosterCode: "speed_x4_pack", TransactionID: "tx-9"}
	res, err := svc.ConfirmPurchase(ctx, in)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if len(res.Tokens) != 3 {
		t.Fatalf("expected 3 tokens, got %d", len(res.Tokens))
	}
	if _, err := svc.ConfirmPurchase(ctx, in); err != nil {
		t.Fatalf("replay: %v", err)
	}
	tokens, _ := store.SpeedTokens(ctx, "u1")
	if len(tokens) != 3 {
		t.Fatalf("replay must not grant more tokens, have %d", len(tokens))
	}
	for _, tok := range tokens {
		if !tok.Pending() || tok.Multiplier != 4 || tok.GrantKey != "purchase:tx-9" {
			t.Fatalf("unexpected token %+v", tok)
		}
	}
}

func TestPremiumActivationLifecycle(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	svc.EnsureWallet(ctx, "u1", TierFree)

	if _, err := svc.ActivatePremium(ctx, "u1"); !errors.Is(err, ErrNoPendingPremium) {
		t.Fatalf("expected no pending premium, got %v", err)
	}
	if _, err := svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "premium", TransactionID: "p1"}); err != nil {
		t.Fatalf("confirm premium: %v", err)
	}
	w := mustWallet(t, store, "u1")
	if !w.HasPendingPremiumBooster || w.LastPremiumPurchaseAt == nil {
		t.Fatalf("premium purchase must set pending state: %+v", w)
	}

	res, err := svc.ActivatePremium(ctx, "u1")
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if !res.Applied || len(res.Tokens) != svc.cfg.PremiumReward.Quantity {
		t.Fatalf("unexpected activation %+v", res)
	}
	if w := mustWallet(t, store, "u1"); w.HasPendingPremiumBooster {
		t.Fatalf("pending flag must be cleared")
	}
	if _, err := svc.ActivatePremium(ctx, "u1"); !errors.Is(err, ErrNoPendingPremium) {
		t.Fatalf("second activation must fail, got %v", err)
	}
	tokens, _ := store.SpeedTokens(ctx, "u1")
	if len(tokens) != svc.cfg.PremiumReward.Quantity {
		t.Fatalf("tokens got=%d", len(tokens))
	}
}

func TestRepeatPremiumPurchasesActivateEach(t *testing.T) {
	svc, store, clock := newTestService(t)
	ctx := context.Background()
	svc.EnsureWallet(ctx, "u1", TierFree)
	quantity := svc.cfg.PremiumReward.Quantity

	for i, at := range []time.Time{testNow.Add(100 * time.Millisecond), testNow.Add(700 * time.Millisecond)} {
		clock.Set(at)
		tx := fmt.Sprintf("p%d", i+1)
		if _, err := svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "premium", TransactionID: tx}); err != nil {
			t.Fatalf("confirm %s: %v", tx, err)
		}
		res, err := svc.ActivatePremium(ctx, "u1")
		if err != nil {
			t.Fatalf("activate after %s: %v", tx, err)
		}
		if !res.Applied || len(res.Tokens) != quantity {
			t.Fatalf("activation after %s: applied=%v tokens=%d", tx, res.Applied, len(res.Tokens))
		}
		if w := mustWallet(t, store, "u1"); w.HasPendingPremiumBooster {
			t.Fatalf("pending flag left set after %s", tx)
		}
	}
	if tokens, _ := store.SpeedTokens(ctx, "u1"); len(tokens) != 2*quantity {
		t.Fatalf("tokens got=%d want %d", len(tokens), 2*quantity)
	}
}

func TestPremiumActivationSameInstantPurchases(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	svc.EnsureWallet(ctx, "u1", TierFree)

	svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "premium", TransactionID: "p1"})
	first, err := svc.ActivatePremium(ctx, "u1")
	if err != nil || !first.Applied {
		t.Fatalf("first activation: %+v err=%v", first, err)
	}
	svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "premium", TransactionID: "p2"})
	second, err := svc.ActivatePremium(ctx, "u1")
	if err != nil || !second.Applied {
		t.Fatalf("second activation at the same instant: %+v err=%v", second, err)
	}
	if first.EntryID == second.EntryID {
		t.Fatalf("activations share ledger entry %d", first.EntryID)
	}
	if w := mustWallet(t, store, "u1"); w.HasPendingPremiumBooster {
		t.Fatalf("pending flag left set")
	}
}

func TestPremiumActivationFailureKeepsPending(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	svc.EnsureWallet(ctx, "u1", TierFree)
	svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "premium", TransactionID: "p1"})

	store.FailCredit = func(req CreditRequest) error {
		if strings.HasPrefix(req.IdempotencyKey, "premium_activation:") {
			return errors.New("deadline exceeded")
		}
		return nil
	}
	if _, err := svc.ActivatePremium(ctx, "u1"); err == nil {
		t.Fatalf("expected activation to fail")
	}
	if w := mustWallet(t, store, "u1"); !w.HasPendingPremiumBooster {
		t.Fatalf("failed activation must keep pending flag")
	}
	if tokens, _ := store.SpeedTokens(ctx, "u1"); len(tokens) != 0 {
		t.Fatalf("failed activation must not create tokens, got %d", len(tokens))
	}

	store.FailCredit = nil
	if _, err := svc.ActivatePremium(ctx, "u1"); err != nil {
		t.Fatalf("retry activation: %v", err)
	}
}

func TestConsumeToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	svc.EnsureWallet(ctx, "u1", TierFree)
	svc.EnsureWallet(ctx, "u2", TierFree)
	res, err := svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "speed_x2", TransactionID: "s1"})
	if err != nil || len(res.Tokens) != 1 {
		t.Fatalf("confirm: %v tokens=%d", err, len(res.Tokens))
	}
	id := res.Tokens[0].ID

	if _, err := svc.ConsumeToken(ctx, "u2", id, testNow); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("foreign token must not be found, got %v", err)
	}
	if _, err := svc.ConsumeToken(ctx, "u1", "not-a-uuid", testNow); !errors.Is(err, ErrTokenNotFound) {
		t.Fatalf("malformed id must not be found, got %v", err)
	}

	tok, err := svc.ConsumeToken(ctx, "u1", id, testNow)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if tok.UsedAt == nil || !tok.ExpiresAt.Equal(testNow.Add(15*time.Minute)) {
		t.Fatalf("unexpected token %+v", tok)
	}
	w := mustWallet(t, store, "u1")
	if !w.SpeedBoosterActive || w.SpeedBoosterMultiplier != 2 || !w.SpeedBoosterActivatedAt.Equal(testNow) || w.SpeedTickLastProcessedAt != nil {
		t.Fatalf("unexpected booster state %+v", w)
	}
	if _, err := svc.ConsumeToken(ctx, "u1", id, testNow); !errors.Is(err, ErrTokenAlreadyUsed) {
		t.Fatalf("expected already used, got %v", err)
	}
}

func TestConsumeTokenLatestExpiryWins(t *testing.T) {
	svc, store, _ := newTestService(t)
	ctx := context.Background()
	svc.EnsureWallet(ctx, "u1", TierFree)
	long, _ := svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "speed_x2", TransactionID: "long"})
	short, _ := svc.ConfirmPurchase(ctx, PurchaseConfirmation{UserID: "u1", BoosterCode: "speed_x4_pack", TransactionID: "short"})

	if _, err := svc.ConsumeToken(ctx, "u1", long.Tokens[0].ID, testNow); err != nil {
		t.Fatalf("consume long: %v", err)
	}
	if _, err := svc.ConsumeToken(ctx, "u1", short.Tokens[0].ID, testNow.Add(time.Minute)); err != nil {
		t.Fatalf("consume short: %v", err)
	}
	w := mustWallet(t, store, "u1")
	if !w.SpeedBoosterExpiresAt.Equal(testNow.Add(15*time.Minute)) || w.SpeedBoosterMultiplier != 2 {
		t.Fatalf("shorter token must not shorten the booster: %+v", w)
	}

	later := testNow.Add(10 * time.Minute)
	if _, err := svc.ConsumeToken(ctx, "u1", short.Tokens[1].ID, later); err != nil {
		t.Fatalf("consume later: %v", err)
	}
	w = mustWallet(t, store, "u1")
	if !w.SpeedBoosterExpiresAt.Equal(later.Add(10*time.Minute)) || w.SpeedBoosterMultiplier != 4 {
		t.Fatalf("later expiry must win: %+v", w)
	}
	if !w.SpeedBoosterActivatedAt.Equal(testNow) {
		t.Fatalf("extending an active booster keeps its activation time, got %s", w.SpeedBoosterActivatedAt)
	}
}
