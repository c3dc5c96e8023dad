package economy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const maxActivationAttempts = 3

type TokenGrant struct {
	Quantity        int   `json:"quantity"`
	DurationMinutes int64 `json:"duration_minutes"`
	Multiplier      int64 `json:"multiplier"`
	CoinsPerTick    int64 `json:"coins_per_tick"`
	LivesPerTick    int64 `json:"lives_per_tick"`
}

type Booster struct {
	Code    string     `json:"code"`
	Coins   int64      `json:"coins"`
	Lives   int64      `json:"lives"`
	Premium bool       `json:"premium"`
	Tokens  TokenGrant `json:"tokens"`
}

type Catalog map[string]Booster

func DefaultCatalog() Catalog {
	return Catalog{
		"coins_300":  {Code: "coins_300", Coins: 300},
		"coins_1500": {Code: "coins_1500", Coins: 1500},
		"lives_5":    {Code: "lives_5", Lives: 5},
		"speed_x2": {Code: "speed_x2", Tokens: TokenGrant{
			Quantity: 1, DurationMinutes: 15, Multiplier: 2, CoinsPerTick: 5,
		}},
		"speed_x4_pack": {Code: "speed_x4_pack", Tokens: TokenGrant{
			Quantity: 3, DurationMinutes: 10, Multiplier: 4, CoinsPerTick: 5,
		}},
		"premium": {Code: "premium", Coins: 500, Lives: 5, Premium: true},
	}
}

func (c Catalog) Lookup(code string) (Booster, error) {
	b, ok := c[strings.TrimSpace(code)]
	if !ok {
		return Booster{}, fmt.Errorf("%w: %q", ErrUnknownBooster, code)
	}
	return b, nil
}

func newTokens(userID string, g TokenGrant, source Source, grantKey string, now time.Time) []SpeedToken {
	if g.Quantity <= 0 || g.DurationMinutes <= 0 {
		return nil
	}
	multiplier := g.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	out := make([]SpeedToken, 0, g.Quantity)
	for i := 0; i < g.Quantity; i++ {
		out = append(out, SpeedToken{
			ID:              uuid.NewString(),
			UserID:          userID,
			DurationMinutes: g.DurationMinutes,
			Multiplier:      multiplier,
			CoinsPerTick:    g.CoinsPerTick,
			LivesPerTick:    g.LivesPerTick,
			Source:          source,
			GrantKey:        grantKey,
			CreatedAt:       now,
		})
	}
	return out
}

// ConfirmPurchase is called once the payment provider reports success.
// The transaction id makes redelivered webhooks harmless.
func (s *Service) ConfirmPurchase(ctx context.Context, in PurchaseConfirmation) (PurchaseResult, error) {
	var out PurchaseResult
	in.TransactionID = strings.TrimSpace(in.TransactionID)
	if in.TransactionID == "" {
		return out, fmt.Errorf("%w: transaction id is required", ErrInvalidIdempotencyKey)
	}
	booster, err := s.cfg.Catalog.Lookup(in.BoosterCode)
	if err != nil {
		return out, err
	}
	key := PurchaseKey(in.TransactionID)
	tokens := newTokens(in.UserID, booster.Tokens, SourcePurchase, key, s.Now())

	res, err := s.Credit(ctx, CreditRequest{
		UserID:         in.UserID,
		DeltaCoins:     booster.Coins,
		DeltaLives:     booster.Lives,
		Source:         SourcePurchase,
		IdempotencyKey: key,
		Metadata:       PurchaseMeta{TransactionID: in.TransactionID, BoosterCode: booster.Code, TokensGranted: len(tokens)},
		Effects: Effects{
			MarkPremiumPending: booster.Premium,
			GrantTokens:        tokens,
		},
	})
	if err != nil {
		return out, err
	}
	out.CreditResult = res
	out.BoosterCode = booster.Code
	out.PremiumPending = booster.Premium
	if res.Applied {
		out.Tokens = tokens
		s.log.Info("purchase credited", "user_id", in.UserID, "booster", booster.Code, "transaction_id", in.TransactionID)
	}
	return out, nil
}

// ActivatePremium converts a pending premium purchase into speed tokens.
// The activation is keyed by the purchase's ledger entry so every purchase
// activates at most once.
func (s *Service) ActivatePremium(ctx context.Context, userID string) (ActivationResult, error) {
	for attempt := 0; attempt < maxActivationAttempts; attempt++ {
		out, err := s.activatePremium(ctx, userID)
		if errors.Is(err, errStalePremium) {
			continue
		}
		return out, err
	}
	return ActivationResult{}, fmt.Errorf("premium activation for %s: %w", userID, ErrTxConflict)
}

func (s *Service) activatePremium(ctx context.Context, userID string) (ActivationResult, error) {
	var out ActivationResult
	w, err := s.store.Wallet(ctx, userID)
	if err != nil {
		return out, err
	}
	if !w.HasPendingPremiumBooster || w.PremiumPurchaseEntryID == 0 {
		return out, ErrNoPendingPremium
	}
	key := PremiumActivationKey(userID, w.PremiumPurchaseEntryID)
	tokens := newTokens(userID, s.cfg.PremiumReward, SourcePurchase, key, s.Now())

	res, err := s.Credit(ctx, CreditRequest{
		UserID:         userID,
		Source:         SourcePurchase,
		IdempotencyKey: key,
		Metadata:       PurchaseMeta{BoosterCode: "premium", Activation: true, TokensGranted: len(tokens)},
		Effects: Effects{
			ConsumePremiumPending:  true,
			PremiumPurchaseEntryID: w.PremiumPurchaseEntryID,
			GrantTokens:            tokens,
		},
	})
	if err != nil {
		return out, err
	}
	out.CreditResult = res
	if !res.Applied {
		// a concurrent activation of the same purchase won; a flag still
		// pending on that purchase means it can never be cleared
		cur, err := s.store.Wallet(ctx, userID)
		if err != nil {
			return out, err
		}
		if cur.HasPendingPremiumBooster && cur.PremiumPurchaseEntryID == w.PremiumPurchaseEntryID {
			return out, fmt.Errorf("premium activation %s recorded but purchase still pending", key)
		}
		return out, nil
	}
	out.Tokens = tokens
	s.log.Info("premium booster activated", "user_id", userID, "tokens", len(tokens))
	return out, nil
}
