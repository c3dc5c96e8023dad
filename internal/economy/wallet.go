package economy

import (
	"context"
	"fmt"
	"strings"
	"time"
)

func (s *Service) EnsureWallet(ctx context.Context, userID string, tier Tier) (Wallet, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Wallet{}, false, ErrWalletNotFound
	}
	if tier == "" {
		tier = TierFree
	}
	if !tier.Valid() {
		return Wallet{}, false, fmt.Errorf("%w: tier %q", ErrInvalidAmount, tier)
	}
	now := s.Now()
	maxLives := s.maxLivesFor(tier)
	lives := s.cfg.StartingLives
	if lives > maxLives {
		lives = maxLives
	}
	w, created, err := s.store.CreateWallet(ctx, Wallet{
		UserID:              userID,
		Coins:               s.cfg.StartingCoins,
		Lives:               lives,
		MaxLives:            maxLives,
		SubscriptionTier:    tier,
		LastLifeRegenAt:     now,
		SpeedBoosterActive:  false,
		TickIntervalSeconds: int64(DefaultTickInterval / time.Second),
		CreatedAt:           now,
		UpdatedAt:           now,
	})
	if err != nil {
		return Wallet{}, false, err
	}
	if created {
		s.log.Info("wallet created", "user_id", userID, "tier", tier)
	}
	return w, created, nil
}

// View regenerates lives and returns what the client should display.
func (s *Service) View(ctx context.Context, userID string, now time.Time) (WalletView, error) {
	w, err := s.Regenerate(ctx, userID, now)
	if err != nil {
		return WalletView{}, err
	}
	interval := s.regenInterval(w)
	v := WalletView{
		UserID:               w.UserID,
		Coins:                w.Coins,
		Lives:                w.Lives,
		MaxLives:             w.MaxLives,
		SubscriptionTier:     w.SubscriptionTier,
		NextLifeAt:           NextLifeAt(w, interval),
		ServerTime:           now.UTC(),
		RegenIntervalSeconds: int64(interval / time.Second),
		HasPendingPremium:    w.HasPendingPremiumBooster,
	}
	if w.SpeedBoosterActive && w.SpeedBoosterExpiresAt != nil && now.Before(*w.SpeedBoosterExpiresAt) {
		sb := &SpeedBoosterView{
			Multiplier:    w.SpeedBoosterMultiplier,
			ExpiresAt:     w.SpeedBoosterExpiresAt,
			CoinsPerTick:  w.SpeedCoinsPerTick,
			LivesPerTick:  w.SpeedLivesPerTick,
			TickIntervalS: int64(w.TickInterval() / time.Second),
		}
		if last, ok := w.lastTick(); ok {
			next := last.Add(w.TickInterval())
			sb.NextTickAt = &next
		}
		v.SpeedBooster = sb

		tokens, err := s.store.SpeedTokens(ctx, userID)
		if err != nil {
			return WalletView{}, err
		}
		v.ActiveSpeedToken = activeToken(tokens, now)
	}
	return v, nil
}

func activeToken(tokens []SpeedToken, now time.Time) *SpeedToken {
	var best *SpeedToken
	for i := range tokens {
		t := tokens[i]
		if t.UsedAt == nil || t.ExpiresAt == nil || !now.Before(*t.ExpiresAt) {
			continue
		}
		if best == nil || t.ExpiresAt.After(*best.ExpiresAt) {
			best = &t
		}
	}
	return best
}

// SpendLife takes one life for a gameplay round. Replaying a round key is a no-op.
func (s *Service) SpendLife(ctx context.Context, userID, roundKey string, now time.Time) (CreditResult, error) {
	roundKey = strings.TrimSpace(roundKey)
	if roundKey == "" {
		return CreditResult{}, fmt.Errorf("%w: round key is required", ErrInvalidIdempotencyKey)
	}
	if _, err := s.Regenerate(ctx, userID, now); err != nil {
		return CreditResult{}, err
	}
	key := fmt.Sprintf("gameplay:life:%s:%s", userID, roundKey)
	return s.Credit(ctx, CreditRequest{
		UserID:         userID,
		DeltaLives:     -1,
		Source:         SourceGameplay,
		IdempotencyKey: key,
		Metadata:       GameplayMeta{Action: "spend_life", RoundKey: roundKey},
	})
}

// SpendCoins debits coins for an in-game purchase identified by ref.
func (s *Service) SpendCoins(ctx context.Context, userID string, amount int64, ref string) (CreditResult, error) {
	if amount <= 0 {
		return CreditResult{}, fmt.Errorf("%w: amount must be > 0", ErrInvalidAmount)
	}
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return CreditResult{}, fmt.Errorf("%w: ref is required", ErrInvalidIdempotencyKey)
	}
	return s.Credit(ctx, CreditRequest{
		UserID:         userID,
		DeltaCoins:     -amount,
		Source:         SourceGameplay,
		IdempotencyKey: fmt.Sprintf("gameplay:coins:%s:%s", userID, ref),
		Metadata:       GameplayMeta{Action: "spend_coins", RoundKey: ref},
	})
}

// ReferralBonus pays the referrer of refereeID. Each referee pays out once,
// whoever claims to have referred them.
func (s *Service) ReferralBonus(ctx context.Context, referrerID, refereeID string) (CreditResult, error) {
	if referrerID == "" || refereeID == "" || referrerID == refereeID {
		return CreditResult{}, fmt.Errorf("%w: invalid referral pair", ErrInvalidAmount)
	}
	return s.Credit(ctx, CreditRequest{
		UserID:         referrerID,
		DeltaCoins:     s.cfg.ReferralCoins,
		Source:         SourceReferral,
		IdempotencyKey: ReferralKey(refereeID),
		Metadata:       ReferralMeta{ReferrerID: referrerID, RefereeID: refereeID},
	})
}

// SetSubscriptionTier changes the life cap. The cap change and any trim of
// lives above a lowered cap are one ledger entry.
func (s *Service) SetSubscriptionTier(ctx context.Context, userID string, tier Tier) (Wallet, error) {
	if !tier.Valid() {
		return Wallet{}, fmt.Errorf("%w: tier %q", ErrInvalidAmount, tier)
	}
	now := s.Now()
	if _, err := s.Regenerate(ctx, userID, now); err != nil {
		return Wallet{}, err
	}
	maxLives := s.maxLivesFor(tier)
	res, err := s.Credit(ctx, CreditRequest{
		UserID:         userID,
		Source:         SourceAdminManual,
		IdempotencyKey: fmt.Sprintf("tier:%s:%s:%d", userID, tier, now.UnixNano()),
		Metadata:       AdminMeta{AdminID: "system", Reason: "subscription tier " + string(tier)},
		Effects:        Effects{SetTier: &TierChange{Tier: tier, MaxLives: maxLives}},
	})
	if err != nil {
		return Wallet{}, err
	}
	updated, err := s.store.Wallet(ctx, userID)
	if err != nil {
		return Wallet{}, err
	}
	s.log.Info("subscription tier changed", "user_id", userID, "tier", tier, "max_lives", maxLives, "lives_trimmed", -res.DeltaLives)
	return updated, nil
}

// AdminCredit applies a manual correction with an audit row written in the
// same transaction.
func (s *Service) AdminCredit(ctx context.Context, in AdminCreditInput) (CreditResult, error) {
	in.Reason = strings.TrimSpace(in.Reason)
	if in.AdminID == "" {
		return CreditResult{}, fmt.Errorf("%w: admin id is required", ErrInvalidAmount)
	}
	if in.DeltaCoins == 0 && in.DeltaLives == 0 {
		return CreditResult{}, fmt.Errorf("%w: delta must be non-zero", ErrInvalidAmount)
	}
	if in.Reason == "" {
		return CreditResult{}, fmt.Errorf("%w: reason is required", ErrInvalidAmount)
	}
	if err := ValidateIdempotencyKey(in.IdempotencyKey); err != nil {
		return CreditResult{}, err
	}
	if s.limiter != nil {
		ok, err := s.limiter.Allow(ctx, "admin_credit:"+in.AdminID)
		if err != nil {
			return CreditResult{}, fmt.Errorf("admin credit limiter: %w", err)
		}
		if !ok {
			return CreditResult{}, ErrRateLimited
		}
	}

	res, err := s.Credit(ctx, CreditRequest{
		UserID:         in.UserID,
		DeltaCoins:     in.DeltaCoins,
		DeltaLives:     in.DeltaLives,
		Source:         SourceAdminManual,
		IdempotencyKey: in.IdempotencyKey,
		Metadata:       AdminMeta{AdminID: in.AdminID, Reason: in.Reason},
		Effects:        Effects{Audit: &AuditNote{AdminID: in.AdminID, Reason: in.Reason}},
	})
	if err != nil {
		return res, err
	}
	coinsBefore, livesBefore := res.Coins, res.Lives
	if res.Applied {
		coinsBefore -= in.DeltaCoins
		livesBefore -= res.DeltaLives
	}
	s.log.Info("admin credit",
		"admin_id", in.AdminID,
		"user_id", in.UserID,
		"key", in.IdempotencyKey,
		"coins_before", coinsBefore,
		"lives_before", livesBefore,
		"coins_after", res.Coins,
		"lives_after", res.Lives,
		"applied", res.Applied,
		"reason", in.Reason,
	)
	return res, nil
}

func (s *Service) AdminAudits(ctx context.Context, userID string, limit int) ([]AdminAudit, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.AdminAudits(ctx, userID, limit)
}

// RecordScore stores a finished round. New scores are mirrored to the
// score board when one is configured.
func (s *Service) RecordScore(ctx context.Context, sc Score) (bool, error) {
	if sc.UserID == "" {
		return false, ErrWalletNotFound
	}
	if err := ValidateIdempotencyKey(sc.RoundKey); err != nil {
		return false, err
	}
	if sc.Score < 0 {
		return false, fmt.Errorf("%w: score must be >= 0", ErrInvalidAmount)
	}
	if sc.PlayedAt.IsZero() {
		sc.PlayedAt = s.Now()
	}
	inserted, err := s.store.RecordScore(ctx, sc)
	if err != nil || !inserted || s.board == nil {
		return inserted, err
	}
	for _, p := range []Period{DailyPeriod(sc.PlayedAt, s.cfg.Location), WeeklyPeriod(sc.PlayedAt)} {
		if err := s.board.AddScore(ctx, p, sc.UserID, sc.Score); err != nil {
			s.log.Error("score board update", "user_id", sc.UserID, "period", p.Key, "kind", p.Kind, "err", err)
		}
	}
	return true, nil
}
