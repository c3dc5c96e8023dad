package economy

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

const (
	DefaultTickInterval = 60 * time.Second

	MaxIdempotencyKeyLen = 200
)

var (
	ErrInvalidIdempotencyKey = errors.New("invalid idempotency key")
	ErrInvalidAmount         = errors.New("invalid amount")
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrWalletNotFound        = errors.New("wallet not found")
	ErrUnknownBooster        = errors.New("unknown booster")
	ErrTokenNotFound         = errors.New("speed token not found")
	ErrTokenAlreadyUsed      = errors.New("speed token already used")
	ErrNoPendingPremium      = errors.New("no pending premium booster")
	ErrMetadataMismatch      = errors.New("metadata does not match credit source")
	ErrRateLimited           = errors.New("rate limited")
	ErrTxConflict            = errors.New("transaction conflict, retry")

	// errStaleRegen is returned by a store when the regen compare-and-set loses.
	errStaleRegen = errors.New("regen timestamp moved")
	// errStalePremium is returned when a newer premium purchase replaced the pending one.
	errStalePremium = errors.New("pending premium purchase changed")
)

type Source string

const (
	SourcePurchase     Source = "purchase"
	SourceSpeedTick    Source = "speed_tick"
	SourceRegen        Source = "regen"
	SourceWeeklyReward Source = "weekly_reward"
	SourceDailyReward  Source = "daily_reward"
	SourceAdminManual  Source = "admin_manual"
	SourceReferral     Source = "referral"
	SourceGameplay     Source = "gameplay"
)

func (s Source) Valid() bool {
	switch s {
	case SourcePurchase, SourceSpeedTick, SourceRegen, SourceWeeklyReward, SourceDailyReward,
		SourceAdminManual, SourceReferral, SourceGameplay:
		return true
	}
	return false
}

type Tier string

const (
	TierFree    Tier = "free"
	TierPremium Tier = "premium"
)

func (t Tier) Valid() bool {
	return t == TierFree || t == TierPremium
}

var idempotencyKeyRE = regexp.MustCompile(`^[A-Za-z0-9_:.+@-]+$`)

func ValidateIdempotencyKey(key string) error {
	if key == "" || len(key) > MaxIdempotencyKeyLen || !idempotencyKeyRE.MatchString(key) {
		return ErrInvalidIdempotencyKey
	}
	return nil
}

// keyTime renders a boundary instant the same way regardless of the caller's zone.
func keyTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func RegenKey(userID string, boundary time.Time) string {
	return fmt.Sprintf("regen:%s:%s", userID, keyTime(boundary))
}

func SpeedTickKey(userID string, tickAt time.Time) string {
	return fmt.Sprintf("speed_tick:%s:%s", userID, keyTime(tickAt))
}

func PurchaseKey(transactionID string) string {
	return "purchase:" + transactionID
}

// PremiumActivationKey names the activation of the purchase recorded as
// ledger entry purchaseEntryID.
func PremiumActivationKey(userID string, purchaseEntryID int64) string {
	return fmt.Sprintf("premium_activation:%s:%d", userID, purchaseEntryID)
}

func PeriodicRewardKey(kind PeriodKind, userID, periodKey string, rank int) string {
	return fmt.Sprintf("%s-top10:%s:%s:%d", kind, userID, periodKey, rank)
}

// ReferralKey is per referee: a user can only ever be referred once.
func ReferralKey(refereeID string) string {
	return "referral:" + refereeID
}

// RegenDue returns the lives owed to w at now and the boundary lastLifeRegenAt
// must move to. A full wallet owes nothing and keeps its timestamp.
func RegenDue(w Wallet, interval time.Duration, now time.Time) (int64, time.Time) {
	last := w.LastLifeRegenAt
	if interval <= 0 || w.Lives >= w.MaxLives || !now.After(last) {
		return 0, last
	}
	due := int64(now.Sub(last) / interval)
	if room := w.MaxLives - w.Lives; due > room {
		due = room
	}
	if due <= 0 {
		return 0, last
	}
	return due, last.Add(time.Duration(due) * interval)
}

// NextLifeAt is nil when the wallet is full.
func NextLifeAt(w Wallet, interval time.Duration) *time.Time {
	if interval <= 0 || w.Lives >= w.MaxLives {
		return nil
	}
	next := w.LastLifeRegenAt.Add(interval)
	return &next
}

func TicksDue(last time.Time, interval time.Duration, now time.Time) int64 {
	if interval <= 0 || !now.After(last) {
		return 0
	}
	return int64(now.Sub(last) / interval)
}

// clampLives applies delta and caps the result at max. The second value is
// false when the debit would go below zero.
func clampLives(lives, delta, max int64) (int64, bool) {
	next := lives + delta
	if next < 0 {
		return lives, false
	}
	if next > max {
		next = max
	}
	if next < lives && delta > 0 {
		// lives already above max after a tier downgrade; never clamp a credit into a debit
		next = lives
	}
	return next, true
}
