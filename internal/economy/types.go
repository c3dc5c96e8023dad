package economy

import (
	"encoding/json"
	"time"
)

type Wallet struct {
	UserID                   string     `json:"user_id"`
	Coins                    int64      `json:"coins"`
	Lives                    int64      `json:"lives"`
	MaxLives                 int64      `json:"max_lives"`
	SubscriptionTier         Tier       `json:"subscription_tier"`
	LastLifeRegenAt          time.Time  `json:"last_life_regen_at"`
	SpeedBoosterActive       bool       `json:"speed_booster_active"`
	SpeedBoosterMultiplier   int64      `json:"speed_booster_multiplier"`
	SpeedBoosterExpiresAt    *time.Time `json:"speed_booster_expires_at,omitempty"`
	SpeedBoosterActivatedAt  *time.Time `json:"speed_booster_activated_at,omitempty"`
	SpeedTickLastProcessedAt *time.Time `json:"speed_tick_last_processed_at,omitempty"`
	SpeedCoinsPerTick        int64      `json:"speed_coins_per_tick"`
	SpeedLivesPerTick        int64      `json:"speed_lives_per_tick"`
	TickIntervalSeconds      int64      `json:"tick_interval_seconds"`
	HasPendingPremiumBooster bool       `json:"has_pending_premium_booster"`
	LastPremiumPurchaseAt    *time.Time `json:"last_premium_purchase_at,omitempty"`
	PremiumPurchaseEntryID   int64      `json:"premium_purchase_entry_id,omitempty"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

func (w Wallet) TickInterval() time.Duration {
	if w.TickIntervalSeconds <= 0 {
		return DefaultTickInterval
	}
	return time.Duration(w.TickIntervalSeconds) * time.Second
}

// lastTick is where the next speed tick is counted from.
func (w Wallet) lastTick() (time.Time, bool) {
	if w.SpeedTickLastProcessedAt != nil {
		return *w.SpeedTickLastProcessedAt, true
	}
	if w.SpeedBoosterActivatedAt != nil {
		return *w.SpeedBoosterActivatedAt, true
	}
	return time.Time{}, false
}

type Balances struct {
	Coins int64 `json:"coins"`
	Lives int64 `json:"lives"`
}

type CreditRequest struct {
	UserID         string
	DeltaCoins     int64
	DeltaLives     int64
	Source         Source
	IdempotencyKey string
	Metadata       Metadata
	Effects        Effects

	meta json.RawMessage
}

// Effects run inside the credit transaction and only when the ledger entry is new.
// PremiumPurchaseEntryID, when set with ConsumePremiumPending, must match the
// pending purchase.
type Effects struct {
	RegenAdvance           *RegenAdvance
	MarkPremiumPending     bool
	ConsumePremiumPending  bool
	PremiumPurchaseEntryID int64
	GrantTokens            []SpeedToken
	Audit                  *AuditNote
	SetTier                *TierChange
}

// TierChange replaces the life cap in the same transaction. Lives above the
// new cap are trimmed and the trim is the entry's lives delta.
type TierChange struct {
	Tier     Tier
	MaxLives int64
}

type RegenAdvance struct {
	From time.Time
	To   time.Time
}

type AuditNote struct {
	AdminID string
	Reason  string
}

type CreditResult struct {
	Balances
	Applied    bool  `json:"applied"`
	EntryID    int64 `json:"entry_id,omitempty"`
	DeltaLives int64 `json:"delta_lives"`
}

type LedgerEntry struct {
	ID             int64           `json:"id"`
	UserID         string          `json:"user_id"`
	DeltaCoins     int64           `json:"delta_coins"`
	DeltaLives     int64           `json:"delta_lives"`
	CoinsAfter     int64           `json:"coins_after"`
	LivesAfter     int64           `json:"lives_after"`
	Source         Source          `json:"source"`
	IdempotencyKey string          `json:"idempotency_key"`
	Metadata       json.RawMessage `json:"metadata"`
	CreatedAt      time.Time       `json:"created_at"`
}

type SpeedToken struct {
	ID              string     `json:"id"`
	UserID          string     `json:"user_id"`
	DurationMinutes int64      `json:"duration_minutes"`
	Multiplier      int64      `json:"multiplier"`
	CoinsPerTick    int64      `json:"coins_per_tick"`
	LivesPerTick    int64      `json:"lives_per_tick"`
	Source          Source     `json:"source"`
	GrantKey        string     `json:"grant_key"`
	UsedAt          *time.Time `json:"used_at,omitempty"`
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (t SpeedToken) Pending() bool {
	return t.UsedAt == nil
}

type PeriodicAward struct {
	UserID     string     `json:"user_id"`
	PeriodKind PeriodKind `json:"period_kind"`
	PeriodKey  string     `json:"period_key"`
	Rank       int        `json:"rank"`
	LedgerKey  string     `json:"ledger_key"`
	AwardedAt  time.Time  `json:"awarded_at"`
}

type AdminAudit struct {
	ID             int64     `json:"id"`
	AdminID        string    `json:"admin_id"`
	UserID         string    `json:"user_id"`
	IdempotencyKey string    `json:"idempotency_key"`
	CoinsBefore    int64     `json:"coins_before"`
	LivesBefore    int64     `json:"lives_before"`
	CoinsAfter     int64     `json:"coins_after"`
	LivesAfter     int64     `json:"lives_after"`
	Reason         string    `json:"reason"`
	Applied        bool      `json:"applied"`
	CreatedAt      time.Time `json:"created_at"`
}

type Score struct {
	UserID   string    `json:"user_id"`
	RoundKey string    `json:"round_key"`
	Score    int64     `json:"score"`
	PlayedAt time.Time `json:"played_at"`
}

type RankedUser struct {
	UserID string `json:"user_id"`
	Rank   int    `json:"rank"`
	Score  int64  `json:"score"`
}

type SweepReport struct {
	Wallets     int  `json:"wallets"`
	Expired     int  `json:"expired"`
	Credited    int  `json:"credited"`
	Duplicates  int  `json:"duplicates"`
	Failed      int  `json:"failed"`
	Interrupted bool `json:"interrupted"`
}

type DistributionReport struct {
	Period         Period `json:"period"`
	Awarded        int    `json:"awarded"`
	AlreadyAwarded int    `json:"already_awarded"`
	NoPrize        int    `json:"no_prize"`
	Failed         int    `json:"failed"`
	Interrupted    bool   `json:"interrupted"`
}

type SpeedBoosterView struct {
	Multiplier    int64      `json:"multiplier"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CoinsPerTick  int64      `json:"coins_per_tick"`
	LivesPerTick  int64      `json:"lives_per_tick"`
	NextTickAt    *time.Time `json:"next_tick_at,omitempty"`
	TickIntervalS int64      `json:"tick_interval_seconds"`
}

type WalletView struct {
	UserID               string            `json:"user_id"`
	Coins                int64             `json:"coins"`
	Lives                int64             `json:"lives"`
	MaxLives             int64             `json:"max_lives"`
	SubscriptionTier     Tier              `json:"subscription_tier"`
	NextLifeAt           *time.Time        `json:"next_life_at"`
	ServerTime           time.Time         `json:"server_time"`
	RegenIntervalSeconds int64             `json:"regen_interval_seconds"`
	HasPendingPremium    bool              `json:"has_pending_premium"`
	ActiveSpeedToken     *SpeedToken       `json:"active_speed_token,omitempty"`
	SpeedBooster         *SpeedBoosterView `json:"speed_booster,omitempty"`
}

type PurchaseConfirmation struct {
	UserID        string `json:"user_id"`
	BoosterCode   string `json:"booster_code"`
	TransactionID string `json:"transaction_id"`
}

type PurchaseResult struct {
	CreditResult
	BoosterCode    string       `json:"booster_code"`
	PremiumPending bool         `json:"premium_pending"`
	Tokens         []SpeedToken `json:"tokens,omitempty"`
}

type ActivationResult struct {
	CreditResult
	Tokens []SpeedToken `json:"tokens"`
}

type AdminCreditInput struct {
	AdminID        string `json:"admin_id"`
	UserID         string `json:"user_id"`
	DeltaCoins     int64  `json:"delta_coins"`
	DeltaLives     int64  `json:"delta_lives"`
	Reason         string `json:"reason"`
	IdempotencyKey string `json:"idempotency_key"`
}
