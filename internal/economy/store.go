package economy

import (
	"context"
	"time"
)

// Store is the persistence boundary. ApplyCredit is the only method that
// changes coins or lives; every implementation must run it atomically.
type Store interface {
	CreateWallet(ctx context.Context, w Wallet) (Wallet, bool, error)
	Wallet(ctx context.Context, userID string) (Wallet, error)
	ApplyCredit(ctx context.Context, req CreditRequest, now time.Time) (CreditResult, error)

	ActiveSpeedBoosters(ctx context.Context) ([]Wallet, error)
	DeactivateSpeedBooster(ctx context.Context, userID string, expiresAt time.Time) (bool, error)
	AdvanceSpeedTick(ctx context.Context, userID string, from, to time.Time) (bool, error)

	SpeedTokens(ctx context.Context, userID string) ([]SpeedToken, error)
	ConsumeSpeedToken(ctx context.Context, userID, tokenID string, now time.Time) (SpeedToken, error)

	HasPeriodicAward(ctx context.Context, userID string, kind PeriodKind, periodKey string) (bool, error)
	InsertPeriodicAward(ctx context.Context, a PeriodicAward) (bool, error)

	LedgerEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
	AdminAudits(ctx context.Context, userID string, limit int) ([]AdminAudit, error)

	RecordScore(ctx context.Context, s Score) (bool, error)
	RankingSource
}

type RankingSource interface {
	Top(ctx context.Context, p Period, limit int) ([]RankedUser, error)
}

// ScoreBoard mirrors recorded scores and can serve rankings in place of the store.
type ScoreBoard interface {
	RankingSource
	AddScore(ctx context.Context, p Period, userID string, score int64) error
}

// Limiter gates admin operations; key is scoped by the caller.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}
