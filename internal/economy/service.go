package economy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

type Settings struct {
	RegenInterval        time.Duration
	PremiumRegenInterval time.Duration
	FreeMaxLives         int64
	PremiumMaxLives      int64
	StartingCoins        int64
	StartingLives        int64
	ReferralCoins        int64
	Location             *time.Location

	Catalog       Catalog
	PremiumReward TokenGrant
	DailyPrizes   PrizeTable
	WeeklyPrizes  PrizeTable
}

func DefaultSettings() Settings {
	return Settings{
		RegenInterval:        20 * time.Minute,
		PremiumRegenInterval: 10 * time.Minute,
		FreeMaxLives:         5,
		PremiumMaxLives:      10,
		StartingCoins:        100,
		StartingLives:        5,
		ReferralCoins:        200,
		Location:             time.UTC,
		Catalog:              DefaultCatalog(),
		PremiumReward:        TokenGrant{Quantity: 3, DurationMinutes: 30, Multiplier: 3, CoinsPerTick: 5},
		DailyPrizes:          DefaultDailyPrizes(),
		WeeklyPrizes:         DefaultWeeklyPrizes(),
	}
}

type Service struct {
	store   Store
	log     *slog.Logger
	cfg     Settings
	ranking RankingSource
	board   ScoreBoard
	limiter Limiter
	now     func() time.Time
}

type Option func(*Service)

// WithScoreBoard mirrors scores into b and ranks periodic rewards from it.
func WithScoreBoard(b ScoreBoard) Option {
	return func(s *Service) {
		if b != nil {
			s.board = b
			s.ranking = b
		}
	}
}

func WithLimiter(l Limiter) Option {
	return func(s *Service) { s.limiter = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store Store, logger *slog.Logger, cfg Settings, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.Catalog == nil {
		cfg.Catalog = DefaultCatalog()
	}
	s := &Service{
		store:   store,
		log:     logger,
		cfg:     cfg,
		ranking: store,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Settings() Settings {
	return s.cfg
}

func (s *Service) Now() time.Time {
	return s.now().UTC()
}

func (s *Service) regenInterval(w Wallet) time.Duration {
	if w.SubscriptionTier == TierPremium && s.cfg.PremiumRegenInterval > 0 {
		return s.cfg.PremiumRegenInterval
	}
	return s.cfg.RegenInterval
}

func (s *Service) maxLivesFor(tier Tier) int64 {
	if tier == TierPremium {
		return s.cfg.PremiumMaxLives
	}
	return s.cfg.FreeMaxLives
}

// Credit applies one balance delta exactly once per idempotency key.
// A replayed key returns the current balances with Applied=false.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if err := ValidateIdempotencyKey(req.IdempotencyKey); err != nil {
		return CreditResult{}, err
	}
	if req.UserID == "" {
		return CreditResult{}, ErrWalletNotFound
	}
	if !req.Source.Valid() {
		return CreditResult{}, fmt.Errorf("%w: unknown source %q", ErrInvalidAmount, req.Source)
	}
	meta, err := EncodeMetadata(req.Source, req.Metadata)
	if err != nil {
		return CreditResult{}, err
	}
	req.meta = meta

	res, err := s.store.ApplyCredit(ctx, req, s.Now())
	if err != nil {
		if errors.Is(err, errStaleRegen) {
			return res, err
		}
		return res, fmt.Errorf("credit %s: %w", req.IdempotencyKey, err)
	}
	if !res.Applied {
		s.log.Debug("credit replay ignored", "user_id", req.UserID, "key", req.IdempotencyKey, "source", req.Source)
	}
	return res, nil
}

func (s *Service) Ledger(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.LedgerEntries(ctx, userID, limit)
}
