package economy

import (
	"context"
	"fmt"
	"time"
)

type Prize struct {
	Coins int64 `json:"coins"`
	Lives int64 `json:"lives"`
}

// PrizeTable maps a 1-based rank to its prize.
type PrizeTable map[int]Prize

func (p PrizeTable) MaxRank() int {
	max := 0
	for rank := range p {
		if rank > max {
			max = rank
		}
	}
	return max
}

func DefaultDailyPrizes() PrizeTable {
	return PrizeTable{
		1: {Coins: 500, Lives: 3}, 2: {Coins: 300, Lives: 2}, 3: {Coins: 200, Lives: 1},
		4: {Coins: 100}, 5: {Coins: 100}, 6: {Coins: 50}, 7: {Coins: 50}, 8: {Coins: 50}, 9: {Coins: 25}, 10: {Coins: 25},
	}
}

func DefaultWeeklyPrizes() PrizeTable {
	return PrizeTable{
		1: {Coins: 5000, Lives: 10}, 2: {Coins: 3000, Lives: 7}, 3: {Coins: 2000, Lives: 5},
		4: {Coins: 1000, Lives: 3}, 5: {Coins: 800, Lives: 2}, 6: {Coins: 600, Lives: 1},
		7: {Coins: 500}, 8: {Coins: 400}, 9: {Coins: 300}, 10: {Coins: 200},
	}
}

func (s *Service) prizesFor(kind PeriodKind) PrizeTable {
	if kind == PeriodWeekly {
		return s.cfg.WeeklyPrizes
	}
	return s.cfg.DailyPrizes
}

// RunPeriodicRewards pays the period of the given kind that closed before now.
func (s *Service) RunPeriodicRewards(ctx context.Context, kind PeriodKind, now time.Time) (DistributionReport, error) {
	period := ClosedPeriod(kind, now, s.cfg.Location)
	prizes := s.prizesFor(kind)
	ranking, err := s.ranking.Top(ctx, period, prizes.MaxRank())
	if err != nil {
		return DistributionReport{Period: period}, fmt.Errorf("rank %s %s: %w", kind, period.Key, err)
	}
	return s.Distribute(ctx, period, ranking, prizes)
}

// Distribute pays prizes for a ranked list at most once per user and period.
// A user whose credit fails gets no award row, so a later run retries them.
func (s *Service) Distribute(ctx context.Context, period Period, ranking []RankedUser, prizes PrizeTable) (DistributionReport, error) {
	report := DistributionReport{Period: period}
	source := period.Kind.source()
	for _, ru := range ranking {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		prize, ok := prizes[ru.Rank]
		if !ok || (prize.Coins == 0 && prize.Lives == 0) {
			report.NoPrize++
			continue
		}
		done, err := s.store.HasPeriodicAward(ctx, ru.UserID, period.Kind, period.Key)
		if err != nil {
			report.Failed++
			s.log.Error("periodic award lookup", "user_id", ru.UserID, "period", period.Key, "err", err)
			continue
		}
		if done {
			report.AlreadyAwarded++
			continue
		}

		key := PeriodicRewardKey(period.Kind, ru.UserID, period.Key, ru.Rank)
		if _, err := s.Credit(ctx, CreditRequest{
			UserID:         ru.UserID,
			DeltaCoins:     prize.Coins,
			DeltaLives:     prize.Lives,
			Source:         source,
			IdempotencyKey: key,
			Metadata:       PeriodicRewardMeta{Kind: period.Kind, PeriodKey: period.Key, Rank: ru.Rank},
		}); err != nil {
			report.Failed++
			s.log.Error("periodic reward credit failed", "user_id", ru.UserID, "key", key, "err", err)
			continue
		}

		inserted, err := s.store.InsertPeriodicAward(ctx, PeriodicAward{
			UserID:     ru.UserID,
			PeriodKind: period.Kind,
			PeriodKey:  period.Key,
			Rank:       ru.Rank,
			LedgerKey:  key,
			AwardedAt:  s.Now(),
		})
		if err != nil {
			// the ledger key still guards the credit on the next run
			report.Failed++
			s.log.Error("periodic award insert", "user_id", ru.UserID, "key", key, "err", err)
			continue
		}
		if inserted {
			report.Awarded++
		} else {
			report.AlreadyAwarded++
		}
	}
	s.log.Info("periodic rewards distributed",
		"kind", period.Kind,
		"period", period.Key,
		"awarded", report.Awarded,
		"already_awarded", report.AlreadyAwarded,
		"no_prize", report.NoPrize,
		"failed", report.Failed,
	)
	return report, nil
}
