package economy

import (
	"context"
	"time"
)

// RunSpeedTick credits every due tick for wallets with an active speed
// booster. Failures are logged per tick; the sweep keeps going.
func (s *Service) RunSpeedTick(ctx context.Context, now time.Time) (SweepReport, error) {
	var report SweepReport
	wallets, err := s.store.ActiveSpeedBoosters(ctx)
	if err != nil {
		return report, err
	}
	for _, w := range wallets {
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}
		report.Wallets++
		s.tickWallet(ctx, w, now, &report)
	}
	s.log.Info("speed tick sweep finished",
		"wallets", report.Wallets,
		"expired", report.Expired,
		"credited", report.Credited,
		"duplicates", report.Duplicates,
		"failed", report.Failed,
		"interrupted", report.Interrupted,
	)
	return report, nil
}

func (s *Service) tickWallet(ctx context.Context, w Wallet, now time.Time, report *SweepReport) {
	if w.SpeedBoosterExpiresAt == nil || !now.Before(*w.SpeedBoosterExpiresAt) {
		var expiresAt time.Time
		if w.SpeedBoosterExpiresAt != nil {
			expiresAt = *w.SpeedBoosterExpiresAt
		}
		ok, err := s.store.DeactivateSpeedBooster(ctx, w.UserID, expiresAt)
		if err != nil {
			report.Failed++
			s.log.Error("deactivate speed booster", "user_id", w.UserID, "err", err)
			return
		}
		if ok {
			report.Expired++
		}
		return
	}
	expiresAt := *w.SpeedBoosterExpiresAt

	last, ok := w.lastTick()
	if !ok {
		s.log.Warn("speed booster without activation time", "user_id", w.UserID)
		return
	}
	interval := w.TickInterval()
	due := TicksDue(last, interval, now)
	if due < 1 {
		return
	}

	multiplier := w.SpeedBoosterMultiplier
	if multiplier < 1 {
		multiplier = 1
	}
	var prefix int64
	broken := false
	for n := int64(1); n <= due; n++ {
		tickAt := last.Add(time.Duration(n) * interval)
		if tickAt.After(expiresAt) {
			break
		}
		key := SpeedTickKey(w.UserID, tickAt)
		res, err := s.Credit(ctx, CreditRequest{
			UserID:         w.UserID,
			DeltaCoins:     w.SpeedCoinsPerTick * multiplier,
			DeltaLives:     w.SpeedLivesPerTick * multiplier,
			Source:         SourceSpeedTick,
			IdempotencyKey: key,
			Metadata:       SpeedTickMeta{TickAt: tickAt.UTC(), Multiplier: multiplier},
		})
		if err != nil {
			report.Failed++
			broken = true
			s.log.Error("speed tick credit failed", "user_id", w.UserID, "key", key, "err", err)
			continue
		}
		if res.Applied {
			report.Credited++
		} else {
			report.Duplicates++
		}
		if !broken {
			prefix++
		}
	}
	if prefix == 0 {
		return
	}

	to := last.Add(time.Duration(prefix) * interval)
	moved, err := s.store.AdvanceSpeedTick(ctx, w.UserID, last, to)
	if err != nil {
		s.log.Error("advance speed tick marker", "user_id", w.UserID, "err", err)
		return
	}
	if !moved {
		s.log.Debug("speed tick marker already advanced", "user_id", w.UserID, "from", last)
	}
}
