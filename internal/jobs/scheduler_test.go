package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"dingleup/internal/economy"
)

type fakeSweeper struct {
	mu        sync.Mutex
	ticks     []time.Time
	kinds     []economy.PeriodKind
	tickErr   error
	rewardErr error
}

func (f *fakeSweeper) RunSpeedTick(_ context.Context, now time.Time) (economy.SweepReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticks = append(f.ticks, now)
	return economy.SweepReport{}, f.tickErr
}

func (f *fakeSweeper) RunPeriodicRewards(_ context.Context, kind economy.PeriodKind, _ time.Time) (economy.DistributionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
	return economy.DistributionReport{}, f.rewardErr
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunOnceRunsEverySweep(t *testing.T) {
	sw := &fakeSweeper{}
	s := NewScheduler(sw, time.UTC, quietLogger(), Schedules{})
	fixed := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	if err := s.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}
	if len(sw.ticks) != 1 || !sw.ticks[0].Equal(fixed) {
		t.Fatalf("speed tick calls got=%v", sw.ticks)
	}
	if len(sw.kinds) != 2 || sw.kinds[0] != economy.PeriodDaily || sw.kinds[1] != economy.PeriodWeekly {
		t.Fatalf("reward kinds got=%v", sw.kinds)
	}
}

func TestRunOnceStopsOnSpeedTickError(t *testing.T) {
	boom := errors.New("boom")
	sw := &fakeSweeper{tickErr: boom}
	s := NewScheduler(sw, nil, quietLogger(), Schedules{})
	if err := s.RunOnce(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if len(sw.kinds) != 0 {
		t.Fatalf("rewards should not run after a failed tick")
	}
}

func TestStartRejectsInvalidSchedule(t *testing.T) {
	s := NewScheduler(&fakeSweeper{}, time.UTC, quietLogger(), Schedules{SpeedTick: "every minute please"})
	if err := s.Start(context.Background()); err == nil {
		t.Fatalf("expected schedule error")
	}
}

func TestStartAndStop(t *testing.T) {
	s := NewScheduler(&fakeSweeper{}, time.UTC, quietLogger(), Schedules{
		SpeedTick: "@every 1m",
		Daily:     "5 0 * * *",
		Weekly:    "CRON_TZ=UTC 10 0 * * 1",
	})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if got := len(s.cron.Entries()); got != 3 {
		t.Fatalf("entries got=%d", got)
	}
	s.Stop()
}
