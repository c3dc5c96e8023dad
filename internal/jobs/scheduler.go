// Package jobs runs the economy sweeps on cron schedules.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"dingleup/internal/economy"
)

type Sweeper interface {
	RunSpeedTick(ctx context.Context, now time.Time) (economy.SweepReport, error)
	RunPeriodicRewards(ctx context.Context, kind economy.PeriodKind, now time.Time) (economy.DistributionReport, error)
}

type Schedules struct {
	SpeedTick string
	Daily     string
	Weekly    string
}

type Scheduler struct {
	cron      *cron.Cron
	sweeper   Sweeper
	log       *slog.Logger
	schedules Schedules
	now       func() time.Time
}

func NewScheduler(sweeper Sweeper, loc *time.Location, logger *slog.Logger, schedules Schedules) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	return &Scheduler{
		cron:      c,
		sweeper:   sweeper,
		log:       logger,
		schedules: schedules,
		now:       time.Now,
	}
}

// Start registers every job and starts the cron loop. Jobs run with ctx and
// stop doing work once it is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs := []struct {
		name string
		spec string
		run  func(context.Context)
	}{
		{name: "speed_tick", spec: s.schedules.SpeedTick, run: s.speedTick},
		{name: "daily_rewards", spec: s.schedules.Daily, run: func(ctx context.Context) { s.rewards(ctx, economy.PeriodDaily) }},
		{name: "weekly_rewards", spec: s.schedules.Weekly, run: func(ctx context.Context) { s.rewards(ctx, economy.PeriodWeekly) }},
	}
	for _, j := range jobs {
		if j.spec == "" {
			continue
		}
		run := j.run
		if _, err := s.cron.AddFunc(j.spec, func() {
			if ctx.Err() != nil {
				return
			}
			run(ctx)
		}); err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.name, j.spec, err)
		}
	}
	s.cron.Start()
	s.log.Info("scheduler started",
		"speed_tick", s.schedules.SpeedTick,
		"daily_rewards", s.schedules.Daily,
		"weekly_rewards", s.schedules.Weekly,
	)
	return nil
}

// Stop waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunOnce performs one pass of every sweep and reports the first error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now()
	if _, err := s.sweeper.RunSpeedTick(ctx, now); err != nil {
		return fmt.Errorf("speed tick: %w", err)
	}
	for _, kind := range []economy.PeriodKind{economy.PeriodDaily, economy.PeriodWeekly} {
		if _, err := s.sweeper.RunPeriodicRewards(ctx, kind, now); err != nil {
			return fmt.Errorf("%s rewards: %w", kind, err)
		}
	}
	return nil
}

func (s *Scheduler) speedTick(ctx context.Context) {
	report, err := s.sweeper.RunSpeedTick(ctx, s.now())
	if err != nil {
		s.log.Error("speed tick failed", "err", err)
		return
	}
	if report.Failed > 0 {
		s.log.Warn("speed tick had failures", "failed", report.Failed, "wallets", report.Wallets)
	}
}

func (s *Scheduler) rewards(ctx context.Context, kind economy.PeriodKind) {
	report, err := s.sweeper.RunPeriodicRewards(ctx, kind, s.now())
	if err != nil {
		s.log.Error("periodic rewards failed", "kind", kind, "err", err)
		return
	}
	if report.Failed > 0 {
		s.log.Warn("periodic rewards had failures", "kind", kind, "period", report.Period.Key, "failed", report.Failed)
	}
}
