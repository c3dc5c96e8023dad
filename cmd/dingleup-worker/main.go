package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"dingleup/internal/config"
	"dingleup/internal/db"
	"dingleup/internal/economy"
	"dingleup/internal/jobs"
	"dingleup/internal/leaderboard"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWorkerFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))
	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := db.Migrate(ctx, pool, logger); err != nil {
		logger.Error("migrate failed", "err", err)
		os.Exit(1)
	}

	var opts []economy.Option
	if cfg.RedisURL != "" {
		rdb, err := db.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts = append(opts, economy.WithScoreBoard(leaderboard.New(rdb)))
	}

	settings := cfg.Economy.EconomySettings()
	svc := economy.NewService(economy.NewPGStore(pool), logger, settings, opts...)
	scheduler := jobs.NewScheduler(svc, settings.Location, logger, jobs.Schedules{
		SpeedTick: cfg.SpeedTickSchedule,
		Daily:     cfg.DailyRewardSchedule,
		Weekly:    cfg.WeeklyRewardSchedule,
	})

	if cfg.RunOnce {
		if err := scheduler.RunOnce(ctx); err != nil {
			logger.Error("run-once failed", "err", err)
			os.Exit(1)
		}
		logger.Info("worker run-once completed")
		return
	}

	if err := scheduler.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}
	<-ctx.Done()
	scheduler.Stop()
	logger.Info("worker shutdown")
}
