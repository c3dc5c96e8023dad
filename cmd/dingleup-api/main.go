package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dingleup/internal/api"
	"dingleup/internal/auth"
	"dingleup/internal/config"
	"dingleup/internal/db"
	"dingleup/internal/economy"
	"dingleup/internal/leaderboard"
	"dingleup/internal/ratelimit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: config.ParseLogLevel(cfg.LogLevel)}))

	var store economy.Store
	switch cfg.Store {
	case "memory":
		logger.Warn("using in-memory store, balances are lost on restart")
		store = economy.NewMemoryStore()
	default:
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
		store = economy.NewPGStore(pool)
	}

	opts := []economy.Option{}
	if cfg.RedisURL != "" {
		rdb, err := db.ConnectRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connect failed", "err", err)
			os.Exit(1)
		}
		defer rdb.Close()
		opts = append(opts,
			economy.WithScoreBoard(leaderboard.New(rdb)),
			economy.WithLimiter(ratelimit.NewRedis(rdb, cfg.AdminCreditsPerHour, time.Hour)),
		)
	} else {
		window := ratelimit.NewWindow(cfg.AdminCreditsPerHour, time.Hour)
		defer window.Close()
		opts = append(opts, economy.WithLimiter(window))
	}

	econ := economy.NewService(store, logger, cfg.Economy.EconomySettings(), opts...)
	users := auth.NewSupabaseClient(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	admin := auth.NewAdminAuth(cfg.AdminIDs, cfg.AdminPasswordHash, cfg.AdminJWTSecret, cfg.AdminTokenTTL)
	if !admin.Enabled() {
		logger.Warn("admin login disabled, ADMIN_PASSWORD_HASH is not set")
	}

	server := api.New(cfg, logger, users, admin, econ)
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("dingleup api listening", "addr", cfg.Addr, "store", cfg.Store, "redis", cfg.RedisURL != "")
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}
