package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"dingleup/internal/economy"
)

type APIConfig struct {
	Port        string `envconfig:"PORT"`
	Addr        string `envconfig:"DINGLEUP_API_ADDR" default:":8080"`
	Store       string `envconfig:"DINGLEUP_STORE" default:"postgres"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	DBMaxConns  int32  `envconfig:"DB_MAX_CONNS" default:"20"`
	DBMinConns  int32  `envconfig:"DB_MIN_CONNS" default:"2"`

	SupabaseURL     string `envconfig:"SUPABASE_URL"`
	SupabaseAnonKey string `envconfig:"SUPABASE_ANON_KEY"`

	SweepToken          string        `envconfig:"SWEEP_TOKEN"`
	PaymentWebhookToken string        `envconfig:"PAYMENT_WEBHOOK_TOKEN"`
	GameplayToken       string        `envconfig:"GAMEPLAY_WEBHOOK_TOKEN"`
	AdminIDs            []string      `envconfig:"ADMIN_IDS"`
	AdminPasswordHash   string        `envconfig:"ADMIN_PASSWORD_HASH"`
	AdminJWTSecret      string        `envconfig:"ADMIN_JWT_SECRET"`
	AdminTokenTTL       time.Duration `envconfig:"ADMIN_TOKEN_TTL" default:"12h"`
	AdminCreditsPerHour int           `envconfig:"ADMIN_CREDITS_PER_HOUR" default:"10"`
	UserRequestsPerSec  float64       `envconfig:"USER_REQUESTS_PER_SECOND" default:"5"`
	UserRequestBurst    int           `envconfig:"USER_REQUEST_BURST" default:"10"`

	RedisURL string `envconfig:"REDIS_URL"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	Economy EconomyConfig `ignored:"true"`
}

// EconomyConfig is shared by the API and the worker.
type EconomyConfig struct {
	AppTimezone          string        `envconfig:"APP_TIMEZONE" default:"UTC"`
	RegenInterval        time.Duration `envconfig:"REGEN_INTERVAL" default:"20m"`
	PremiumRegenInterval time.Duration `envconfig:"PREMIUM_REGEN_INTERVAL" default:"10m"`
	FreeMaxLives         int64         `envconfig:"FREE_MAX_LIVES" default:"5"`
	PremiumMaxLives      int64         `envconfig:"PREMIUM_MAX_LIVES" default:"10"`
	StartingCoins        int64         `envconfig:"STARTING_COINS" default:"100"`
	StartingLives        int64         `envconfig:"STARTING_LIVES" default:"5"`
	ReferralCoins        int64         `envconfig:"REFERRAL_COINS" default:"200"`
}

type WorkerConfig struct {
	Store                string `envconfig:"DINGLEUP_STORE" default:"postgres"`
	DatabaseURL          string `envconfig:"DATABASE_URL"`
	DBMaxConns           int32  `envconfig:"DB_MAX_CONNS" default:"5"`
	DBMinConns           int32  `envconfig:"DB_MIN_CONNS" default:"1"`
	RedisURL             string `envconfig:"REDIS_URL"`
	SpeedTickSchedule    string `envconfig:"SPEED_TICK_SCHEDULE" default:"@every 1m"`
	DailyRewardSchedule  string `envconfig:"DAILY_REWARD_SCHEDULE" default:"5 0 * * *"`
	WeeklyRewardSchedule string `envconfig:"WEEKLY_REWARD_SCHEDULE" default:"CRON_TZ=UTC 10 0 * * 1"`
	RunOnce              bool   `envconfig:"WORKER_RUN_ONCE" default:"false"`
	LogLevel             string `envconfig:"LOG_LEVEL" default:"info"`

	Economy EconomyConfig `ignored:"true"`
}

type CLIConfig struct {
	APIBaseURL string `envconfig:"DINGLEUP_API_BASE_URL" default:"http://localhost:8080"`
	AdminToken string `envconfig:"DINGLEUP_ADMIN_TOKEN"`
	SweepToken string `envconfig:"DINGLEUP_SWEEP_TOKEN"`
	UserToken  string `envconfig:"DINGLEUP_USER_TOKEN"`
}

// loadDotenv reads .env when present; a missing file is not an error.
func loadDotenv() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("ignoring .env", "err", err)
	}
}

func LoadAPIFromEnv() (APIConfig, error) {
	loadDotenv()
	var cfg APIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("load api config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Economy); err != nil {
		return cfg, fmt.Errorf("load economy config: %w", err)
	}
	cfg.normalize()
	return cfg, cfg.Validate()
}

func (c *APIConfig) normalize() {
	if p := strings.TrimSpace(c.Port); p != "" {
		if !strings.HasPrefix(p, ":") {
			p = ":" + p
		}
		c.Addr = p
	}
	c.SupabaseURL = strings.TrimRight(strings.TrimSpace(c.SupabaseURL), "/")
	c.DatabaseURL = strings.TrimSpace(c.DatabaseURL)
	c.Store = strings.ToLower(strings.TrimSpace(c.Store))
	ids := c.AdminIDs[:0]
	for _, id := range c.AdminIDs {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	c.AdminIDs = ids
}

func (c APIConfig) Validate() error {
	if err := validateStore(c.Store, c.DatabaseURL, c.DBMinConns, c.DBMaxConns); err != nil {
		return err
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseAnonKey == "" {
		return fmt.Errorf("SUPABASE_ANON_KEY is required")
	}
	if c.SweepToken == "" {
		return fmt.Errorf("SWEEP_TOKEN is required")
	}
	if c.PaymentWebhookToken == "" {
		return fmt.Errorf("PAYMENT_WEBHOOK_TOKEN is required")
	}
	if c.GameplayToken == "" {
		return fmt.Errorf("GAMEPLAY_WEBHOOK_TOKEN is required")
	}
	if c.SweepToken == c.PaymentWebhookToken || c.SweepToken == c.GameplayToken || c.PaymentWebhookToken == c.GameplayToken {
		return fmt.Errorf("SWEEP_TOKEN, PAYMENT_WEBHOOK_TOKEN and GAMEPLAY_WEBHOOK_TOKEN must differ")
	}
	if c.AdminPasswordHash != "" && len(c.AdminJWTSecret) < 32 {
		return fmt.Errorf("ADMIN_JWT_SECRET must be at least 32 bytes when admin login is enabled")
	}
	if c.AdminCreditsPerHour <= 0 {
		return fmt.Errorf("ADMIN_CREDITS_PER_HOUR must be > 0")
	}
	if c.UserRequestsPerSec <= 0 || c.UserRequestBurst <= 0 {
		return fmt.Errorf("USER_REQUESTS_PER_SECOND and USER_REQUEST_BURST must be > 0")
	}
	return c.Economy.Validate()
}

func LoadWorkerFromEnv() (WorkerConfig, error) {
	loadDotenv()
	var cfg WorkerConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("load worker config: %w", err)
	}
	if err := envconfig.Process("", &cfg.Economy); err != nil {
		return cfg, fmt.Errorf("load economy config: %w", err)
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if err := validateStore(cfg.Store, strings.TrimSpace(cfg.DatabaseURL), cfg.DBMinConns, cfg.DBMaxConns); err != nil {
		return cfg, err
	}
	if cfg.Store == "memory" {
		return cfg, fmt.Errorf("worker requires DINGLEUP_STORE=postgres")
	}
	return cfg, cfg.Economy.Validate()
}

func (e EconomyConfig) Validate() error {
	if _, err := time.LoadLocation(e.AppTimezone); err != nil {
		return fmt.Errorf("APP_TIMEZONE: %w", err)
	}
	if e.RegenInterval <= 0 || e.PremiumRegenInterval <= 0 {
		return fmt.Errorf("REGEN_INTERVAL and PREMIUM_REGEN_INTERVAL must be > 0")
	}
	if e.FreeMaxLives <= 0 || e.PremiumMaxLives < e.FreeMaxLives {
		return fmt.Errorf("FREE_MAX_LIVES must be > 0 and PREMIUM_MAX_LIVES >= FREE_MAX_LIVES")
	}
	if e.StartingCoins < 0 || e.StartingLives < 0 {
		return fmt.Errorf("STARTING_COINS and STARTING_LIVES must be >= 0")
	}
	return nil
}

func (e EconomyConfig) Location() *time.Location {
	loc, err := time.LoadLocation(e.AppTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// EconomySettings overlays the configured values on the engine defaults.
func (e EconomyConfig) EconomySettings() economy.Settings {
	s := economy.DefaultSettings()
	s.Location = e.Location()
	s.RegenInterval = e.RegenInterval
	s.PremiumRegenInterval = e.PremiumRegenInterval
	s.FreeMaxLives = e.FreeMaxLives
	s.PremiumMaxLives = e.PremiumMaxLives
	s.StartingCoins = e.StartingCoins
	s.StartingLives = e.StartingLives
	s.ReferralCoins = e.ReferralCoins
	return s
}

func validateStore(store, databaseURL string, minConns, maxConns int32) error {
	switch store {
	case "postgres":
		if databaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required")
		}
	case "memory":
	default:
		return fmt.Errorf("DINGLEUP_STORE must be postgres or memory, got %q", store)
	}
	if maxConns <= 0 || minConns < 0 || minConns > maxConns {
		return fmt.Errorf("invalid DB_MIN_CONNS/DB_MAX_CONNS")
	}
	return nil
}

func LoadCLIFromEnv() CLIConfig {
	var cfg CLIConfig
	if err := envconfig.Process("", &cfg); err != nil {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(strings.TrimSpace(cfg.APIBaseURL), "/")
	return cfg
}

func ParseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
