package db

// Migrations are append-only; never edit a shipped version.
var Migrations = []Migration{
	{Version: 1, Name: "wallets_and_ledger", SQL: migration001},
	{Version: 2, Name: "speed_tokens", SQL: migration002},
	{Version: 3, Name: "periodic_awards_and_scores", SQL: migration003},
	{Version: 4, Name: "admin_audit", SQL: migration004},
	{Version: 5, Name: "premium_purchase_entry_and_score_scope", SQL: migration005},
}

const migration001 = `
CREATE SCHEMA IF NOT EXISTS economy;

CREATE TABLE IF NOT EXISTS economy.wallets (
	user_id TEXT PRIMARY KEY,
	coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
	lives BIGINT NOT NULL DEFAULT 0 CHECK (lives >= 0),
	max_lives BIGINT NOT NULL DEFAULT 5 CHECK (max_lives >= 0),
	subscription_tier TEXT NOT NULL DEFAULT 'free' CHECK (subscription_tier IN ('free', 'premium')),
	last_life_regen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	speed_booster_active BOOLEAN NOT NULL DEFAULT false,
	speed_booster_multiplier BIGINT NOT NULL DEFAULT 1 CHECK (speed_booster_multiplier >= 1),
	speed_booster_expires_at TIMESTAMPTZ,
	speed_booster_activated_at TIMESTAMPTZ,
	speed_tick_last_processed_at TIMESTAMPTZ,
	speed_coins_per_tick BIGINT NOT NULL DEFAULT 0,
	speed_lives_per_tick BIGINT NOT NULL DEFAULT 0,
	tick_interval_seconds BIGINT NOT NULL DEFAULT 60 CHECK (tick_interval_seconds > 0),
	has_pending_premium_booster BOOLEAN NOT NULL DEFAULT false,
	last_premium_purchase_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CHECK (lives <= max_lives)
);

CREATE INDEX IF NOT EXISTS wallets_speed_active_idx
	ON economy.wallets (user_id) WHERE speed_booster_active;

CREATE TABLE IF NOT EXISTS economy.ledger_entries (
	id BIGSERIAL PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES economy.wallets (user_id),
	delta_coins BIGINT NOT NULL,
	delta_lives BIGINT NOT NULL,
	coins_after BIGINT NOT NULL,
	lives_after BIGINT NOT NULL,
	source TEXT NOT NULL,
	idempotency_key TEXT NOT NULL UNIQUE,
	metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ledger_entries_user_idx ON economy.ledger_entries (user_id, id DESC);
`

const migration002 = `
CREATE TABLE IF NOT EXISTS economy.speed_tokens (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES economy.wallets (user_id),
	duration_minutes BIGINT NOT NULL CHECK (duration_minutes > 0),
	multiplier BIGINT NOT NULL DEFAULT 1 CHECK (multiplier >= 1),
	coins_per_tick BIGINT NOT NULL DEFAULT 0,
	lives_per_tick BIGINT NOT NULL DEFAULT 0,
	source TEXT NOT NULL,
	grant_key TEXT NOT NULL,
	used_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS speed_tokens_user_idx ON economy.speed_tokens (user_id, created_at);
`

const migration003 = `
CREATE TABLE IF NOT EXISTS economy.periodic_awards (
	user_id TEXT NOT NULL REFERENCES economy.wallets (user_id),
	period_kind TEXT NOT NULL CHECK (period_kind IN ('daily', 'weekly')),
	period_key TEXT NOT NULL,
	rank INTEGER NOT NULL CHECK (rank > 0),
	ledger_key TEXT NOT NULL,
	awarded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (user_id, period_kind, period_key)
);

CREATE TABLE IF NOT EXISTS economy.quiz_scores (
	round_key TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	score BIGINT NOT NULL CHECK (score >= 0),
	played_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS quiz_scores_played_idx ON economy.quiz_scores (played_at);
`

const migration004 = `
CREATE TABLE IF NOT EXISTS economy.admin_audit (
	id BIGSERIAL PRIMARY KEY,
	admin_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	idempotency_key TEXT NOT NULL,
	coins_before BIGINT NOT NULL,
	lives_before BIGINT NOT NULL,
	coins_after BIGINT NOT NULL,
	lives_after BIGINT NOT NULL,
	reason TEXT NOT NULL,
	applied BOOLEAN NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS admin_audit_user_idx ON economy.admin_audit (user_id, id DESC);
`

const migration005 = `
ALTER TABLE economy.wallets
	ADD COLUMN IF NOT EXISTS premium_purchase_entry_id BIGINT NOT NULL DEFAULT 0;

ALTER TABLE economy.quiz_scores DROP CONSTRAINT IF EXISTS quiz_scores_pkey;
ALTER TABLE economy.quiz_scores ADD PRIMARY KEY (user_id, round_key);
`
