package economy

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGStore struct {
	db *pgxpool.Pool
}

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const walletColumns = `
	user_id, coins, lives, max_lives, subscription_tier, last_life_regen_at,
	speed_booster_active, speed_booster_multiplier, speed_booster_expires_at,
	speed_booster_activated_at, speed_tick_last_processed_at,
	speed_coins_per_tick, speed_lives_per_tick, tick_interval_seconds,
	has_pending_premium_booster, last_premium_purchase_at, premium_purchase_entry_id,
	created_at, updated_at`

func scanWallet(row pgx.Row) (Wallet, error) {
	var w Wallet
	var tier string
	err := row.Scan(
		&w.UserID, &w.Coins, &w.Lives, &w.MaxLives, &tier, &w.LastLifeRegenAt,
		&w.SpeedBoosterActive, &w.SpeedBoosterMultiplier, &w.SpeedBoosterExpiresAt,
		&w.SpeedBoosterActivatedAt, &w.SpeedTickLastProcessedAt,
		&w.SpeedCoinsPerTick, &w.SpeedLivesPerTick, &w.TickIntervalSeconds,
		&w.HasPendingPremiumBooster, &w.LastPremiumPurchaseAt, &w.PremiumPurchaseEntryID,
		&w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Wallet{}, ErrWalletNotFound
		}
		return Wallet{}, err
	}
	w.SubscriptionTier = Tier(tier)
	return w, nil
}

func (p *PGStore) CreateWallet(ctx context.Context, w Wallet) (Wallet, bool, error) {
	cmd, err := p.db.Exec(ctx, `
		INSERT INTO economy.wallets (user_id, coins, lives, max_lives, subscription_tier, last_life_regen_at, tick_interval_seconds)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id) DO NOTHING
	`, w.UserID, w.Coins, w.Lives, w.MaxLives, string(w.SubscriptionTier), w.LastLifeRegenAt, w.TickIntervalSeconds)
	if err != nil {
		return Wallet{}, false, err
	}
	cur, err := p.Wallet(ctx, w.UserID)
	return cur, cmd.RowsAffected() == 1, err
}

func (p *PGStore) Wallet(ctx context.Context, userID string) (Wallet, error) {
	return scanWallet(p.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM economy.wallets WHERE user_id = $1`, userID))
}

func (p *PGStore) ApplyCredit(ctx context.Context, req CreditRequest, now time.Time) (CreditResult, error) {
	const maxAttempts = 8
	retryDelay := 75 * time.Millisecond
	for attempt := 0; attempt < maxAttempts; attempt++ {
		out, err := p.applyCredit(ctx, req, now)
		if err == nil {
			return out, nil
		}
		if isUniqueViolation(err) {
			// a concurrent writer inserted the same key first
			return p.balances(ctx, req.UserID)
		}
		if !isSerializationError(err) {
			return out, err
		}
		if attempt == maxAttempts-1 {
			break
		}
		if err := sleepWithContext(ctx, retryDelay); err != nil {
			return out, err
		}
		if retryDelay < 1200*time.Millisecond {
			retryDelay *= 2
		}
	}
	return CreditResult{}, ErrTxConflict
}

func (p *PGStore) balances(ctx context.Context, userID string) (CreditResult, error) {
	var out CreditResult
	err := p.db.QueryRow(ctx, `SELECT coins, lives FROM economy.wallets WHERE user_id = $1`, userID).Scan(&out.Coins, &out.Lives)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, ErrWalletNotFound
	}
	return out, err
}

func (p *PGStore) applyCredit(ctx context.Context, req CreditRequest, now time.Time) (CreditResult, error) {
	var out CreditResult
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return out, err
	}
	defer tx.Rollback(ctx)

	var coins, lives, maxLives int64
	var tier string
	var lastRegen time.Time
	var pending bool
	var purchaseEntry int64
	if err := tx.QueryRow(ctx, `
		SELECT coins, lives, max_lives, subscription_tier, last_life_regen_at,
			has_pending_premium_booster, premium_purchase_entry_id
		FROM economy.wallets
		WHERE user_id = $1
		FOR UPDATE
	`, req.UserID).Scan(&coins, &lives, &maxLives, &tier, &lastRegen, &pending, &purchaseEntry); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return out, ErrWalletNotFound
		}
		return out, err
	}
	out.Balances = Balances{Coins: coins, Lives: lives}

	var seen bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM economy.ledger_entries WHERE idempotency_key = $1)
	`, req.IdempotencyKey).Scan(&seen); err != nil {
		return out, err
	}
	if seen {
		return out, nil
	}

	if adv := req.Effects.RegenAdvance; adv != nil && !lastRegen.Equal(adv.From) {
		return out, errStaleRegen
	}
	if req.Effects.ConsumePremiumPending {
		if !pending {
			return out, ErrNoPendingPremium
		}
		if id := req.Effects.PremiumPurchaseEntryID; id != 0 && id != purchaseEntry {
			return out, errStalePremium
		}
	}

	nextMax, nextTier := maxLives, tier
	if tc := req.Effects.SetTier; tc != nil {
		nextMax, nextTier = tc.MaxLives, string(tc.Tier)
	}
	nextCoins := coins + req.DeltaCoins
	if nextCoins < 0 {
		return out, ErrInsufficientBalance
	}
	nextLives, ok := clampLives(lives, req.DeltaLives, nextMax)
	if !ok {
		return out, ErrInsufficientBalance
	}
	nextRegen := lastRegen
	switch {
	case req.Effects.RegenAdvance != nil:
		nextRegen = req.Effects.RegenAdvance.To
	case lives >= maxLives && nextLives < nextMax:
		nextRegen = now
	}
	appliedLives := nextLives - lives

	var entryID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO economy.ledger_entries
			(user_id, delta_coins, delta_lives, coins_after, lives_after, source, idempotency_key, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`, req.UserID, req.DeltaCoins, appliedLives, nextCoins, nextLives, string(req.Source), req.IdempotencyKey, string(req.meta), now).Scan(&entryID)
	if errors.Is(err, pgx.ErrNoRows) {
		return out, nil
	}
	if err != nil {
		return out, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE economy.wallets
		SET coins = $2,
			lives = $3,
			last_life_regen_at = $4,
			has_pending_premium_booster = CASE WHEN $5 THEN true WHEN $6 THEN false ELSE has_pending_premium_booster END,
			last_premium_purchase_at = CASE WHEN $5 THEN $7 ELSE last_premium_purchase_at END,
			premium_purchase_entry_id = CASE WHEN $5 THEN $8 ELSE premium_purchase_entry_id END,
			max_lives = $9,
			subscription_tier = $10,
			updated_at = $7
		WHERE user_id = $1
	`, req.UserID, nextCoins, nextLives, nextRegen, req.Effects.MarkPremiumPending, req.Effects.ConsumePremiumPending, now,
		entryID, nextMax, nextTier); err != nil {
		return out, err
	}

	for _, t := range req.Effects.GrantTokens {
		if _, err := tx.Exec(ctx, `
			INSERT INTO economy.speed_tokens
				(id, user_id, duration_minutes, multiplier, coins_per_tick, lives_per_tick, source, grant_key, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, t.ID, t.UserID, t.DurationMinutes, t.Multiplier, t.CoinsPerTick, t.LivesPerTick, string(t.Source), t.GrantKey, now); err != nil {
			return out, err
		}
	}

	if a := req.Effects.Audit; a != nil {
		if _, err := tx.Exec(ctx, `
			INSERT INTO economy.admin_audit
				(admin_id, user_id, idempotency_key, coins_before, lives_before, coins_after, lives_after, reason, applied, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, true, $9)
		`, a.AdminID, req.UserID, req.IdempotencyKey, coins, lives, nextCoins, nextLives, a.Reason, now); err != nil {
			return out, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return out, err
	}
	return CreditResult{
		Balances:   Balances{Coins: nextCoins, Lives: nextLives},
		Applied:    true,
		EntryID:    entryID,
		DeltaLives: appliedLives,
	}, nil
}

func (p *PGStore) ActiveSpeedBoosters(ctx context.Context) ([]Wallet, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+walletColumns+`
		FROM economy.wallets
		WHERE speed_booster_active
		ORDER BY user_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (p *PGStore) DeactivateSpeedBooster(ctx context.Context, userID string, expiresAt time.Time) (bool, error) {
	var exp *time.Time
	if !expiresAt.IsZero() {
		exp = &expiresAt
	}
	cmd, err := p.db.Exec(ctx, `
		UPDATE economy.wallets
		SET speed_booster_active = false,
			speed_booster_multiplier = 1,
			speed_booster_expires_at = NULL,
			speed_booster_activated_at = NULL,
			speed_tick_last_processed_at = NULL,
			speed_coins_per_tick = 0,
			speed_lives_per_tick = 0,
			updated_at = now()
		WHERE user_id = $1
		  AND speed_booster_active
		  AND speed_booster_expires_at IS NOT DISTINCT FROM $2
	`, userID, exp)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (p *PGStore) AdvanceSpeedTick(ctx context.Context, userID string, from, to time.Time) (bool, error) {
	cmd, err := p.db.Exec(ctx, `
		UPDATE economy.wallets
		SET speed_tick_last_processed_at = $3, updated_at = now()
		WHERE user_id = $1
		  AND speed_booster_active
		  AND COALESCE(speed_tick_last_processed_at, speed_booster_activated_at) = $2
	`, userID, from, to)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

const tokenColumns = `id, user_id, duration_minutes, multiplier, coins_per_tick, lives_per_tick, source, grant_key, used_at, expires_at, created_at`

func scanToken(row pgx.Row) (SpeedToken, error) {
	var t SpeedToken
	var source string
	if err := row.Scan(&t.ID, &t.UserID, &t.DurationMinutes, &t.Multiplier, &t.CoinsPerTick, &t.LivesPerTick,
		&source, &t.GrantKey, &t.UsedAt, &t.ExpiresAt, &t.CreatedAt); err != nil {
		return SpeedToken{}, err
	}
	t.Source = Source(source)
	return t, nil
}

func (p *PGStore) SpeedTokens(ctx context.Context, userID string) ([]SpeedToken, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM economy.speed_tokens
		WHERE user_id = $1
		ORDER BY created_at, id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SpeedToken
	for rows.Next() {
		t, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (p *PGStore) ConsumeSpeedToken(ctx context.Context, userID, tokenID string, now time.Time) (SpeedToken, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return SpeedToken{}, err
	}
	defer tx.Rollback(ctx)

	tok, err := scanToken(tx.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM economy.speed_tokens
		WHERE id = $1 AND user_id = $2
		FOR UPDATE
	`, tokenID, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return SpeedToken{}, ErrTokenNotFound
		}
		return SpeedToken{}, err
	}
	if !tok.Pending() {
		return SpeedToken{}, ErrTokenAlreadyUsed
	}
	w, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM economy.wallets WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return SpeedToken{}, err
	}

	usedAt := now
	expiresAt := now.Add(time.Duration(tok.DurationMinutes) * time.Minute)
	tok.UsedAt = &usedAt
	tok.ExpiresAt = &expiresAt
	if _, err := tx.Exec(ctx, `
		UPDATE economy.speed_tokens SET used_at = $2, expires_at = $3 WHERE id = $1
	`, tok.ID, usedAt, expiresAt); err != nil {
		return SpeedToken{}, err
	}

	next := applyTokenToBooster(w, tok, now)
	if _, err := tx.Exec(ctx, `
		UPDATE economy.wallets
		SET speed_booster_active = $2,
			speed_booster_multiplier = $3,
			speed_booster_expires_at = $4,
			speed_booster_activated_at = $5,
			speed_tick_last_processed_at = $6,
			speed_coins_per_tick = $7,
			speed_lives_per_tick = $8,
			updated_at = now()
		WHERE user_id = $1
	`, userID, next.SpeedBoosterActive, next.SpeedBoosterMultiplier, next.SpeedBoosterExpiresAt,
		next.SpeedBoosterActivatedAt, next.SpeedTickLastProcessedAt, next.SpeedCoinsPerTick, next.SpeedLivesPerTick); err != nil {
		return SpeedToken{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return SpeedToken{}, err
	}
	return tok, nil
}

func (p *PGStore) HasPeriodicAward(ctx context.Context, userID string, kind PeriodKind, periodKey string) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM economy.periodic_awards
			WHERE user_id = $1 AND period_kind = $2 AND period_key = $3
		)
	`, userID, string(kind), periodKey).Scan(&ok)
	return ok, err
}

func (p *PGStore) InsertPeriodicAward(ctx context.Context, a PeriodicAward) (bool, error) {
	cmd, err := p.db.Exec(ctx, `
		INSERT INTO economy.periodic_awards (user_id, period_kind, period_key, rank, ledger_key, awarded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (user_id, period_kind, period_key) DO NOTHING
	`, a.UserID, string(a.PeriodKind), a.PeriodKey, a.Rank, a.LedgerKey, a.AwardedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (p *PGStore) LedgerEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, user_id, delta_coins, delta_lives, coins_after, lives_after, source, idempotency_key, metadata, created_at
		FROM economy.ledger_entries
		WHERE user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var source string
		var meta []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.DeltaCoins, &e.DeltaLives, &e.CoinsAfter, &e.LivesAfter,
			&source, &e.IdempotencyKey, &meta, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Source = Source(source)
		e.Metadata = meta
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *PGStore) AdminAudits(ctx context.Context, userID string, limit int) ([]AdminAudit, error) {
	rows, err := p.db.Query(ctx, `
		SELECT id, admin_id, user_id, idempotency_key, coins_before, lives_before, coins_after, lives_after, reason, applied, created_at
		FROM economy.admin_audit
		WHERE $1 = '' OR user_id = $1
		ORDER BY id DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AdminAudit
	for rows.Next() {
		var a AdminAudit
		if err := rows.Scan(&a.ID, &a.AdminID, &a.UserID, &a.IdempotencyKey, &a.CoinsBefore, &a.LivesBefore,
			&a.CoinsAfter, &a.LivesAfter, &a.Reason, &a.Applied, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (p *PGStore) RecordScore(ctx context.Context, s Score) (bool, error) {
	cmd, err := p.db.Exec(ctx, `
		INSERT INTO economy.quiz_scores (round_key, user_id, score, played_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, round_key) DO NOTHING
	`, s.RoundKey, s.UserID, s.Score, s.PlayedAt)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() == 1, nil
}

func (p *PGStore) Top(ctx context.Context, period Period, limit int) ([]RankedUser, error) {
	rows, err := p.db.Query(ctx, `
		SELECT user_id, SUM(score)::bigint AS total
		FROM economy.quiz_scores
		WHERE played_at >= $1 AND played_at < $2
		GROUP BY user_id
		ORDER BY total DESC, MIN(played_at) ASC, user_id ASC
		LIMIT $3
	`, period.Start, period.End, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RankedUser
	for rows.Next() {
		var ru RankedUser
		if err := rows.Scan(&ru.UserID, &ru.Score); err != nil {
			return nil, err
		}
		ru.Rank = len(out) + 1
		out = append(out, ru)
	}
	return out, rows.Err()
}

func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
