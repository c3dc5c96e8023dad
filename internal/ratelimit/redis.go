package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Redis keeps a sliding window per key in a sorted set scored by request
// time, so every API replica shares one budget.
type Redis struct {
	client *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewRedis(client *redis.Client, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, now: time.Now}
}

func windowKey(key string) string {
	return "ratelimit:" + key
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	k := windowKey(key)
	now := r.now().UTC()
	cutoff := now.Add(-r.window).UnixMicro()
	member := uuid.NewString()

	pipe := r.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, k, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.ZAdd(ctx, k, redis.Z{Score: float64(now.UnixMicro()), Member: member})
	card := pipe.ZCard(ctx, k)
	pipe.PExpire(ctx, k, r.window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit window: %w", err)
	}
	if card.Val() <= int64(r.limit) {
		return true, nil
	}
	// denied attempts do not count against the budget
	if err := r.client.ZRem(ctx, k, member).Err(); err != nil {
		return false, fmt.Errorf("rate limit release: %w", err)
	}
	return false, nil
}
