package leaderboard

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dingleup/internal/economy"
)

// Board keeps one sorted set per period: leaderboard:{kind}:{key}.
type Board struct {
	client *redis.Client
	ttl    time.Duration
}

func New(client *redis.Client) *Board {
	return &Board{client: client, ttl: 15 * 24 * time.Hour}
}

func periodKey(p economy.Period) string {
	return fmt.Sprintf("leaderboard:%s:%s", p.Kind, p.Key)
}

func (b *Board) AddScore(ctx context.Context, p economy.Period, userID string, score int64) error {
	key := periodKey(p)
	pipe := b.client.TxPipeline()
	pipe.ZIncrBy(ctx, key, float64(score), userID)
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard add %s: %w", key, err)
	}
	return nil
}

// Top ranks by score descending; ties keep Redis member order.
func (b *Board) Top(ctx context.Context, p economy.Period, limit int) ([]economy.RankedUser, error) {
	if limit <= 0 {
		return nil, nil
	}
	zs, err := b.client.ZRevRangeWithScores(ctx, periodKey(p), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard top: %w", err)
	}
	out := make([]economy.RankedUser, 0, len(zs))
	for i, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		out = append(out, economy.RankedUser{UserID: member, Rank: i + 1, Score: int64(z.Score)})
	}
	return out, nil
}
