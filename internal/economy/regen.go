package economy

import (
	"context"
	"errors"
	"time"
)

const maxRegenAttempts = 3

// Regenerate credits the lives owed since lastLifeRegenAt and returns the
// wallet as stored afterwards. Losing the timestamp race to another reader
// is not an error.
func (s *Service) Regenerate(ctx context.Context, userID string, now time.Time) (Wallet, error) {
	for attempt := 0; attempt < maxRegenAttempts; attempt++ {
		w, err := s.store.Wallet(ctx, userID)
		if err != nil {
			return Wallet{}, err
		}
		interval := s.regenInterval(w)
		lives, boundary := RegenDue(w, interval, now)
		if lives == 0 {
			return w, nil
		}

		_, err = s.Credit(ctx, CreditRequest{
			UserID:         userID,
			DeltaLives:     lives,
			Source:         SourceRegen,
			IdempotencyKey: RegenKey(userID, boundary),
			Metadata:       RegenMeta{From: w.LastLifeRegenAt.UTC(), To: boundary.UTC(), Interval: int64(interval / time.Second)},
			Effects: Effects{
				RegenAdvance: &RegenAdvance{From: w.LastLifeRegenAt, To: boundary},
			},
		})
		if errors.Is(err, errStaleRegen) {
			continue
		}
		if err != nil {
			return Wallet{}, err
		}
		return s.store.Wallet(ctx, userID)
	}
	return s.store.Wallet(ctx, userID)
}
