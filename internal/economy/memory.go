package economy

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. It is used for local runs
// without Postgres and by tests.
type MemoryStore struct {
	mu      sync.Mutex
	wallets map[string]Wallet
	ledger  []LedgerEntry
	keys    map[string]int
	tokens  map[string]SpeedToken
	awards  map[string]PeriodicAward
	audits  []AdminAudit
	scores  map[string]Score

	// FailCredit, when set, is consulted before each credit; a non-nil error aborts it.
	FailCredit func(req CreditRequest) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets: map[string]Wallet{},
		keys:    map[string]int{},
		tokens:  map[string]SpeedToken{},
		awards:  map[string]PeriodicAward{},
		scores:  map[string]Score{},
	}
}

// PutWallet overwrites a wallet row as-is.
func (m *MemoryStore) PutWallet(w Wallet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[w.UserID] = w
}

func (m *MemoryStore) CreateWallet(_ context.Context, w Wallet) (Wallet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.wallets[w.UserID]; ok {
		return cur, false, nil
	}
	if w.SpeedBoosterMultiplier < 1 {
		w.SpeedBoosterMultiplier = 1
	}
	m.wallets[w.UserID] = w
	return w, true, nil
}

func (m *MemoryStore) Wallet(_ context.Context, userID string) (Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok {
		return Wallet{}, ErrWalletNotFound
	}
	return w, nil
}

func (m *MemoryStore) ApplyCredit(_ context.Context, req CreditRequest, now time.Time) (CreditResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[req.UserID]
	if !ok {
		return CreditResult{}, ErrWalletNotFound
	}
	if _, dup := m.keys[req.IdempotencyKey]; dup {
		return CreditResult{Balances: Balances{Coins: w.Coins, Lives: w.Lives}}, nil
	}
	if m.FailCredit != nil {
		if err := m.FailCredit(req); err != nil {
			return CreditResult{}, err
		}
	}
	if adv := req.Effects.RegenAdvance; adv != nil && !w.LastLifeRegenAt.Equal(adv.From) {
		return CreditResult{}, errStaleRegen
	}
	if req.Effects.ConsumePremiumPending {
		if !w.HasPendingPremiumBooster {
			return CreditResult{}, ErrNoPendingPremium
		}
		if id := req.Effects.PremiumPurchaseEntryID; id != 0 && id != w.PremiumPurchaseEntryID {
			return CreditResult{}, errStalePremium
		}
	}

	maxLives := w.MaxLives
	if tc := req.Effects.SetTier; tc != nil {
		maxLives = tc.MaxLives
	}
	coins := w.Coins + req.DeltaCoins
	if coins < 0 {
		return CreditResult{}, ErrInsufficientBalance
	}
	lives, ok := clampLives(w.Lives, req.DeltaLives, maxLives)
	if !ok {
		return CreditResult{}, ErrInsufficientBalance
	}

	before := w
	entryID := int64(len(m.ledger) + 1)
	wasFull := w.Lives >= w.MaxLives
	w.Coins, w.Lives, w.MaxLives = coins, lives, maxLives
	switch {
	case req.Effects.RegenAdvance != nil:
		w.LastLifeRegenAt = req.Effects.RegenAdvance.To
	case wasFull && lives < maxLives:
		w.LastLifeRegenAt = now
	}
	if tc := req.Effects.SetTier; tc != nil {
		w.SubscriptionTier = tc.Tier
	}
	if req.Effects.MarkPremiumPending {
		w.HasPendingPremiumBooster = true
		at := now
		w.LastPremiumPurchaseAt = &at
		w.PremiumPurchaseEntryID = entryID
	}
	if req.Effects.ConsumePremiumPending {
		w.HasPendingPremiumBooster = false
	}
	w.UpdatedAt = now

	entry := LedgerEntry{
		ID:             entryID,
		UserID:         req.UserID,
		DeltaCoins:     req.DeltaCoins,
		DeltaLives:     lives - before.Lives,
		CoinsAfter:     coins,
		LivesAfter:     lives,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		Metadata:       append(json.RawMessage(nil), req.meta...),
		CreatedAt:      now,
	}
	m.ledger = append(m.ledger, entry)
	m.keys[req.IdempotencyKey] = len(m.ledger) - 1
	m.wallets[req.UserID] = w
	for _, t := range req.Effects.GrantTokens {
		m.tokens[t.ID] = t
	}
	if a := req.Effects.Audit; a != nil {
		m.audits = append(m.audits, AdminAudit{
			ID:             int64(len(m.audits) + 1),
			AdminID:        a.AdminID,
			UserID:         req.UserID,
			IdempotencyKey: req.IdempotencyKey,
			CoinsBefore:    before.Coins,
			LivesBefore:    before.Lives,
			CoinsAfter:     coins,
			LivesAfter:     lives,
			Reason:         a.Reason,
			Applied:        true,
			CreatedAt:      now,
		})
	}
	return CreditResult{
		Balances:   Balances{Coins: coins, Lives: lives},
		Applied:    true,
		EntryID:    entry.ID,
		DeltaLives: entry.DeltaLives,
	}, nil
}

func (m *MemoryStore) ActiveSpeedBoosters(_ context.Context) ([]Wallet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Wallet
	for _, w := range m.wallets {
		if w.SpeedBoosterActive {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (m *MemoryStore) DeactivateSpeedBooster(_ context.Context, userID string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok || !w.SpeedBoosterActive || !sameInstant(w.SpeedBoosterExpiresAt, expiresAt) {
		return false, nil
	}
	m.wallets[userID] = clearSpeedBooster(w)
	return true, nil
}

func (m *MemoryStore) AdvanceSpeedTick(_ context.Context, userID string, from, to time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.wallets[userID]
	if !ok || !w.SpeedBoosterActive {
		return false, nil
	}
	last, ok := w.lastTick()
	if !ok || !last.Equal(from) {
		return false, nil
	}
	w.SpeedTickLastProcessedAt = &to
	m.wallets[userID] = w
	return true, nil
}

func (m *MemoryStore) SpeedTokens(_ context.Context, userID string) ([]SpeedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SpeedToken
	for _, t := range m.tokens {
		if t.UserID == userID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (m *MemoryStore) ConsumeSpeedToken(_ context.Context, userID, tokenID string, now time.Time) (SpeedToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tokens[tokenID]
	if !ok || tok.UserID != userID {
		return SpeedToken{}, ErrTokenNotFound
	}
	if !tok.Pending() {
		return SpeedToken{}, ErrTokenAlreadyUsed
	}
	w, ok := m.wallets[userID]
	if !ok {
		return SpeedToken{}, ErrWalletNotFound
	}
	usedAt := now
	expiresAt := now.Add(time.Duration(tok.DurationMinutes) * time.Minute)
	tok.UsedAt = &usedAt
	tok.ExpiresAt = &expiresAt
	m.tokens[tokenID] = tok
	m.wallets[userID] = applyTokenToBooster(w, tok, now)
	return tok, nil
}

func awardKey(userID string, kind PeriodKind, periodKey string) string {
	return userID + "|" + string(kind) + "|" + periodKey
}

func (m *MemoryStore) HasPeriodicAward(_ context.Context, userID string, kind PeriodKind, periodKey string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.awards[awardKey(userID, kind, periodKey)]
	return ok, nil
}

func (m *MemoryStore) InsertPeriodicAward(_ context.Context, a PeriodicAward) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := awardKey(a.UserID, a.PeriodKind, a.PeriodKey)
	if _, ok := m.awards[k]; ok {
		return false, nil
	}
	m.awards[k] = a
	return true, nil
}

func (m *MemoryStore) LedgerEntries(_ context.Context, userID string, limit int) ([]LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []LedgerEntry
	for i := len(m.ledger) - 1; i >= 0 && len(out) < limit; i-- {
		if m.ledger[i].UserID == userID {
			out = append(out, m.ledger[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) AdminAudits(_ context.Context, userID string, limit int) ([]AdminAudit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AdminAudit
	for i := len(m.audits) - 1; i >= 0 && len(out) < limit; i-- {
		if userID == "" || m.audits[i].UserID == userID {
			out = append(out, m.audits[i])
		}
	}
	return out, nil
}

func (m *MemoryStore) RecordScore(_ context.Context, s Score) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := s.UserID + "|" + s.RoundKey
	if _, ok := m.scores[k]; ok {
		return false, nil
	}
	m.scores[k] = s
	return true, nil
}

func (m *MemoryStore) Top(_ context.Context, p Period, limit int) ([]RankedUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	totals := map[string]int64{}
	first := map[string]time.Time{}
	for _, s := range m.scores {
		if s.PlayedAt.Before(p.Start) || !s.PlayedAt.Before(p.End) {
			continue
		}
		totals[s.UserID] += s.Score
		if f, ok := first[s.UserID]; !ok || s.PlayedAt.Before(f) {
			first[s.UserID] = s.PlayedAt
		}
	}
	users := make([]string, 0, len(totals))
	for u := range totals {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool {
		a, b := users[i], users[j]
		if totals[a] != totals[b] {
			return totals[a] > totals[b]
		}
		if !first[a].Equal(first[b]) {
			return first[a].Before(first[b])
		}
		return a < b
	})
	if limit > 0 && len(users) > limit {
		users = users[:limit]
	}
	out := make([]RankedUser, 0, len(users))
	for i, u := range users {
		out = append(out, RankedUser{UserID: u, Rank: i + 1, Score: totals[u]})
	}
	return out, nil
}

// Entries returns every ledger entry in insertion order.
func (m *MemoryStore) Entries() []LedgerEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]LedgerEntry(nil), m.ledger...)
}

func sameInstant(p *time.Time, t time.Time) bool {
	if p == nil {
		return t.IsZero()
	}
	return p.Equal(t)
}

func clearSpeedBooster(w Wallet) Wallet {
	w.SpeedBoosterActive = false
	w.SpeedBoosterMultiplier = 1
	w.SpeedBoosterExpiresAt = nil
	w.SpeedBoosterActivatedAt = nil
	w.SpeedTickLastProcessedAt = nil
	w.SpeedCoinsPerTick = 0
	w.SpeedLivesPerTick = 0
	return w
}
