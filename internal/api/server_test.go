package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dingleup/internal/auth"
	"dingleup/internal/config"
	"dingleup/internal/economy"
)

var fixedNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

type fakeVerifier map[string]string

func (f fakeVerifier) VerifyAccessToken(_ context.Context, token string) (auth.SupabaseUser, error) {
	id, ok := f[token]
	if !ok {
		return auth.SupabaseUser{}, auth.ErrInvalidToken
	}
	return auth.SupabaseUser{ID: id}, nil
}

type testEnv struct {
	srv   *httptest.Server
	store *economy.MemoryStore
}

func newTestEnv(t *testing.T, admin *auth.AdminAuth, mutate func(*config.APIConfig)) *testEnv {
	t.Helper()
	cfg := config.APIConfig{
		SweepToken:          "sweep-secret",
		PaymentWebhookToken: "hook-secret",
		GameplayToken:       "game-secret",
		UserRequestsPerSec:  100,
		UserRequestBurst:    100,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := economy.NewMemoryStore()
	econ := economy.NewService(store, logger, economy.DefaultSettings(), economy.WithClock(func() time.Time { return fixedNow }))
	users := fakeVerifier{"tok-alice": "alice", "tok-bob": "bob"}
	srv := httptest.NewServer(New(cfg, logger, users, admin, econ).Handler())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any, headers map[string]string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	out := map[string]any{}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	status, out := env.do(t, http.MethodGet, "/healthz", "", nil, nil)
	if status != http.StatusOK || out["ok"] != true {
		t.Fatalf("healthz got=%d %v", status, out)
	}
}

func TestPaymentConfirmIsIdempotent(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if status, _ := env.do(t, http.MethodPost, "/v1/accounts", "tok-alice", nil, nil); status != http.StatusCreated {
		t.Fatalf("create account status=%d", status)
	}
	body := map[string]any{"user_id": "alice", "booster_code": "coins_300", "transaction_id": "tx-1"}

	if status, _ := env.do(t, http.MethodPost, "/v1/payments/confirm", "sweep-secret", body, nil); status != http.StatusUnauthorized {
		t.Fatalf("sweep secret must not confirm payments, got=%d", status)
	}
	status, out := env.do(t, http.MethodPost, "/v1/payments/confirm", "hook-secret", body, nil)
	if status != http.StatusOK || out["coins"] != float64(400) || out["applied"] != true {
		t.Fatalf("first confirm got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/payments/confirm", "hook-secret", body, nil)
	if status != http.StatusOK || out["coins"] != float64(400) || out["applied"] != false {
		t.Fatalf("replayed confirm got=%d %v", status, out)
	}
}

func TestPaymentConfirmErrors(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{name: "unknown wallet", body: map[string]any{"user_id": "nobody", "booster_code": "coins_300", "transaction_id": "tx-2"}, status: http.StatusNotFound, code: "WALLET_NOT_FOUND"},
		{name: "unknown booster", body: map[string]any{"user_id": "alice", "booster_code": "gold_bar", "transaction_id": "tx-3"}, status: http.StatusBadRequest, code: "UNKNOWN_BOOSTER"},
		{name: "bad transaction id", body: map[string]any{"user_id": "alice", "booster_code": "coins_300", "transaction_id": "tx 4"}, status: http.StatusBadRequest, code: "INVALID_IDEMPOTENCY_KEY"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, out := env.do(t, http.MethodPost, "/v1/payments/confirm", "hook-secret", tc.body, nil)
			if status != tc.status || out["code"] != tc.code {
				t.Fatalf("got=%d %v", status, out)
			}
		})
	}
}

func TestWalletRequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if status, _ := env.do(t, http.MethodGet, "/v1/wallet", "", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("missing token got=%d", status)
	}
	if status, _ := env.do(t, http.MethodGet, "/v1/wallet", "tok-mallory", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("unknown token got=%d", status)
	}
	status, out := env.do(t, http.MethodGet, "/v1/wallet", "tok-bob", nil, nil)
	if status != http.StatusNotFound || out["code"] != "WALLET_NOT_FOUND" {
		t.Fatalf("wallet before account got=%d %v", status, out)
	}
}

func TestWalletView(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.store.PutWallet(economy.Wallet{
		UserID:              "alice",
		Coins:               50,
		Lives:               2,
		MaxLives:            5,
		SubscriptionTier:    economy.TierFree,
		LastLifeRegenAt:     fixedNow.Add(-25 * time.Minute),
		TickIntervalSeconds: 60,
	})
	status, out := env.do(t, http.MethodGet, "/v1/wallet", "tok-alice", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("wallet status=%d %v", status, out)
	}
	if out["lives"] != float64(3) || out["coins"] != float64(50) {
		t.Fatalf("regen not applied: %v", out)
	}
	if out["next_life_at"] != fixedNow.Add(15*time.Minute).Format(time.RFC3339) {
		t.Fatalf("next_life_at got=%v", out["next_life_at"])
	}
	if out["regen_interval_seconds"] != float64(1200) {
		t.Fatalf("interval got=%v", out["regen_interval_seconds"])
	}
}

func TestSweepEndpoints(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	if status, _ := env.do(t, http.MethodPost, "/v1/internal/sweeps/speed-tick", "hook-secret", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("webhook secret must not run sweeps, got=%d", status)
	}
	status, out := env.do(t, http.MethodPost, "/v1/internal/sweeps/speed-tick", "sweep-secret", nil, nil)
	if status != http.StatusOK || out["wallets"] != float64(0) {
		t.Fatalf("speed tick got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/internal/sweeps/rewards/daily", "sweep-secret",
		map[string]any{"now": "2026-03-05T00:05:00Z"}, nil)
	if status != http.StatusOK {
		t.Fatalf("daily rewards got=%d %v", status, out)
	}
	period, _ := out["period"].(map[string]any)
	if period["key"] != "2026-03-04" {
		t.Fatalf("closed period got=%v", out["period"])
	}
	if status, _ := env.do(t, http.MethodPost, "/v1/internal/sweeps/rewards/monthly", "sweep-secret", nil, nil); status != http.StatusBadRequest {
		t.Fatalf("unknown kind got=%d", status)
	}
}

func TestPremiumActivationFlow(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.do(t, http.MethodPost, "/v1/accounts", "tok-alice", nil, nil)

	status, out := env.do(t, http.MethodPost, "/v1/boosters/premium/activate", "tok-alice", nil, nil)
	if status != http.StatusConflict || out["code"] != "NO_PENDING_PREMIUM" {
		t.Fatalf("activate without purchase got=%d %v", status, out)
	}

	purchase := map[string]any{"user_id": "alice", "booster_code": "premium", "transaction_id": "tx-premium"}
	if status, out := env.do(t, http.MethodPost, "/v1/payments/confirm", "hook-secret", purchase, nil); status != http.StatusOK {
		t.Fatalf("premium purchase got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/boosters/premium/activate", "tok-alice", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("activate got=%d %v", status, out)
	}
	tokens, _ := out["tokens"].([]any)
	if len(tokens) != 3 {
		t.Fatalf("tokens got=%v", out["tokens"])
	}

	id := tokens[0].(map[string]any)["id"].(string)
	status, out = env.do(t, http.MethodPost, "/v1/speed-tokens/"+id+"/consume", "tok-alice", nil, nil)
	if status != http.StatusOK {
		t.Fatalf("consume got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/speed-tokens/"+id+"/consume", "tok-alice", nil, nil)
	if status != http.StatusConflict || out["code"] != "TOKEN_ALREADY_USED" {
		t.Fatalf("second consume got=%d %v", status, out)
	}
	if status, out := env.do(t, http.MethodPost, "/v1/speed-tokens/"+id+"/consume", "tok-bob", nil, nil); status != http.StatusNotFound {
		t.Fatalf("foreign token got=%d %v", status, out)
	}

	status, out = env.do(t, http.MethodGet, "/v1/wallet", "tok-alice", nil, nil)
	if status != http.StatusOK || out["speed_booster"] == nil || out["active_speed_token"] == nil {
		t.Fatalf("wallet after consume got=%d %v", status, out)
	}
}

func TestSpendLifeAndLedger(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	env.store.PutWallet(economy.Wallet{
		UserID:              "alice",
		Coins:               10,
		Lives:               1,
		MaxLives:            5,
		SubscriptionTier:    economy.TierFree,
		LastLifeRegenAt:     fixedNow,
		TickIntervalSeconds: 60,
	})
	status, out := env.do(t, http.MethodPost, "/v1/lives/spend", "tok-alice", map[string]any{"round_key": "r1"}, nil)
	if status != http.StatusOK || out["lives"] != float64(0) {
		t.Fatalf("spend got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/lives/spend", "tok-alice", map[string]any{"round_key": "r2"}, nil)
	if status != http.StatusConflict || out["code"] != "INSUFFICIENT_BALANCE" {
		t.Fatalf("spend without lives got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/coins/spend", "tok-alice", map[string]any{"amount": 0, "ref": "hint-1"}, nil)
	if status != http.StatusBadRequest || out["code"] != "INVALID_AMOUNT" {
		t.Fatalf("zero spend got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodGet, "/v1/ledger?limit=10", "tok-alice", nil, nil)
	entries, _ := out["entries"].([]any)
	if status != http.StatusOK || len(entries) != 1 {
		t.Fatalf("ledger got=%d %v", status, out)
	}
}

func TestUnknownFieldsRejected(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	body := map[string]any{"user_id": "alice", "booster_code": "coins_300", "transaction_id": "tx-9", "coins": 1e6}
	if status, _ := env.do(t, http.MethodPost, "/v1/payments/confirm", "hook-secret", body, nil); status != http.StatusBadRequest {
		t.Fatalf("unknown field got=%d", status)
	}
}

func TestUserThrottle(t *testing.T) {
	env := newTestEnv(t, nil, func(c *config.APIConfig) {
		c.UserRequestsPerSec = 0.001
		c.UserRequestBurst = 1
	})
	if status, _ := env.do(t, http.MethodPost, "/v1/accounts", "tok-alice", nil, nil); status != http.StatusCreated {
		t.Fatalf("first request got=%d", status)
	}
	status, out := env.do(t, http.MethodGet, "/v1/wallet", "tok-alice", nil, nil)
	if status != http.StatusTooManyRequests || out["code"] != "RATE_LIMITED" {
		t.Fatalf("throttled request got=%d %v", status, out)
	}
	if status, _ := env.do(t, http.MethodPost, "/v1/accounts", "tok-bob", nil, nil); status != http.StatusCreated {
		t.Fatalf("other user should not be throttled, got=%d", status)
	}
}

func TestAdminLoginAndCredit(t *testing.T) {
	hash, err := auth.HashArgon2id("correct horse")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	admin := auth.NewAdminAuth([]string{"ops-1"}, hash, "0123456789abcdef0123456789abcdef", time.Hour)
	env := newTestEnv(t, admin, nil)
	env.do(t, http.MethodPost, "/v1/accounts", "tok-alice", nil, nil)

	if status, _ := env.do(t, http.MethodPost, "/v1/admin/login", "", map[string]any{"admin_id": "ops-1", "password": "wrong"}, nil); status != http.StatusUnauthorized {
		t.Fatalf("wrong password got=%d", status)
	}
	status, out := env.do(t, http.MethodPost, "/v1/admin/login", "", map[string]any{"admin_id": "ops-1", "password": "correct horse"}, nil)
	token, _ := out["token"].(string)
	if status != http.StatusOK || token == "" {
		t.Fatalf("login got=%d %v", status, out)
	}

	credit := map[string]any{"user_id": "alice", "delta_coins": 25, "reason": "support ticket 42"}
	if status, _ := env.do(t, http.MethodPost, "/v1/admin/credits", "tok-alice", credit, map[string]string{"Idempotency-Key": "adm-1"}); status != http.StatusUnauthorized {
		t.Fatalf("player token must not reach admin routes, got=%d", status)
	}
	status, out = env.do(t, http.MethodPost, "/v1/admin/credits", token, credit, nil)
	if status != http.StatusBadRequest || out["code"] != "INVALID_IDEMPOTENCY_KEY" {
		t.Fatalf("missing key got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/admin/credits", token, credit, map[string]string{"Idempotency-Key": "adm-1"})
	if status != http.StatusOK || out["coins"] != float64(125) {
		t.Fatalf("credit got=%d %v", status, out)
	}

	status, out = env.do(t, http.MethodGet, "/v1/admin/users/alice/audit", token, nil, nil)
	audits, _ := out["audits"].([]any)
	if status != http.StatusOK || len(audits) != 1 {
		t.Fatalf("audit got=%d %v", status, out)
	}
	row := audits[0].(map[string]any)
	if row["admin_id"] != "ops-1" || row["coins_before"] != float64(100) || row["coins_after"] != float64(125) {
		t.Fatalf("audit row got=%v", row)
	}
}

func TestAdminDisabled(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	status, out := env.do(t, http.MethodPost, "/v1/admin/login", "", map[string]any{"admin_id": "ops-1", "password": "x"}, nil)
	if status != http.StatusNotFound || out["code"] != "ADMIN_DISABLED" {
		t.Fatalf("disabled login got=%d %v", status, out)
	}
	if status, _ := env.do(t, http.MethodGet, "/v1/admin/users/alice/audit", "anything", nil, nil); status != http.StatusUnauthorized {
		t.Fatalf("disabled admin routes got=%d", status)
	}
}

func TestScoresComeFromGameplayService(t *testing.T) {
	env := newTestEnv(t, nil, nil)
	body := map[string]any{"user_id": "alice", "round_key": "round-1", "score": 5000}

	for _, token := range []string{"tok-alice", "hook-secret", ""} {
		if status, _ := env.do(t, http.MethodPost, "/v1/gameplay/scores", token, body, nil); status != http.StatusUnauthorized {
			t.Fatalf("token %q got=%d", token, status)
		}
	}
	if status, _ := env.do(t, http.MethodPost, "/v1/scores", "tok-alice", body, nil); status != http.StatusNotFound {
		t.Fatalf("players must not post scores, got=%d", status)
	}

	status, out := env.do(t, http.MethodPost, "/v1/gameplay/scores", "game-secret", body, nil)
	if status != http.StatusOK || out["recorded"] != true {
		t.Fatalf("record got=%d %v", status, out)
	}
	status, out = env.do(t, http.MethodPost, "/v1/gameplay/scores", "game-secret", body, nil)
	if status != http.StatusOK || out["recorded"] != false {
		t.Fatalf("replayed round got=%d %v", status, out)
	}
	bob := map[string]any{"user_id": "bob", "round_key": "round-1", "score": 10}
	status, out = env.do(t, http.MethodPost, "/v1/gameplay/scores", "game-secret", bob, nil)
	if status != http.StatusOK || out["recorded"] != true {
		t.Fatalf("round keys are per user, got=%d %v", status, out)
	}
}
