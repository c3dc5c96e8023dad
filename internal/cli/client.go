package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dingleup/internal/economy"
)

// APIError is a non-2xx answer from the server.
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api status %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("api status %d: %s", e.Status, e.Message)
}

// Retryable reports whether a request may succeed if sent again later with
// the same idempotency key.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return true
	}
	return apiErr.Status >= 500 || apiErr.Status == http.StatusTooManyRequests
}

type Client struct {
	BaseURL string
	HTTP    *http.Client
	now     func() time.Time
}

func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// Wallet fetches the wallet view and measures clock drift against it.
func (c *Client) Wallet(ctx context.Context, userToken string) (economy.WalletView, Drift, error) {
	var out economy.WalletView
	sent := c.now()
	if err := c.jsonRequest(ctx, http.MethodGet, "/v1/wallet", userToken, nil, &out, ""); err != nil {
		return out, Drift{}, err
	}
	return out, EstimateDrift(sent, c.now(), out.ServerTime), nil
}

func (c *Client) Ledger(ctx context.Context, userToken string, limit int) ([]economy.LedgerEntry, error) {
	var out struct {
		Entries []economy.LedgerEntry `json:"entries"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, fmt.Sprintf("/v1/ledger?limit=%d", limit), userToken, nil, &out, "")
	return out.Entries, err
}

func (c *Client) SpeedTokens(ctx context.Context, userToken string) ([]economy.SpeedToken, error) {
	var out struct {
		Tokens []economy.SpeedToken `json:"tokens"`
	}
	err := c.jsonRequest(ctx, http.MethodGet, "/v1/speed-tokens", userToken, nil, &out, "")
	return out.Tokens, err
}

func (c *Client) ConsumeToken(ctx context.Context, userToken, tokenID string) (economy.SpeedToken, error) {
	var out struct {
		Token economy.SpeedToken `json:"token"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/speed-tokens/"+url.PathEscape(tokenID)+"/consume", userToken, nil, &out, "")
	return out.Token, err
}

func (c *Client) ActivatePremium(ctx context.Context, userToken string) (economy.ActivationResult, error) {
	var out economy.ActivationResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/boosters/premium/activate", userToken, nil, &out, "")
	return out, err
}

func sweepBody(now *time.Time) any {
	if now == nil {
		return nil
	}
	return map[string]any{"now": now.UTC()}
}

func (c *Client) SweepSpeedTick(ctx context.Context, sweepToken string, now *time.Time) (economy.SweepReport, error) {
	var out economy.SweepReport
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/internal/sweeps/speed-tick", sweepToken, sweepBody(now), &out, "")
	return out, err
}

func (c *Client) SweepRewards(ctx context.Context, sweepToken string, kind economy.PeriodKind, now *time.Time) (economy.DistributionReport, error) {
	var out economy.DistributionReport
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/internal/sweeps/rewards/"+url.PathEscape(string(kind)), sweepToken, sweepBody(now), &out, "")
	return out, err
}

func (c *Client) AdminLogin(ctx context.Context, adminID, password string) (string, time.Time, error) {
	var out struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/login", "", map[string]any{
		"admin_id": adminID,
		"password": password,
	}, &out, "")
	return out.Token, out.ExpiresAt, err
}

type AdminCreditRequest struct {
	UserID     string `json:"user_id"`
	DeltaCoins int64  `json:"delta_coins"`
	DeltaLives int64  `json:"delta_lives"`
	Reason     string `json:"reason"`
}

func (c *Client) AdminCredit(ctx context.Context, adminToken string, in AdminCreditRequest, idem string) (economy.CreditResult, error) {
	var out economy.CreditResult
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/credits", adminToken, in, &out, idem)
	return out, err
}

func (c *Client) AdminAudit(ctx context.Context, adminToken, userID string, limit int) ([]economy.AdminAudit, error) {
	var out struct {
		Audits []economy.AdminAudit `json:"audits"`
	}
	path := fmt.Sprintf("/v1/admin/users/%s/audit?limit=%d", url.PathEscape(userID), limit)
	err := c.jsonRequest(ctx, http.MethodGet, path, adminToken, nil, &out, "")
	return out.Audits, err
}

func (c *Client) SetTier(ctx context.Context, adminToken, userID string, tier economy.Tier) (economy.Wallet, error) {
	var out economy.Wallet
	err := c.jsonRequest(ctx, http.MethodPost, "/v1/admin/users/"+url.PathEscape(userID)+"/tier", adminToken, map[string]any{
		"tier": tier,
	}, &out, "")
	return out, err
}

// Do sends a raw request; used to replay queued commands.
func (c *Client) Do(ctx context.Context, method, path, accessToken string, body any, idem string) (map[string]any, error) {
	var out map[string]any
	err := c.jsonRequest(ctx, method, path, accessToken, body, &out, idem)
	return out, err
}

func (c *Client) jsonRequest(ctx context.Context, method, path, accessToken string, in any, out any, idem string) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := &APIError{Status: resp.StatusCode, Message: strings.TrimSpace(string(raw))}
		var payload struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		if json.Unmarshal(raw, &payload) == nil && payload.Error != "" {
			apiErr.Code, apiErr.Message = payload.Code, payload.Error
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
