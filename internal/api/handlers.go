package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"dingleup/internal/auth"
	"dingleup/internal/economy"

	"github.com/go-chi/chi/v5"
)

func (s *Server) handlePaymentConfirm(w http.ResponseWriter, r *http.Request) {
	var in economy.PurchaseConfirmation
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	out, err := s.econ.ConfirmPurchase(r.Context(), in)
	if err != nil {
		s.log.Error("purchase confirmation failed", "user_id", in.UserID, "transaction_id", in.TransactionID, "err", err)
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type sweepRequest struct {
	Now *time.Time `json:"now"`
}

func (s *Server) sweepTime(r *http.Request) (time.Time, error) {
	var in sweepRequest
	if err := decodeOptionalJSON(r, &in); err != nil {
		return time.Time{}, err
	}
	if in.Now == nil || in.Now.IsZero() {
		return s.econ.Now(), nil
	}
	return in.Now.UTC(), nil
}

func (s *Server) handleSpeedTickSweep(w http.ResponseWriter, r *http.Request) {
	now, err := s.sweepTime(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	report, err := s.econ.RunSpeedTick(r.Context(), now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleRewardSweep(w http.ResponseWriter, r *http.Request) {
	kind, err := economy.ParsePeriodKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	now, err := s.sweepTime(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	report, err := s.econ.RunPeriodicRewards(r.Context(), kind, now)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		AdminID  string `json:"admin_id"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	token, exp, err := s.admin.Login(in.AdminID, in.Password)
	switch {
	case errors.Is(err, auth.ErrAdminDisabled):
		writeError(w, http.StatusNotFound, "ADMIN_DISABLED", err.Error())
		return
	case err != nil:
		s.log.Warn("admin login rejected", "admin_id", in.AdminID)
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid credentials")
		return
	}
	s.log.Info("admin login", "admin_id", in.AdminID, "expires_at", exp)
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "expires_at": exp})
}

func (s *Server) handleAdminCredit(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID     string `json:"user_id"`
		DeltaCoins int64  `json:"delta_coins"`
		DeltaLives int64  `json:"delta_lives"`
		Reason     string `json:"reason"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	key := idempotencyKey(r)
	if key == "" {
		writeError(w, http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", "Idempotency-Key header is required")
		return
	}
	res, err := s.econ.AdminCredit(r.Context(), economy.AdminCreditInput{
		AdminID:        adminFromContext(r.Context()),
		UserID:         strings.TrimSpace(in.UserID),
		DeltaCoins:     in.DeltaCoins,
		DeltaLives:     in.DeltaLives,
		Reason:         in.Reason,
		IdempotencyKey: key,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAdminAudit(w http.ResponseWriter, r *http.Request) {
	rows, err := s.econ.AdminAudits(r.Context(), chi.URLParam(r, "user_id"), queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": rows})
}

func (s *Server) handleAdminLedger(w http.ResponseWriter, r *http.Request) {
	rows, err := s.econ.Ledger(r.Context(), chi.URLParam(r, "user_id"), queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rows})
}

func (s *Server) handleSetTier(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Tier economy.Tier `json:"tier"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	wallet, err := s.econ.SetSubscriptionTier(r.Context(), chi.URLParam(r, "user_id"), in.Tier)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	s.log.Info("admin tier change", "admin_id", adminFromContext(r.Context()), "user_id", wallet.UserID, "tier", wallet.SubscriptionTier)
	writeJSON(w, http.StatusOK, wallet)
}

func (s *Server) handleEnsureAccount(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	wallet, created, err := s.econ.EnsureWallet(r.Context(), user.UserID, economy.TierFree)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, wallet)
}

func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	view, err := s.econ.View(r.Context(), user.UserID, s.econ.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleLedger(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	rows, err := s.econ.Ledger(r.Context(), user.UserID, queryLimit(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": rows})
}

func (s *Server) handleActivatePremium(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	out, err := s.econ.ActivatePremium(r.Context(), user.UserID)
	if err != nil {
		status, code, known := domainError(err)
		if !known || errors.Is(err, economy.ErrTxConflict) {
			// retryable: the pending flag is still set
			s.log.Error("premium activation failed", "user_id", user.UserID, "err", err)
			status, code = http.StatusServiceUnavailable, "ACTIVATION_FAILED"
		}
		writeError(w, status, code, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSpeedTokens(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	tokens, err := s.econ.SpeedTokens(r.Context(), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens})
}

func (s *Server) handleConsumeToken(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	tok, err := s.econ.ConsumeToken(r.Context(), user.UserID, chi.URLParam(r, "id"), s.econ.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

func (s *Server) handleSpendLife(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	var in struct {
		RoundKey string `json:"round_key"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	res, err := s.econ.SpendLife(r.Context(), user.UserID, strings.TrimSpace(in.RoundKey), s.econ.Now())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSpendCoins(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	var in struct {
		Amount int64  `json:"amount"`
		Ref    string `json:"ref"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	res, err := s.econ.SpendCoins(r.Context(), user.UserID, in.Amount, strings.TrimSpace(in.Ref))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleRecordScore is called by the gameplay service when a round ends.
func (s *Server) handleRecordScore(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID   string     `json:"user_id"`
		RoundKey string     `json:"round_key"`
		Score    int64      `json:"score"`
		PlayedAt *time.Time `json:"played_at"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	sc := economy.Score{
		UserID:   strings.TrimSpace(in.UserID),
		RoundKey: strings.TrimSpace(in.RoundKey),
		Score:    in.Score,
		PlayedAt: s.econ.Now(),
	}
	if in.PlayedAt != nil {
		sc.PlayedAt = in.PlayedAt.UTC()
	}
	inserted, err := s.econ.RecordScore(r.Context(), sc)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"recorded": inserted})
}

func (s *Server) handleReferral(w http.ResponseWriter, r *http.Request) {
	user, err := userFromContext(r.Context())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", err.Error())
		return
	}
	var in struct {
		ReferrerID string `json:"referrer_id"`
	}
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_REQUEST", err.Error())
		return
	}
	res, err := s.econ.ReferralBonus(r.Context(), strings.TrimSpace(in.ReferrerID), user.UserID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
