package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dingleup/internal/auth"
	"dingleup/internal/config"
	"dingleup/internal/economy"
	"dingleup/internal/ratelimit"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type contextKey string

const (
	userContextKey  contextKey = "user"
	adminContextKey contextKey = "admin"
)

type UserContext struct {
	UserID string
	Email  string
}

// TokenVerifier resolves a player bearer token to a user.
type TokenVerifier interface {
	VerifyAccessToken(ctx context.Context, accessToken string) (auth.SupabaseUser, error)
}

type Server struct {
	cfg      config.APIConfig
	log      *slog.Logger
	users    TokenVerifier
	admin    *auth.AdminAuth
	econ     *economy.Service
	throttle *ratelimit.Throttle
	mux      *chi.Mux
}

func New(cfg config.APIConfig, logger *slog.Logger, users TokenVerifier, admin *auth.AdminAuth, econ *economy.Service) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:      cfg,
		log:      logger,
		users:    users,
		admin:    admin,
		econ:     econ,
		throttle: ratelimit.NewThrottle(cfg.UserRequestsPerSec, cfg.UserRequestBurst),
		mux:      chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	r := s.mux
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	r.Route("/v1", func(r chi.Router) {
		r.With(sharedSecret(s.cfg.PaymentWebhookToken)).Post("/payments/confirm", s.handlePaymentConfirm)
		r.With(sharedSecret(s.cfg.GameplayToken)).Post("/gameplay/scores", s.handleRecordScore)

		r.Route("/internal/sweeps", func(r chi.Router) {
			r.Use(sharedSecret(s.cfg.SweepToken))
			r.Post("/speed-tick", s.handleSpeedTickSweep)
			r.Post("/rewards/{kind}", s.handleRewardSweep)
		})

		r.Post("/admin/login", s.handleAdminLogin)
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminMiddleware)
			r.Post("/credits", s.handleAdminCredit)
			r.Get("/users/{user_id}/audit", s.handleAdminAudit)
			r.Get("/users/{user_id}/ledger", s.handleAdminLedger)
			r.Post("/users/{user_id}/tier", s.handleSetTier)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Use(s.throttleMiddleware)
			r.Post("/accounts", s.handleEnsureAccount)
			r.Get("/wallet", s.handleWallet)
			r.Get("/ledger", s.handleLedger)
			r.Post("/boosters/premium/activate", s.handleActivatePremium)
			r.Get("/speed-tokens", s.handleSpeedTokens)
			r.Post("/speed-tokens/{id}/consume", s.handleConsumeToken)
			r.Post("/lives/spend", s.handleSpendLife)
			r.Post("/coins/spend", s.handleSpendCoins)
			r.Post("/referrals", s.handleReferral)
		})
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		user, err := s.users.VerifyAccessToken(r.Context(), token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				s.log.Warn("token verification failed", "err", err)
			}
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid token")
			return
		}
		ctx := context.WithValue(r.Context(), userContextKey, UserContext{UserID: user.ID, Email: user.Email})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) throttleMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := userFromContext(r.Context())
		if err == nil && !s.throttle.Allow(user.UserID) {
			writeDomainError(w, economy.ErrRateLimited)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) adminMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token")
			return
		}
		adminID, err := s.admin.Verify(token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token")
			return
		}
		ctx := context.WithValue(r.Context(), adminContextKey, adminID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// sharedSecret admits callers presenting the configured bearer secret.
func sharedSecret(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r.Header.Get("Authorization"))
			if secret == "" || subtle.ConstantTimeCompare([]byte(token), []byte(secret)) != 1 {
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func userFromContext(ctx context.Context) (UserContext, error) {
	v := ctx.Value(userContextKey)
	user, ok := v.(UserContext)
	if !ok || user.UserID == "" {
		return UserContext{}, errors.New("missing auth context")
	}
	return user, nil
}

func adminFromContext(ctx context.Context) string {
	id, _ := ctx.Value(adminContextKey).(string)
	return id
}

// domainError maps engine errors to a status and a machine-readable code.
func domainError(err error) (int, string, bool) {
	switch {
	case errors.Is(err, economy.ErrInvalidIdempotencyKey):
		return http.StatusBadRequest, "INVALID_IDEMPOTENCY_KEY", true
	case errors.Is(err, economy.ErrInvalidAmount):
		return http.StatusBadRequest, "INVALID_AMOUNT", true
	case errors.Is(err, economy.ErrMetadataMismatch):
		return http.StatusBadRequest, "INVALID_METADATA", true
	case errors.Is(err, economy.ErrUnknownBooster):
		return http.StatusBadRequest, "UNKNOWN_BOOSTER", true
	case errors.Is(err, economy.ErrInsufficientBalance):
		return http.StatusConflict, "INSUFFICIENT_BALANCE", true
	case errors.Is(err, economy.ErrWalletNotFound):
		return http.StatusNotFound, "WALLET_NOT_FOUND", true
	case errors.Is(err, economy.ErrTokenNotFound):
		return http.StatusNotFound, "TOKEN_NOT_FOUND", true
	case errors.Is(err, economy.ErrTokenAlreadyUsed):
		return http.StatusConflict, "TOKEN_ALREADY_USED", true
	case errors.Is(err, economy.ErrNoPendingPremium):
		return http.StatusConflict, "NO_PENDING_PREMIUM", true
	case errors.Is(err, economy.ErrRateLimited):
		return http.StatusTooManyRequests, "RATE_LIMITED", true
	case errors.Is(err, economy.ErrTxConflict):
		return http.StatusServiceUnavailable, "TX_CONFLICT", true
	}
	return http.StatusInternalServerError, "INTERNAL", false
}

func writeDomainError(w http.ResponseWriter, err error) {
	status, code, _ := domainError(err)
	writeError(w, status, code, err.Error())
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return err
	}
	return nil
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(r *http.Request, out any) error {
	if err := decodeJSON(r, out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{"error": strings.TrimSpace(message), "code": code})
}

func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil {
		return 0
	}
	return n
}

func bearerToken(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
