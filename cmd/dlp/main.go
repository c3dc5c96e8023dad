package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"dingleup/internal/auth"
	cl "dingleup/internal/cli"
	"dingleup/internal/config"
	"dingleup/internal/economy"
	"dingleup/internal/syncq"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

type options struct {
	apiBase    string
	userToken  string
	sweepToken string
	adminToken string
}

func main() {
	cfg := config.LoadCLIFromEnv()
	opts := &options{
		apiBase:    cfg.APIBaseURL,
		userToken:  cfg.UserToken,
		sweepToken: cfg.SweepToken,
		adminToken: cfg.AdminToken,
	}

	root := &cobra.Command{
		Use:          "dlp",
		Short:        "DingleUp economy operations CLI",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&opts.apiBase, "api", opts.apiBase, "API base URL")

	root.AddCommand(
		newWalletCmd(opts),
		newLedgerCmd(opts),
		newTokensCmd(opts),
		newSweepCmd(opts),
		newAdminCmd(opts),
		newSyncCmd(opts),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newClient(o *options) *cl.Client {
	return cl.NewClient(strings.TrimRight(strings.TrimSpace(o.apiBase), "/"))
}

func requireUserToken(o *options) (string, error) {
	if strings.TrimSpace(o.userToken) == "" {
		return "", errors.New("DINGLEUP_USER_TOKEN is required")
	}
	return o.userToken, nil
}

func requireSweepToken(o *options) (string, error) {
	if strings.TrimSpace(o.sweepToken) == "" {
		return "", errors.New("DINGLEUP_SWEEP_TOKEN is required")
	}
	return o.sweepToken, nil
}

// adminSession prefers DINGLEUP_ADMIN_TOKEN over the saved login.
func adminSession(o *options) (string, error) {
	if t := strings.TrimSpace(o.adminToken); t != "" {
		return t, nil
	}
	sess, err := cl.LoadSession()
	if err != nil {
		return "", fmt.Errorf("admin login required: %w", err)
	}
	return sess.AdminToken, nil
}

func newWalletCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "wallet",
		Short: "Show the wallet for DINGLEUP_USER_TOKEN with server drift",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireUserToken(o)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			view, drift, err := newClient(o).Wallet(ctx, token)
			if err != nil {
				return err
			}
			renderWallet(view, drift, time.Now())
			return nil
		},
	}
}

func newLedgerCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "List recent ledger entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireUserToken(o)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			entries, err := newClient(o).Ledger(ctx, token, limit)
			if err != nil {
				return err
			}
			renderLedger(entries)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries")
	return cmd
}

func newTokensCmd(o *options) *cobra.Command {
	tokens := &cobra.Command{
		Use:     "tokens",
		Short:   "Speed token commands",
		Aliases: []string{"token"},
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireUserToken(o)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			list, err := newClient(o).SpeedTokens(ctx, token)
			if err != nil {
				return err
			}
			renderTokens(list, time.Now())
			return nil
		},
	}
	tokens.AddCommand(&cobra.Command{
		Use:   "consume <token-id>",
		Short: "Start a pending speed token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireUserToken(o)
			if err != nil {
				return err
			}
			if _, err := uuid.Parse(args[0]); err != nil {
				return fmt.Errorf("token id must be a uuid: %w", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			tok, err := newClient(o).ConsumeToken(ctx, token, args[0])
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Token %s active until %s.", tok.ID, tok.ExpiresAt.Local().Format(time.Kitchen)))
			return nil
		},
	})
	tokens.AddCommand(&cobra.Command{
		Use:   "activate-premium",
		Short: "Turn a pending premium purchase into speed tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireUserToken(o)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := newClient(o).ActivatePremium(ctx, token)
			var apiErr *cl.APIError
			if errors.As(err, &apiErr) && apiErr.Code == "NO_PENDING_PREMIUM" {
				printWarn("No premium booster is pending.")
				return nil
			}
			if err != nil {
				return err
			}
			if !res.Applied {
				printInfo("Premium booster was already activated.")
				return nil
			}
			printSuccess(fmt.Sprintf("Premium activated: %d tokens granted.", len(res.Tokens)))
			return nil
		},
	})
	return tokens
}

func parseNowFlag(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("--now must be RFC3339: %w", err)
	}
	return &t, nil
}

func newSweepCmd(o *options) *cobra.Command {
	var nowRaw string
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Trigger scheduler sweeps by hand",
	}
	sweep.PersistentFlags().StringVar(&nowRaw, "now", "", "evaluate the sweep at this RFC3339 instant")

	sweep.AddCommand(&cobra.Command{
		Use:   "speed-tick",
		Short: "Credit due speed booster ticks",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireSweepToken(o)
			if err != nil {
				return err
			}
			now, err := parseNowFlag(nowRaw)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			report, err := newClient(o).SweepSpeedTick(ctx, token, now)
			if err != nil {
				return err
			}
			renderSweep(report)
			return nil
		},
	})
	sweep.AddCommand(&cobra.Command{
		Use:       "rewards <daily|weekly>",
		Short:     "Distribute prizes for the period that just closed",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"daily", "weekly"},
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := requireSweepToken(o)
			if err != nil {
				return err
			}
			kind, err := economy.ParsePeriodKind(args[0])
			if err != nil {
				return err
			}
			now, err := parseNowFlag(nowRaw)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()
			report, err := newClient(o).SweepRewards(ctx, token, kind, now)
			if err != nil {
				return err
			}
			renderDistribution(report)
			return nil
		},
	})
	return sweep
}

func newAdminCmd(o *options) *cobra.Command {
	admin := &cobra.Command{
		Use:   "admin",
		Short: "Administrative commands",
	}
	admin.AddCommand(
		newAdminLoginCmd(o),
		newAdminLogoutCmd(),
		newAdminCreditCmd(o),
		newAdminAuditCmd(o),
		newAdminTierCmd(o),
		newAdminHashCmd(),
	)
	return admin
}

func newAdminLoginCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in as an operator and save the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			adminID, err := promptRequired("Admin ID")
			if err != nil {
				return err
			}
			password, err := promptSecret("Password")
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			token, exp, err := newClient(o).AdminLogin(ctx, adminID, password)
			if err != nil {
				return err
			}
			if err := cl.SaveSession(cl.Session{AdminID: adminID, AdminToken: token, ExpiresAt: exp}); err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Logged in as %s until %s.", adminID, exp.Local().Format(time.RFC1123)))
			return nil
		},
	}
}

func newAdminLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear the saved admin session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cl.ClearSession(); err != nil {
				return err
			}
			printSuccess("Logged out.")
			return nil
		},
	}
}

func newAdminCreditCmd(o *options) *cobra.Command {
	var in cl.AdminCreditRequest
	var key string
	cmd := &cobra.Command{
		Use:   "credit",
		Short: "Apply a manual coin/life correction",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminSession(o)
			if err != nil {
				return err
			}
			if strings.TrimSpace(in.UserID) == "" || strings.TrimSpace(in.Reason) == "" {
				return errors.New("--user and --reason are required")
			}
			if in.DeltaCoins == 0 && in.DeltaLives == 0 {
				return errors.New("--coins or --lives must be non-zero")
			}
			if key == "" {
				key = "admin:" + uuid.NewString()
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			res, err := newClient(o).AdminCredit(ctx, token, in, key)
			if err != nil {
				if !cl.Retryable(err) {
					return err
				}
				if qerr := queueCredit(in, key); qerr != nil {
					return fmt.Errorf("%v (queue failed: %w)", err, qerr)
				}
				printWarn(fmt.Sprintf("API unavailable (%v). Queued as %s; run `dlp sync` later.", err, key))
				return nil
			}
			if !res.Applied {
				printInfo(fmt.Sprintf("Key %s was already applied; balances coins=%d lives=%d.", key, res.Coins, res.Lives))
				return nil
			}
			printSuccess(fmt.Sprintf("Credited %s: coins=%d lives=%d (key %s).", in.UserID, res.Coins, res.Lives, key))
			return nil
		},
	}
	cmd.Flags().StringVar(&in.UserID, "user", "", "target user id")
	cmd.Flags().Int64Var(&in.DeltaCoins, "coins", 0, "coin delta (may be negative)")
	cmd.Flags().Int64Var(&in.DeltaLives, "lives", 0, "life delta (may be negative)")
	cmd.Flags().StringVar(&in.Reason, "reason", "", "reason recorded in the audit log")
	cmd.Flags().StringVar(&key, "key", "", "idempotency key (generated when empty)")
	return cmd
}

func openQueue() (*syncq.Queue, error) {
	dir, err := cl.BaseDir()
	if err != nil {
		return nil, err
	}
	return syncq.Open(dir)
}

func queueCredit(in cl.AdminCreditRequest, key string) error {
	q, err := openQueue()
	if err != nil {
		return err
	}
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return q.Push(syncq.Command{
		Method:         http.MethodPost,
		Path:           "/v1/admin/credits",
		Body:           body,
		IdempotencyKey: key,
	})
}

func newAdminAuditCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "audit <user-id>",
		Short: "Show manual credits applied to a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminSession(o)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			rows, err := newClient(o).AdminAudit(ctx, token, args[0], limit)
			if err != nil {
				return err
			}
			renderAudits(rows)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of rows")
	return cmd
}

func newAdminTierCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:       "tier <user-id> <free|premium>",
		Short:     "Change a user's subscription tier",
		Args:      cobra.ExactArgs(2),
		ValidArgs: []string{string(economy.TierFree), string(economy.TierPremium)},
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminSession(o)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			w, err := newClient(o).SetTier(ctx, token, args[0], economy.Tier(args[1]))
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("%s is now %s (max lives %d, lives %d).", w.UserID, w.SubscriptionTier, w.MaxLives, w.Lives))
			return nil
		},
	}
}

func newAdminHashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash",
		Short: "Print an argon2id hash for ADMIN_PASSWORD_HASH",
		RunE: func(cmd *cobra.Command, args []string) error {
			password, err := promptSecret("Password")
			if err != nil {
				return err
			}
			confirm, err := promptSecret("Repeat password")
			if err != nil {
				return err
			}
			if password != confirm {
				return errors.New("passwords do not match")
			}
			hash, err := auth.HashArgon2id(password)
			if err != nil {
				return err
			}
			fmt.Println(hash)
			return nil
		},
	}
}

func newSyncCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Replay admin credits queued while the API was unreachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := adminSession(o)
			if err != nil {
				return err
			}
			q, err := openQueue()
			if err != nil {
				return err
			}
			pending, err := q.Load()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				printInfo("Sync queue is empty.")
				return nil
			}
			client := newClient(o)
			ctx, cancel := context.WithTimeout(cmd.Context(), 60*time.Second)
			defer cancel()
			report, err := q.Replay(ctx, func(ctx context.Context, c syncq.Command) error {
				_, err := client.Do(ctx, c.Method, c.Path, token, c.Body, c.IdempotencyKey)
				if err != nil {
					printError(fmt.Sprintf("Sync failed for %s %s (%s): %v", c.Method, c.Path, c.IdempotencyKey, err))
				}
				return err
			}, cl.Retryable)
			if err != nil {
				return err
			}
			printSuccess(fmt.Sprintf("Sync complete: replayed=%d dropped=%d remaining=%d", report.Sent, report.Dropped, report.Kept))
			return nil
		},
	}
}
