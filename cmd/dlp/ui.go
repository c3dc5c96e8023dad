package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	cl "dingleup/internal/cli"
	"dingleup/internal/economy"

	"github.com/fatih/color"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

// promptSecret reads without echo when stdin is a terminal.
func promptSecret(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func renderWallet(v economy.WalletView, d cl.Drift, clientNow time.Time) {
	accent.Printf("\n== WALLET %s ==\n", v.UserID)
	fmt.Printf("Coins:          %s\n", comma(v.Coins))
	fmt.Printf("Lives:          %s\n", livesBar(v.Lives, v.MaxLives))
	fmt.Printf("Tier:           %s\n", v.SubscriptionTier)
	if v.NextLifeAt != nil {
		fmt.Printf("Next life in:   %s\n", formatCountdown(d.Until(*v.NextLifeAt, clientNow)))
	} else {
		fmt.Printf("Next life in:   %s\n", success.Sprint("full"))
	}
	fmt.Printf("Regen every:    %s\n", time.Duration(v.RegenIntervalSeconds)*time.Second)
	if v.HasPendingPremium {
		warn.Println("Premium booster pending activation.")
	}
	if sb := v.SpeedBooster; sb != nil {
		fmt.Println()
		accent.Println("Speed booster")
		fmt.Printf("Multiplier:     x%d\n", sb.Multiplier)
		fmt.Printf("Per tick:       %d coins, %d lives\n", sb.CoinsPerTick*sb.Multiplier, sb.LivesPerTick*sb.Multiplier)
		if sb.ExpiresAt != nil {
			fmt.Printf("Expires in:     %s\n", formatCountdown(d.Until(*sb.ExpiresAt, clientNow)))
		}
		if sb.NextTickAt != nil {
			fmt.Printf("Next tick in:   %s\n", formatCountdown(d.Until(*sb.NextTickAt, clientNow)))
		}
	}
	fmt.Println()
	fmt.Printf("Server drift:   %s (rtt %s)\n", colorizeMillis(d.OffsetMillis()), d.RTT.Round(time.Millisecond))
	fmt.Println()
}

func renderLedger(entries []economy.LedgerEntry) {
	accent.Println("\n== LEDGER ==")
	if len(entries) == 0 {
		printInfo("No ledger entries yet.")
		return
	}
	fmt.Printf("%-20s %-14s %10s %8s %10s %6s  %s\n", "TIME", "SOURCE", "COINS", "LIVES", "BALANCE", "LIVES", "KEY")
	for _, e := range entries {
		fmt.Printf("%-20s %-14s %10s %8s %10s %6d  %s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			e.Source,
			colorizeDelta(e.DeltaCoins),
			colorizeDelta(e.DeltaLives),
			comma(e.CoinsAfter),
			e.LivesAfter,
			truncate(e.IdempotencyKey, 48),
		)
	}
	fmt.Println()
}

func renderTokens(tokens []economy.SpeedToken, now time.Time) {
	accent.Println("\n== SPEED TOKENS ==")
	if len(tokens) == 0 {
		printInfo("No speed tokens.")
		return
	}
	fmt.Printf("%-36s %-10s %5s %9s  %s\n", "ID", "STATE", "MULT", "DURATION", "EXPIRES")
	for _, t := range tokens {
		state, expires := "pending", "-"
		switch {
		case t.ExpiresAt != nil && now.Before(*t.ExpiresAt):
			state, expires = success.Sprint("active"), t.ExpiresAt.Local().Format(time.Kitchen)
		case t.UsedAt != nil:
			state = "used"
		}
		fmt.Printf("%-36s %-10s %5s %9s  %s\n", t.ID, state, fmt.Sprintf("x%d", t.Multiplier), fmt.Sprintf("%dm", t.DurationMinutes), expires)
	}
	fmt.Println()
}

func renderSweep(r economy.SweepReport) {
	fmt.Printf("wallets=%d credited=%d duplicates=%d expired=%d failed=%s\n",
		r.Wallets, r.Credited, r.Duplicates, r.Expired, colorizeFailures(r.Failed))
	if r.Interrupted {
		printWarn("Sweep was interrupted before finishing.")
	}
}

func renderDistribution(r economy.DistributionReport) {
	fmt.Printf("%s %s: awarded=%d already=%d no_prize=%d failed=%s\n",
		r.Period.Kind, r.Period.Key, r.Awarded, r.AlreadyAwarded, r.NoPrize, colorizeFailures(r.Failed))
	if r.Interrupted {
		printWarn("Distribution was interrupted before finishing.")
	}
}

func renderAudits(rows []economy.AdminAudit) {
	accent.Println("\n== ADMIN AUDIT ==")
	if len(rows) == 0 {
		printInfo("No manual credits recorded.")
		return
	}
	fmt.Printf("%-20s %-12s %16s %12s  %s\n", "TIME", "ADMIN", "COINS", "LIVES", "REASON")
	for _, a := range rows {
		fmt.Printf("%-20s %-12s %16s %12s  %s\n",
			a.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			truncate(a.AdminID, 12),
			fmt.Sprintf("%d->%d", a.CoinsBefore, a.CoinsAfter),
			fmt.Sprintf("%d->%d", a.LivesBefore, a.LivesAfter),
			a.Reason,
		)
	}
	fmt.Println()
}

func livesBar(lives, maxLives int64) string {
	if maxLives <= 0 || maxLives > 20 {
		return fmt.Sprintf("%d/%d", lives, maxLives)
	}
	full := strings.Repeat("♥", int(lives))
	empty := strings.Repeat("·", int(maxLives-lives))
	return danger.Sprint(full) + neutral.Sprint(empty) + fmt.Sprintf(" %d/%d", lives, maxLives)
}

func formatCountdown(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m, s)
}

func colorizeDelta(v int64) string {
	switch {
	case v > 0:
		return success.Sprintf("+%d", v)
	case v < 0:
		return danger.Sprintf("%d", v)
	default:
		return neutral.Sprint("0")
	}
}

func colorizeMillis(ms int64) string {
	if ms >= -1000 && ms <= 1000 {
		return success.Sprintf("%+dms", ms)
	}
	return warn.Sprintf("%+dms", ms)
}

func colorizeFailures(n int) string {
	if n > 0 {
		return danger.Sprint(n)
	}
	return success.Sprint(n)
}

func comma(v int64) string {
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	if len(s) <= 3 {
		return sign + s
	}
	var b strings.Builder
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
	}
	for i := pre; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return sign + b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
