package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"zerowaste/internal/app"
	"zerowaste/internal/config"
	"zerowaste/internal/infra"
	"zerowaste/internal/modules/matching"
	"zerowaste/internal/types"
)

var (
	cfg    config.Config
	logger *slog.Logger

	radiusKm    float64
	limit       int
	alertWithin time.Duration
	tokenRole   string
	tokenTTL    time.Duration

	rootCmd = &cobra.Command{
		Use:          "zerowaste-admin",
		Short:        "Operate the zerowaste marketplace backend",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(); err != nil {
				return err
			}
			logger = infra.NewLogger(os.Stderr, cfg.IsProduction(), cfg.LogLevel)
			return nil
		},
	}

	sweepCmd = &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue perishable donations once",
		Args:  cobra.NoArgs,
		RunE:  runSweep,
	}
	alertsCmd = &cobra.Command{
		Use:   "alerts",
		Short: "Notify donors and nearby recipients about donations expiring soon",
		Args:  cobra.NoArgs,
		RunE:  runAlerts,
	}
	matchCmd = &cobra.Command{
		Use:   "match",
		Short: "Preview match rankings",
	}
	matchDonationCmd = &cobra.Command{
		Use:   "donation [donation id]",
		Short: "Rank recipients for a donation",
		Args:  cobra.ExactArgs(1),
		RunE:  runMatchDonation,
	}
	matchRecipientCmd = &cobra.Command{
		Use:   "recipient [user id]",
		Short: "Rank donations for a recipient",
		Args:  cobra.ExactArgs(1),
		RunE:  runMatchRecipient,
	}
	migrateCmd = &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded schema migrations",
		Args:  cobra.NoArgs,
		RunE:  runMigrate,
	}
	tokenCmd = &cobra.Command{
		Use:   "token [uid]",
		Short: "Mint a development JWT (ZW_AUTH_MODE=jwt)",
		Args:  cobra.ExactArgs(1),
		RunE:  runToken,
	}
)

func init() {
	matchCmd.PersistentFlags().Float64Var(&radiusKm, "radius-km", 0, "search radius in km (0 uses the configured default)")
	matchCmd.PersistentFlags().IntVar(&limit, "limit", 0, "maximum results (0 uses the default)")
	alertsCmd.Flags().DurationVar(&alertWithin, "within", 0, "alert window (0 uses ZW_ALERT_THRESHOLD)")
	tokenCmd.Flags().StringVar(&tokenRole, "role", string(types.RoleDonor), "role claim")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	matchCmd.AddCommand(matchDonationCmd, matchRecipientCmd)
	rootCmd.AddCommand(sweepCmd, alertsCmd, matchCmd, migrateCmd, tokenCmd)
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// withApp connects every backend, runs fn and closes them again.
func withApp(fn func(ctx context.Context, a *app.App) error) error {
	ctx, stop := signalContext()
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("close", "err", err)
		}
	}()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runSweep(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		report, err := a.Expiry.Sweep(ctx, time.Now())
		if perr := printJSON(report); perr != nil {
			return perr
		}
		return err
	})
}

func runAlerts(cmd *cobra.Command, args []string) error {
	within := alertWithin
	if within <= 0 {
		within = cfg.Sweep.AlertThreshold
	}
	return withApp(func(ctx context.Context, a *app.App) error {
		report, err := a.Expiry.AlertExpiringSoon(ctx, time.Now(), within)
		if err != nil {
			return err
		}
		return printJSON(report)
	})
}

func runMatchDonation(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		ms, err := a.Matching.RecipientsForDonation(ctx, types.ID(args[0]), matching.Query{MaxDistanceKm: radiusKm, Limit: limit})
		if err != nil {
			return err
		}
		return printJSON(ms)
	})
}

func runMatchRecipient(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app.App) error {
		ms, err := a.Matching.DonationsForRecipient(ctx, types.ID(args[0]), matching.Query{MaxDistanceKm: radiusKm, Limit: limit})
		if err != nil {
			return err
		}
		type row struct {
			matching.Match
			Title string `json:"title"`
		}
		out := make([]row, len(ms))
		for i, m := range ms {
			out[i] = row{Match: m.Match, Title: m.Donation.Title}
		}
		return printJSON(out)
	})
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext()
	defer stop()

	pool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := infra.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("migrations applied")
	return nil
}

func runToken(cmd *cobra.Command, args []string) error {
	if cfg.Auth.Mode != "jwt" {
		return fmt.Errorf("token minting needs ZW_AUTH_MODE=jwt, have %q", cfg.Auth.Mode)
	}
	role := types.Role(tokenRole)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", tokenRole)
	}
	tok, err := infra.SignJWT([]byte(cfg.Auth.JWTSecret), args[0], tokenRole, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
