package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	ossignal "os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/config"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/execution"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/metrics"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/util"
)

type rootOptions struct {
	configPath string
	provider   string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "trader",
		Short:         "Model-driven equity trading loop",
		Long:          "trader polls minute bars, scores them with a sequence model and trades the signals through Alpaca.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrader(cmd, opts)
		},
	}

	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "config.yaml", "configuration file path")
	rootCmd.PersistentFlags().StringVar(&opts.provider, "provider", "", "override trading.provider (alpaca|paper)")
	rootCmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override app.log_level")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "run",
			Short: "Run the trading loop until interrupted",
			RunE:  func(cmd *cobra.Command, args []string) error { return runTrader(cmd, opts) },
		},
		&cobra.Command{
			Use:   "check",
			Short: "Validate config, broker credentials and model artifacts",
			RunE:  func(cmd *cobra.Command, args []string) error { return runCheck(cmd, opts) },
		},
		&cobra.Command{
			Use:   "account",
			Short: "Print the account snapshot and open positions",
			RunE:  func(cmd *cobra.Command, args []string) error { return runAccount(cmd, opts) },
		},
	)
	return rootCmd
}

// loadConfig reads the file, applies env overrides and flags, then validates. A missing default
// config file falls back to built-in defaults.
func loadConfig(cmd *cobra.Command, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) || cmd.Flags().Changed("config") {
			return nil, err
		}
		cfg = config.Default()
	}
	cfg.ApplyEnv()
	if opts.provider != "" {
		cfg.Trading.Provider = opts.provider
	}
	if opts.logLevel != "" {
		cfg.App.LogLevel = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (zerolog.Logger, io.Closer, error) {
	return util.NewFileLogger(util.LogOptions{
		Level:      cfg.App.LogLevel,
		File:       cfg.App.LogFile,
		MaxSizeMB:  cfg.App.LogMaxSizeMB,
		MaxBackups: cfg.App.LogMaxBackups,
		MaxAgeDays: cfg.App.LogMaxAgeDays,
	})
}

func runTrader(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	log, logCloser, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	defer logCloser.Close()

	ctx, cancel := ossignal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	srv := metrics.Serve(cfg.App.MetricsAddr)
	defer srv.Close()
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	if app.exec.ExitMode() == execution.ExitsIndependent {
		updates := app.tradeUpdates(ctx)
		go app.loop.ListenUpdates(ctx, updates)
	}

	err = app.loop.Run(ctx)
	log.Info().Msg("trading bot shutdown")
	return err
}

func runCheck(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "config ok: provider=%s symbols=%v strategy=%s exits=%s\n",
		cfg.Trading.Provider, cfg.Trading.Symbols, cfg.Strategy.Mode, cfg.Trading.Exits)

	app, err := newApp(cmd.Context(), cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	defer app.Close()
	fmt.Fprintf(out, "generator ok: %s\n", app.gen.Name())

	clock, err := app.gw.Clock(cmd.Context())
	if err != nil {
		return fmt.Errorf("market clock: %w", err)
	}
	fmt.Fprintf(out, "market open=%v next_open=%s next_close=%s\n",
		clock.IsOpen, clock.NextOpen.Format("2006-01-02 15:04 MST"), clock.NextClose.Format("2006-01-02 15:04 MST"))
	return nil
}

func runAccount(cmd *cobra.Command, opts *rootOptions) error {
	cfg, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	gw, err := newGateway(cmd.Context(), cfg, zerolog.Nop())
	if err != nil {
		return err
	}
	return printAccount(cmd.Context(), cmd.OutOrStdout(), gw)
}

func printAccount(ctx context.Context, out io.Writer, gw exchange.Gateway) error {
	account, err := gw.Account(ctx)
	if err != nil {
		return fmt.Errorf("fetch account: %w", err)
	}
	positions, err := gw.Positions(ctx)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "status\t%s\n", account.Status)
	fmt.Fprintf(w, "portfolio value\t%.2f\n", account.PortfolioValue)
	fmt.Fprintf(w, "cash\t%.2f\n", account.Cash)
	fmt.Fprintf(w, "buying power\t%.2f\n", account.BuyingPower)
	fmt.Fprintf(w, "day trades\t%d\n", account.DayTradeCount)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "SYMBOL\tQTY\tAVG ENTRY\tMARKET VALUE\tUNREALIZED P/L")
	for _, p := range positions {
		fmt.Fprintf(w, "%s\t%g\t%.2f\t%.2f\t%.2f\n", p.Symbol, p.Qty, p.AvgEntryPrice, p.MarketValue, p.UnrealizedPL)
	}
	return w.Flush()
}
