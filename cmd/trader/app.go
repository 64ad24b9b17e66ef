package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/config"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/execution"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/journal"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/paper"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/risk"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/state"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/strategy"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/trader"
)

// app holds the wired components of one process.
type app struct {
	cfg     *config.Config
	gw      exchange.Gateway
	gen     strategy.Generator
	exec    *execution.Executor
	loop    *trader.Trader
	store   *state.Store
	journal journal.Recorder
	log     zerolog.Logger
}

func newGateway(ctx context.Context, cfg *config.Config, log zerolog.Logger) (exchange.Gateway, error) {
	switch strings.ToLower(cfg.Trading.Provider) {
	case config.ProviderPaper:
		log.Info().Float64("starting_cash", cfg.Paper.StartingCash).Msg("using paper broker")
		return paper.NewGateway(cfg.Paper, log), nil
	default:
		client := exchange.NewAlpaca(cfg.Alpaca, log)
		if _, err := client.Validate(ctx); err != nil {
			return nil, fmt.Errorf("alpaca: %w", err)
		}
		return client, nil
	}
}

// newApp builds every component; any failure here is fatal for the process.
func newApp(ctx context.Context, cfg *config.Config, log zerolog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, log: log}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if a.gw, err = newGateway(ctx, cfg, log); err != nil {
		return nil, err
	}

	a.gen, err = strategy.Build(cfg.Strategy.Mode, strategy.Params{
		ModelPath:      cfg.Model.Path,
		ScalerPath:     cfg.Model.ScalerPath,
		LibraryPath:    cfg.Model.LibraryPath,
		SequenceLength: cfg.Model.SequenceLength,
		TrendThreshold: cfg.Strategy.Params.TrendThreshold,
		TrendWindow:    cfg.Strategy.Params.TrendWindow,
	})
	if err != nil {
		return nil, fmt.Errorf("load generator: %w", err)
	}
	log.Info().Str("generator", a.gen.Name()).Msg("signal generator loaded")

	policyOpts := []risk.Option{}
	if cfg.State.CounterPath != "" {
		if a.store, err = state.Open(cfg.State.CounterPath); err != nil {
			return nil, err
		}
		policyOpts = append(policyOpts, risk.WithCounterStore(a.store))
	}
	policy := risk.NewPolicy(a.gw, risk.Params{
		MaxPositionSize:     cfg.Risk.MaxPositionSize,
		MaxDailyTrades:      cfg.Risk.MaxDailyTrades,
		MinAccountBalance:   cfg.Risk.MinAccountBalance,
		ConfidenceThreshold: cfg.Risk.ConfidenceThreshold,
		Timeframe:           cfg.Trading.Timeframe,
	}, log, policyOpts...)

	mode, err := execution.ParseExitMode(cfg.Trading.Exits)
	if err != nil {
		return nil, err
	}
	execOpts := []execution.Option{execution.WithExitMode(mode)}
	if cfg.State.JournalPath != "" {
		if a.journal, err = journal.Open(cfg.State.JournalPath, cfg.State.JournalFormat); err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		execOpts = append(execOpts, execution.WithJournal(a.journal))
	}
	a.exec = execution.NewExecutor(a.gw, policy, execution.Params{
		BuyThreshold:  cfg.Strategy.Params.BuyThreshold,
		SellThreshold: cfg.Strategy.Params.SellThreshold,
		StopLoss:      cfg.Risk.StopLoss,
		TakeProfit:    cfg.Risk.TakeProfit,
	}, log, execOpts...)

	a.loop = trader.New(a.gw, a.gen, a.exec, trader.Params{
		Symbols:      cfg.Trading.Symbols,
		PollInterval: cfg.Trading.PollInterval(),
		Timeframe:    cfg.Trading.Timeframe,
		BarLimit:     cfg.Trading.BarLimit,
		OpenBuffer:   cfg.Trading.OpenBuffer(),
	}, log)
	log.Info().Strs("symbols", cfg.Trading.Symbols).Str("exits", string(mode)).Msg("trading bot initialized")
	return a, nil
}

// tradeUpdates returns the fill feed for the configured broker.
func (a *app) tradeUpdates(ctx context.Context) <-chan exchange.TradeUpdate {
	if gw, ok := a.gw.(*paper.Gateway); ok {
		return gw.Updates()
	}
	updates := make(chan exchange.TradeUpdate, 64)
	stream := exchange.NewStream(a.cfg.Alpaca.StreamURL, a.cfg.Alpaca.APIKey, a.cfg.Alpaca.APISecret, a.log)
	go func() {
		if err := stream.Run(ctx, updates); err != nil && !errors.Is(err, context.Canceled) {
			a.log.Error().Err(err).Msg("trade update stream stopped, exits will not be attached")
		}
	}()
	return updates
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close journal")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close state store")
		}
	}
	if a.gen != nil {
		if err := strategy.Close(a.gen); err != nil {
			a.log.Warn().Err(err).Msg("close generator")
		}
	}
}
