// Package trader drives the polling loop: market status, bars, signal, execution.
package trader

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/execution"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/metrics"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/strategy"
)

// Gateway is the read side the loop needs from the broker.
type Gateway interface {
	Bars(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Bar, error)
	IsMarketOpen(ctx context.Context) (bool, error)
}

// State is the outcome of one iteration.
type State string

const (
	MarketClosed State = "market_closed"
	OpenBuffer   State = "open_buffer"
	Trading      State = "trading"
)

// Params configure the loop.
type Params struct {
	Symbols      []string
	PollInterval time.Duration
	Timeframe    string
	BarLimit     int
	OpenBuffer   time.Duration // wait after a closed-to-open transition before trading; 0 disables
}

// Trader runs one decision pass per poll interval over the configured symbols.
type Trader struct {
	gw     Gateway
	gen    strategy.Generator
	exec   *execution.Executor
	params Params
	log    zerolog.Logger
	now    func() time.Time

	sawClosed bool
	openedAt  time.Time
}

// New builds a trader. Zero params fall back to a 60s interval, 1Min bars and 100 bars.
func New(gw Gateway, gen strategy.Generator, exec *execution.Executor, params Params, log zerolog.Logger) *Trader {
	if params.PollInterval <= 0 {
		params.PollInterval = 60 * time.Second
	}
	if params.Timeframe == "" {
		params.Timeframe = "1Min"
	}
	if params.BarLimit <= 0 {
		params.BarLimit = 100
	}
	return &Trader{gw: gw, gen: gen, exec: exec, params: params, log: log, now: time.Now}
}

// Run ticks immediately and then every PollInterval until ctx is canceled. Cancellation is observed
// between iterations.
func (t *Trader) Run(ctx context.Context) error {
	t.log.Info().Strs("symbols", t.params.Symbols).Str("generator", t.gen.Name()).
		Dur("interval", t.params.PollInterval).Msg("starting trading loop")
	ticker := time.NewTicker(t.params.PollInterval)
	defer ticker.Stop()

	for {
		t.RunOnce(ctx)
		select {
		case <-ctx.Done():
			t.log.Info().Msg("trading loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce performs one iteration and reports the market state it observed. A panic outside symbol
// processing ends the iteration as MarketClosed.
func (t *Trader) RunOnce(ctx context.Context) (state State) {
	defer func() {
		if r := recover(); r != nil {
			metrics.IterationsTotal.WithLabelValues("panic").Inc()
			t.log.Error().Interface("panic", r).Msg("iteration panicked, waiting for next tick")
			state = MarketClosed
		}
	}()

	state = t.marketState(ctx)
	metrics.IterationsTotal.WithLabelValues(string(state)).Inc()
	switch state {
	case MarketClosed:
		t.log.Info().Msg("market closed, waiting")
		return state
	case OpenBuffer:
		t.log.Info().Time("trading_from", t.openedAt.Add(t.params.OpenBuffer)).Msg("market just opened, waiting out open buffer")
		return state
	}

	for _, symbol := range t.params.Symbols {
		t.processSymbol(ctx, symbol)
	}
	return Trading
}

func (t *Trader) marketState(ctx context.Context) State {
	open, err := t.gw.IsMarketOpen(ctx)
	if err != nil {
		t.log.Warn().Err(err).Str("op", "clock").Msg("market status unavailable, treating as closed")
		open = false
	}
	if !open {
		t.sawClosed = true
		return MarketClosed
	}
	if t.sawClosed {
		t.sawClosed = false
		t.openedAt = t.now()
	}
	if !t.openedAt.IsZero() && t.now().Before(t.openedAt.Add(t.params.OpenBuffer)) {
		return OpenBuffer
	}
	return Trading
}

// processSymbol runs one symbol; failures and panics skip only this symbol.
func (t *Trader) processSymbol(ctx context.Context, symbol string) {
	defer func() {
		if r := recover(); r != nil {
			metrics.SymbolErrorsTotal.WithLabelValues(symbol, "panic").Inc()
			t.log.Error().Interface("panic", r).Str("sym", symbol).Msg("symbol processing panicked, skipping")
		}
	}()

	bars, err := t.gw.Bars(ctx, symbol, t.params.Timeframe, t.params.BarLimit)
	if err != nil {
		metrics.SymbolErrorsTotal.WithLabelValues(symbol, "bars").Inc()
		t.log.Warn().Err(err).Str("sym", symbol).Str("op", "bars").Msg("market data unavailable")
		return
	}
	if len(bars) == 0 {
		metrics.SymbolErrorsTotal.WithLabelValues(symbol, "bars").Inc()
		t.log.Warn().Str("sym", symbol).Msg("no market data")
		return
	}

	sig, err := t.gen.Predict(bars)
	if err != nil || sig == nil {
		metrics.SymbolErrorsTotal.WithLabelValues(symbol, "predict").Inc()
		event := t.log.Warn().Str("sym", symbol).Str("op", "predict").Int("bars", len(bars))
		if err != nil {
			event = event.Err(err)
		}
		if errors.Is(err, strategy.ErrInsufficientHistory) {
			event.Msg("not enough history for a signal")
			return
		}
		event.Msg("no signal generated")
		return
	}
	if sig.Symbol == "" {
		sig.Symbol = symbol
	}

	direction := t.exec.Direction(*sig)
	metrics.SignalsTotal.WithLabelValues(symbol, direction).Inc()
	t.log.Debug().Str("sym", symbol).Float64("value", sig.Value).Float64("confidence", sig.Confidence).
		Str("direction", direction).Str("reason", sig.Reason).Msg("signal")
	t.exec.ExecuteSignal(ctx, symbol, *sig)
}

// ListenUpdates consumes broker trade updates until ctx ends or the channel closes. In the
// independent exit mode, filled market buys get a stop and a take-profit attached.
func (t *Trader) ListenUpdates(ctx context.Context, updates <-chan exchange.TradeUpdate) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Trader) handleUpdate(ctx context.Context, update exchange.TradeUpdate) {
	if !update.Fill() {
		t.log.Debug().Str("sym", update.Symbol).Str("event", update.Event).Str("id", update.OrderID).Msg("trade update")
		return
	}
	t.log.Info().Str("sym", update.Symbol).Str("side", string(update.Side)).Str("type", string(update.Type)).
		Float64("px", update.Price).Float64("qty", update.Qty).Float64("position_qty", update.PositionQty).
		Str("id", update.OrderID).Msg("order filled")

	if t.exec.ExitMode() != execution.ExitsIndependent {
		return
	}
	if update.Side != exchange.Buy || update.Type != exchange.Market {
		return
	}
	t.exec.AttachExits(ctx, update.Symbol, update.Price, update.Side)
}
