package trader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/config"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/execution"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/risk"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/strategy"
)

type fakeBroker struct {
	mu        sync.Mutex
	open      bool
	clockErr  error
	bars      map[string][]signal.Bar
	barsCalls []string
	orders    []exchange.OrderRequest
}

func (f *fakeBroker) Bars(_ context.Context, symbol, _ string, limit int) ([]signal.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.barsCalls = append(f.barsCalls, symbol)
	return signal.Tail(f.bars[symbol], limit), nil
}

func (f *fakeBroker) IsMarketOpen(context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open, f.clockErr
}

func (f *fakeBroker) Account(context.Context) (exchange.Account, error) {
	return exchange.Account{PortfolioValue: 10000}, nil
}

func (f *fakeBroker) Positions(context.Context) ([]exchange.Position, error) { return nil, nil }

func (f *fakeBroker) SubmitOrder(_ context.Context, req exchange.OrderRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return fmt.Sprintf("ord-%d", len(f.orders)), nil
}

func (f *fakeBroker) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

type panicGenerator struct{ symbol string }

func (p panicGenerator) Name() string { return "panic" }
func (p panicGenerator) Predict(bars []signal.Bar) (*signal.Signal, error) {
	if bars[0].Symbol == p.symbol {
		panic("model exploded")
	}
	sig := signal.New(bars[0].Symbol, 0.9, "fixed", bars[0].Ts)
	return &sig, nil
}

type nilGenerator struct{}

func (nilGenerator) Name() string                                 { return "nil" }
func (nilGenerator) Predict([]signal.Bar) (*signal.Signal, error) { return nil, nil }

func rising(symbol string, n int) []signal.Bar {
	start := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	bars := make([]signal.Bar, n)
	for i := range bars {
		px := 50 + float64(i)
		bars[i] = signal.Bar{Symbol: symbol, Open: px, High: px, Low: px, Close: px, Volume: 100, Ts: start.Add(time.Duration(i) * time.Minute)}
	}
	return bars
}

func newTestTrader(broker *fakeBroker, gen strategy.Generator, log zerolog.Logger, mode execution.ExitMode, symbols ...string) *Trader {
	return newBufferedTrader(broker, gen, log, mode, 5*time.Minute, symbols...)
}

func newBufferedTrader(broker *fakeBroker, gen strategy.Generator, log zerolog.Logger, mode execution.ExitMode, buffer time.Duration, symbols ...string) *Trader {
	policy := risk.NewPolicy(broker, risk.Params{MaxPositionSize: 0.1, MaxDailyTrades: 10, MinAccountBalance: 1000, ConfidenceThreshold: 0.6}, zerolog.Nop())
	exec := execution.NewExecutor(broker, policy, execution.Params{BuyThreshold: 0.5, SellThreshold: -0.5, StopLoss: 0.05, TakeProfit: 0.1},
		zerolog.Nop(), execution.WithExitMode(mode))
	return New(broker, gen, exec, Params{Symbols: symbols, PollInterval: time.Millisecond, OpenBuffer: buffer}, log)
}

func TestRunOnceMarketClosed(t *testing.T) {
	var buf bytes.Buffer
	broker := &fakeBroker{open: false, bars: map[string][]signal.Bar{"AAPL": rising("AAPL", 10)}}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.New(&buf), execution.ExitsOff, "AAPL")

	if state := tr.RunOnce(context.Background()); state != MarketClosed {
		t.Fatalf("expected market closed, got %s", state)
	}
	if len(broker.barsCalls) != 0 {
		t.Fatalf("closed market must not fetch bars")
	}
	if !strings.Contains(buf.String(), "market closed, waiting") {
		t.Fatalf("expected closed log line, got %s", buf.String())
	}

	broker.open, broker.clockErr = true, errors.New("clock down")
	if state := tr.RunOnce(context.Background()); state != MarketClosed {
		t.Fatalf("clock failure must be treated as closed, got %s", state)
	}
}

func TestRunOnceTradesEachSymbol(t *testing.T) {
	broker := &fakeBroker{open: true, bars: map[string][]signal.Bar{"AAPL": rising("AAPL", 10)}}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.Nop(), execution.ExitsOff, "MSFT", "AAPL")

	if state := tr.RunOnce(context.Background()); state != Trading {
		t.Fatalf("expected trading, got %s", state)
	}
	if strings.Join(broker.barsCalls[:1], ",") != "MSFT" {
		t.Fatalf("symbols must be processed in order, got %v", broker.barsCalls)
	}
	if broker.orderCount() != 1 || broker.orders[0].Symbol != "AAPL" || broker.orders[0].Side != exchange.Buy {
		t.Fatalf("expected one AAPL buy, got %+v", broker.orders)
	}
}

func TestRunOnceRecoversPanic(t *testing.T) {
	var buf bytes.Buffer
	broker := &fakeBroker{open: true, bars: map[string][]signal.Bar{"AAPL": rising("AAPL", 3), "TSLA": rising("TSLA", 3)}}
	tr := newTestTrader(broker, panicGenerator{symbol: "AAPL"}, zerolog.New(&buf), execution.ExitsOff, "AAPL", "TSLA")

	tr.RunOnce(context.Background())
	if broker.orderCount() != 1 || broker.orders[0].Symbol != "TSLA" {
		t.Fatalf("expected the loop to continue after a panic, got %+v", broker.orders)
	}
	if !strings.Contains(buf.String(), "panicked") {
		t.Fatalf("expected panic to be logged, got %s", buf.String())
	}
}

type panicClock struct{ *fakeBroker }

func (panicClock) IsMarketOpen(context.Context) (bool, error) { panic("clock exploded") }

func TestRunOnceRecoversIterationPanic(t *testing.T) {
	var buf bytes.Buffer
	broker := &fakeBroker{open: true, bars: map[string][]signal.Bar{"AAPL": rising("AAPL", 10)}}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.New(&buf), execution.ExitsOff, "AAPL")
	tr.gw = panicClock{broker}

	if state := tr.RunOnce(context.Background()); state != MarketClosed {
		t.Fatalf("expected the iteration to end as closed, got %s", state)
	}
	if broker.orderCount() != 0 || len(broker.barsCalls) != 0 {
		t.Fatalf("a failed iteration must not trade")
	}
	if !strings.Contains(buf.String(), "iteration panicked") {
		t.Fatalf("expected panic to be logged, got %s", buf.String())
	}
}

func TestRunOnceSkipsMissingSignal(t *testing.T) {
	var buf bytes.Buffer
	broker := &fakeBroker{open: true, bars: map[string][]signal.Bar{"AAPL": rising("AAPL", 3)}}
	tr := newTestTrader(broker, nilGenerator{}, zerolog.New(&buf), execution.ExitsOff, "AAPL")

	tr.RunOnce(context.Background())
	if broker.orderCount() != 0 {
		t.Fatalf("a missing signal must never trade")
	}
	if !strings.Contains(buf.String(), "no signal generated") {
		t.Fatalf("expected warning, got %s", buf.String())
	}
}

func TestOpenBuffer(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 29, 0, 0, time.UTC)
	broker := &fakeBroker{open: false, bars: map[string][]signal.Bar{"AAPL": rising("AAPL", 10)}}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.Nop(), execution.ExitsOff, "AAPL")
	tr.now = func() time.Time { return now }

	if state := tr.RunOnce(context.Background()); state != MarketClosed {
		t.Fatalf("expected closed, got %s", state)
	}
	broker.open = true
	now = now.Add(time.Minute)
	if state := tr.RunOnce(context.Background()); state != OpenBuffer {
		t.Fatalf("expected open buffer right after the open, got %s", state)
	}
	now = now.Add(4 * time.Minute)
	if state := tr.RunOnce(context.Background()); state != OpenBuffer {
		t.Fatalf("expected open buffer inside the window, got %s", state)
	}
	now = now.Add(time.Minute)
	if state := tr.RunOnce(context.Background()); state != Trading {
		t.Fatalf("expected trading after the buffer, got %s", state)
	}
}

func TestDefaultConfigTradesOnFirstOpenTick(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 29, 0, 0, time.UTC)
	broker := &fakeBroker{open: false, bars: map[string][]signal.Bar{"AAPL": rising("AAPL", 10)}}
	tr := newBufferedTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.Nop(), execution.ExitsOff,
		config.Default().Trading.OpenBuffer(), "AAPL")
	tr.now = func() time.Time { return now }

	if state := tr.RunOnce(context.Background()); state != MarketClosed {
		t.Fatalf("expected closed, got %s", state)
	}
	broker.open = true
	now = now.Add(time.Minute)
	if state := tr.RunOnce(context.Background()); state != Trading {
		t.Fatalf("expected trading on the first open tick, got %s", state)
	}
	if len(broker.barsCalls) != 1 || broker.orderCount() != 1 {
		t.Fatalf("expected one bars fetch and one order, got bars=%v orders=%d", broker.barsCalls, broker.orderCount())
	}
}

func TestNoOpenBufferWhenStartedOpen(t *testing.T) {
	broker := &fakeBroker{open: true, bars: map[string][]signal.Bar{}}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.Nop(), execution.ExitsOff, "AAPL")
	if state := tr.RunOnce(context.Background()); state != Trading {
		t.Fatalf("expected trading immediately, got %s", state)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	broker := &fakeBroker{open: false}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.Nop(), execution.ExitsOff)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("expected clean shutdown, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

func TestListenUpdatesAttachesExits(t *testing.T) {
	broker := &fakeBroker{open: true}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.Nop(), execution.ExitsIndependent)

	updates := make(chan exchange.TradeUpdate, 4)
	updates <- exchange.TradeUpdate{Event: "new", Symbol: "AAPL", Side: exchange.Buy, Type: exchange.Market}
	updates <- exchange.TradeUpdate{Event: "fill", Symbol: "AAPL", Side: exchange.Buy, Type: exchange.Market, Price: 100, Qty: 16}
	updates <- exchange.TradeUpdate{Event: "fill", Symbol: "AAPL", Side: exchange.Sell, Type: exchange.Stop, Price: 95, Qty: 1}
	close(updates)

	tr.ListenUpdates(context.Background(), updates)
	if broker.orderCount() != 2 {
		t.Fatalf("expected stop and take-profit for the entry fill only, got %+v", broker.orders)
	}
	if broker.orders[0].Type != exchange.Stop || broker.orders[1].Type != exchange.Limit {
		t.Fatalf("unexpected exit orders %+v", broker.orders)
	}
}

func TestListenUpdatesExitsOff(t *testing.T) {
	broker := &fakeBroker{open: true}
	tr := newTestTrader(broker, strategy.NewTrendFollower(0.01, 10), zerolog.Nop(), execution.ExitsOff)

	updates := make(chan exchange.TradeUpdate, 1)
	updates <- exchange.TradeUpdate{Event: "fill", Symbol: "AAPL", Side: exchange.Buy, Type: exchange.Market, Price: 100, Qty: 16}
	close(updates)

	tr.ListenUpdates(context.Background(), updates)
	if broker.orderCount() != 0 {
		t.Fatalf("exits off must not place exit orders")
	}
}
