package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/metrics"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

type fakeGateway struct {
	account    exchange.Account
	accountErr error
	open       bool
	clockErr   error
	price      float64
	barsErr    error
	calls      []string
}

func (f *fakeGateway) Account(context.Context) (exchange.Account, error) {
	f.calls = append(f.calls, "account")
	return f.account, f.accountErr
}

func (f *fakeGateway) IsMarketOpen(context.Context) (bool, error) {
	f.calls = append(f.calls, "clock")
	return f.open, f.clockErr
}

func (f *fakeGateway) Bars(_ context.Context, symbol, _ string, _ int) ([]signal.Bar, error) {
	f.calls = append(f.calls, "bars")
	if f.barsErr != nil {
		return nil, f.barsErr
	}
	if f.price == 0 {
		return nil, nil
	}
	return []signal.Bar{{Symbol: symbol, Close: f.price}}, nil
}

type memStore struct {
	state CounterState
	saves int
}

func (m *memStore) LoadCounter() (CounterState, error) { return m.state, nil }
func (m *memStore) SaveCounter(s CounterState) error  { m.state = s; m.saves++; return nil }

var defaultParams = Params{
	MaxPositionSize:     0.1,
	MaxDailyTrades:      10,
	MinAccountBalance:   1000,
	ConfidenceThreshold: 0.6,
}

func healthyGateway() *fakeGateway {
	return &fakeGateway{account: exchange.Account{PortfolioValue: 10000}, open: true, price: 50}
}

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestCheckAllowsHealthySignal(t *testing.T) {
	policy := NewPolicy(healthyGateway(), defaultParams, zerolog.Nop())
	if err := policy.Check(context.Background(), signal.Signal{Symbol: "AAPL", Confidence: 0.8}); err != nil {
		t.Fatalf("expected trade allowed, got %v", err)
	}
}

func TestCheckPriorityOrder(t *testing.T) {
	// every gate fails: the trade count wins and no account call is made
	gw := &fakeGateway{account: exchange.Account{PortfolioValue: 10}, open: false}
	params := defaultParams
	params.MaxDailyTrades = 0
	policy := NewPolicy(gw, params, zerolog.Nop())
	err := policy.Check(context.Background(), signal.Signal{Confidence: 0.1})
	if !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("expected daily limit, got %v", err)
	}
	if len(gw.calls) != 0 {
		t.Fatalf("expected no gateway calls, got %v", gw.calls)
	}

	policy = NewPolicy(gw, defaultParams, zerolog.Nop())
	if err := policy.Check(context.Background(), signal.Signal{Confidence: 0.1}); !errors.Is(err, ErrBalanceTooLow) {
		t.Fatalf("expected balance too low, got %v", err)
	}

	gw.account.PortfolioValue = 5000
	if err := policy.Check(context.Background(), signal.Signal{Confidence: 0.1}); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected market closed, got %v", err)
	}

	gw.open = true
	if err := policy.Check(context.Background(), signal.Signal{Confidence: 0.1}); !errors.Is(err, ErrLowConfidence) {
		t.Fatalf("expected low confidence, got %v", err)
	}
}

func TestCheckAccountFailureRejectsOnBalance(t *testing.T) {
	gw := healthyGateway()
	gw.accountErr = errors.New("503")
	policy := NewPolicy(gw, defaultParams, zerolog.Nop())
	if err := policy.Check(context.Background(), signal.Signal{Confidence: 0.9}); !errors.Is(err, ErrBalanceTooLow) {
		t.Fatalf("expected balance rejection on account failure, got %v", err)
	}
}

func TestCheckClockFailureTreatedAsClosed(t *testing.T) {
	gw := healthyGateway()
	gw.clockErr = errors.New("timeout")
	policy := NewPolicy(gw, defaultParams, zerolog.Nop())
	if err := policy.Check(context.Background(), signal.Signal{Confidence: 0.9}); !errors.Is(err, ErrMarketClosed) {
		t.Fatalf("expected market closed on clock failure, got %v", err)
	}
}

func TestConfidenceBoundary(t *testing.T) {
	policy := NewPolicy(healthyGateway(), defaultParams, zerolog.Nop())
	for _, c := range []float64{0, 0.3, 0.5999} {
		if policy.ShouldTrade(context.Background(), signal.Signal{Confidence: c}) {
			t.Fatalf("confidence %v must not trade", c)
		}
	}
	for _, c := range []float64{0.6, 0.75, 1} {
		if !policy.ShouldTrade(context.Background(), signal.Signal{Confidence: c}) {
			t.Fatalf("confidence %v must trade", c)
		}
	}
}

func TestDailyLimitAndRollover(t *testing.T) {
	now := time.Date(2026, 10, 16, 10, 0, 0, 0, time.Local)
	params := defaultParams
	params.MaxDailyTrades = 2
	policy := NewPolicy(healthyGateway(), params, zerolog.Nop(), WithClock(func() time.Time { return now }))
	sig := signal.Signal{Confidence: 0.9}

	policy.RecordTrade()
	policy.RecordTrade()
	if err := policy.Check(context.Background(), sig); !errors.Is(err, ErrDailyLimit) {
		t.Fatalf("expected daily limit after 2 trades, got %v", err)
	}

	now = now.Add(24 * time.Hour)
	if err := policy.Check(context.Background(), sig); err != nil {
		t.Fatalf("expected counter reset on the next day, got %v", err)
	}
	if got := policy.Counter().Count(); got != 0 {
		t.Fatalf("expected count 0 after rollover, got %d", got)
	}
}

func TestRolloverResetsDailyTradesGauge(t *testing.T) {
	now := time.Date(2026, 10, 16, 15, 0, 0, 0, time.Local)
	policy := NewPolicy(healthyGateway(), defaultParams, zerolog.Nop(), WithClock(func() time.Time { return now }))
	policy.RecordTrade()
	policy.RecordTrade()
	if got := testutil.ToFloat64(metrics.DailyTrades); got != 2 {
		t.Fatalf("expected gauge 2, got %v", got)
	}

	now = now.Add(24 * time.Hour)
	_ = policy.Check(context.Background(), signal.Signal{Confidence: 0.9})
	if got := testutil.ToFloat64(metrics.DailyTrades); got != 0 {
		t.Fatalf("expected gauge reset on the new day, got %v", got)
	}
}

func TestRecordTradeNeverDecreasesWithinDay(t *testing.T) {
	now := time.Date(2026, 10, 16, 9, 31, 0, 0, time.Local)
	policy := NewPolicy(healthyGateway(), defaultParams, zerolog.Nop(), WithClock(func() time.Time { return now }))
	prev := 0
	for i := 0; i < 5; i++ {
		policy.RecordTrade()
		_ = policy.Check(context.Background(), signal.Signal{Confidence: 1})
		now = now.Add(time.Hour)
		if got := policy.Counter().Count(); got < prev {
			t.Fatalf("counter decreased from %d to %d", prev, got)
		} else {
			prev = got
		}
	}
	if prev != 5 {
		t.Fatalf("expected 5 trades, got %d", prev)
	}
}

func TestPositionSize(t *testing.T) {
	policy := NewPolicy(healthyGateway(), defaultParams, zerolog.Nop())
	if got := policy.PositionSize(context.Background(), "AAPL", 0.8); got != 16 {
		t.Fatalf("expected 16 shares, got %d", got)
	}
	// strength is capped at 1
	if got := policy.PositionSize(context.Background(), "AAPL", 3); got != 20 {
		t.Fatalf("expected 20 shares, got %d", got)
	}
}

func TestPositionSizeFloorsToOne(t *testing.T) {
	gw := healthyGateway()
	gw.price = 5000
	policy := NewPolicy(gw, defaultParams, zerolog.Nop())
	if got := policy.PositionSize(context.Background(), "AAPL", 0.7); got != 1 {
		t.Fatalf("expected 1 share, got %d", got)
	}

	gw.price = 50
	gw.accountErr = errors.New("down")
	if got := policy.PositionSize(context.Background(), "AAPL", 0.7); got != 1 {
		t.Fatalf("expected 1 share with empty account, got %d", got)
	}
}

func TestPositionSizeWithoutPrice(t *testing.T) {
	gw := healthyGateway()
	gw.price = 0
	policy := NewPolicy(gw, defaultParams, zerolog.Nop())
	if got := policy.PositionSize(context.Background(), "AAPL", 0.8); got != 0 {
		t.Fatalf("expected 0 shares without bars, got %d", got)
	}

	gw.barsErr = errors.New("rate limited")
	if got := policy.PositionSize(context.Background(), "AAPL", 0.8); got != 0 {
		t.Fatalf("expected 0 shares on bar error, got %d", got)
	}
}

func TestCounterStoreRestoresToday(t *testing.T) {
	now := time.Date(2026, 10, 16, 11, 0, 0, 0, time.Local)
	store := &memStore{state: CounterState{Count: 4, Date: time.Date(2026, 10, 16, 0, 0, 0, 0, time.Local)}}
	policy := NewPolicy(healthyGateway(), defaultParams, zerolog.Nop(), WithClock(fixedClock(now)), WithCounterStore(store))
	if got := policy.Counter().Count(); got != 4 {
		t.Fatalf("expected restored count 4, got %d", got)
	}

	policy.RecordTrade()
	if store.state.Count != 5 || store.saves == 0 {
		t.Fatalf("expected persisted count 5, got %+v", store.state)
	}
}

func TestCounterStoreIgnoresStaleDay(t *testing.T) {
	now := time.Date(2026, 10, 17, 11, 0, 0, 0, time.Local)
	store := &memStore{state: CounterState{Count: 9, Date: time.Date(2026, 10, 16, 0, 0, 0, 0, time.Local)}}
	policy := NewPolicy(healthyGateway(), defaultParams, zerolog.Nop(), WithClock(fixedClock(now)), WithCounterStore(store))
	if got := policy.Counter().Count(); got != 0 {
		t.Fatalf("expected fresh counter, got %d", got)
	}
}
