// Package risk decides whether a signal may trade and how many shares it may buy.
package risk

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/metrics"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

// Rejection reasons, in the order they are checked.
var (
	ErrDailyLimit    = errors.New("daily trade limit reached")
	ErrBalanceTooLow = errors.New("account balance too low")
	ErrMarketClosed  = errors.New("market is closed")
	ErrLowConfidence = errors.New("signal confidence too low")
)

// Gateway is the slice of the broker the policy reads from.
type Gateway interface {
	Account(ctx context.Context) (exchange.Account, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	Bars(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Bar, error)
}

// Params are the static limits the policy enforces.
type Params struct {
	MaxPositionSize     float64 // fraction of portfolio value per position
	MaxDailyTrades      int
	MinAccountBalance   float64
	ConfidenceThreshold float64
	Timeframe           string // bar timeframe used to look up the latest price
}

// Policy owns the daily trade counter and applies the trade gates in priority order.
type Policy struct {
	gw      Gateway
	params  Params
	counter *DailyCounter
	store   CounterStore
	now     func() time.Time
	log     zerolog.Logger
}

// Option customizes a Policy.
type Option func(*Policy)

// WithClock injects the wall clock used for the daily reset.
func WithClock(now func() time.Time) Option {
	return func(p *Policy) {
		if now != nil {
			p.now = now
		}
	}
}

// WithCounter supplies an existing counter, e.g. one restored from disk.
func WithCounter(counter *DailyCounter) Option {
	return func(p *Policy) {
		if counter != nil {
			p.counter = counter
		}
	}
}

// WithCounterStore persists the counter after every change and restores today's count on construction.
func WithCounterStore(store CounterStore) Option {
	return func(p *Policy) { p.store = store }
}

// NewPolicy builds a policy with a zero counter and no date.
func NewPolicy(gw Gateway, params Params, log zerolog.Logger, opts ...Option) *Policy {
	if params.Timeframe == "" {
		params.Timeframe = "1Min"
	}
	p := &Policy{
		gw:      gw,
		params:  params,
		counter: &DailyCounter{},
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.store != nil {
		p.restore()
	}
	return p
}

// Counter exposes the owned counter for inspection.
func (p *Policy) Counter() *DailyCounter { return p.counter }

// Check returns nil when a trade is allowed, otherwise the first failing gate:
// trade count, balance, market hours, confidence.
func (p *Policy) Check(ctx context.Context, sig signal.Signal) error {
	if p.counter.Roll(p.now()) {
		metrics.DailyTrades.Set(0)
		p.persist()
	}

	if p.counter.Count() >= p.params.MaxDailyTrades {
		return ErrDailyLimit
	}

	account, err := p.gw.Account(ctx)
	if err != nil {
		// a failed fetch counts as an empty account
		p.log.Warn().Err(err).Str("op", "account").Msg("account snapshot unavailable")
		account = exchange.Account{}
	}
	if account.PortfolioValue < p.params.MinAccountBalance {
		return ErrBalanceTooLow
	}

	open, err := p.gw.IsMarketOpen(ctx)
	if err != nil {
		p.log.Warn().Err(err).Str("op", "clock").Msg("market status unavailable")
		open = false
	}
	if !open {
		return ErrMarketClosed
	}

	if sig.Confidence < p.params.ConfidenceThreshold {
		return ErrLowConfidence
	}
	return nil
}

// ShouldTrade wraps Check, logging and counting the rejection reason.
func (p *Policy) ShouldTrade(ctx context.Context, sig signal.Signal) bool {
	err := p.Check(ctx, sig)
	if err == nil {
		return true
	}
	metrics.RejectionsTotal.WithLabelValues(reason(err)).Inc()
	event := p.log.Info()
	if errors.Is(err, ErrBalanceTooLow) {
		event = p.log.Warn()
	}
	event.Str("sym", sig.Symbol).Float64("confidence", sig.Confidence).Int("daily_trades", p.counter.Count()).Msg(err.Error())
	return false
}

// PositionSize converts a signal strength into whole shares. It returns 0 when no price is
// available, otherwise at least 1.
func (p *Policy) PositionSize(ctx context.Context, symbol string, strength float64) int {
	price, ok := p.LatestPrice(ctx, symbol)
	if !ok {
		return 0
	}

	account, err := p.gw.Account(ctx)
	if err != nil {
		p.log.Warn().Err(err).Str("sym", symbol).Str("op", "account").Msg("account snapshot unavailable for sizing")
		account = exchange.Account{}
	}
	base := account.PortfolioValue * p.params.MaxPositionSize
	adjusted := base * math.Min(strength, 1.0)
	shares := int(math.Floor(adjusted / price))
	if shares < 1 {
		shares = 1
	}
	return shares
}

// LatestPrice returns the close of the most recent bar.
func (p *Policy) LatestPrice(ctx context.Context, symbol string) (float64, bool) {
	bars, err := p.gw.Bars(ctx, symbol, p.params.Timeframe, 1)
	if err != nil {
		p.log.Warn().Err(err).Str("sym", symbol).Str("op", "bars").Msg("latest price unavailable")
		return 0, false
	}
	last, ok := signal.Latest(bars)
	if !ok || last.Close <= 0 {
		return 0, false
	}
	return last.Close, true
}

// RecordTrade counts one confirmed order submission.
func (p *Policy) RecordTrade() {
	p.counter.Roll(p.now())
	count := p.counter.Increment()
	metrics.DailyTrades.Set(float64(count))
	p.persist()
}

func (p *Policy) persist() {
	if p.store == nil {
		return
	}
	if err := p.store.SaveCounter(p.counter.State()); err != nil {
		p.log.Warn().Err(err).Str("op", "counter").Msg("persist daily counter failed")
	}
}

func (p *Policy) restore() {
	state, err := p.store.LoadCounter()
	if err != nil {
		p.log.Warn().Err(err).Str("op", "counter").Msg("restore daily counter failed")
		return
	}
	if state.Date.IsZero() || !sameDay(state.Date, p.now()) {
		return
	}
	p.counter.Restore(state)
	metrics.DailyTrades.Set(float64(state.Count))
	p.log.Info().Int("daily_trades", state.Count).Msg("restored daily trade counter")
}

func reason(err error) string {
	switch {
	case errors.Is(err, ErrDailyLimit):
		return "daily_limit"
	case errors.Is(err, ErrBalanceTooLow):
		return "balance"
	case errors.Is(err, ErrMarketClosed):
		return "market_closed"
	case errors.Is(err, ErrLowConfidence):
		return "confidence"
	default:
		return "other"
	}
}
