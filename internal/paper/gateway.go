// Package paper simulates a brokerage in-process for offline runs and tests.
package paper

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/config"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

const (
	maxHistory     = 2000
	initialHistory = 240
)

// Gateway is a simulated broker: synthetic minute bars from a seeded random walk, market orders
// filled at the last close, stop and limit orders resting until a later bar crosses them.
type Gateway struct {
	mu         sync.Mutex
	cfg        config.Paper
	account    *Account
	ledger     *Ledger
	series     map[string][]signal.Bar
	rng        *rand.Rand
	now        func() time.Time
	marketOpen func(time.Time) bool
	updates    chan exchange.TradeUpdate
	seq        int
	log        zerolog.Logger
}

// Option customizes a Gateway.
type Option func(*Gateway)

// WithClock injects the simulation clock.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		if now != nil {
			g.now = now
		}
	}
}

// WithMarketHours replaces the regular-session schedule.
func WithMarketHours(open func(time.Time) bool) Option {
	return func(g *Gateway) {
		if open != nil {
			g.marketOpen = open
		}
	}
}

// NewGateway builds a simulated broker funded with cfg.StartingCash.
func NewGateway(cfg config.Paper, log zerolog.Logger, opts ...Option) *Gateway {
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 100
	}
	if cfg.Volatility <= 0 {
		cfg.Volatility = 0.002
	}
	g := &Gateway{
		cfg:        cfg,
		account:    NewAccount(cfg.StartingCash, cfg.MaxPositionPerSymbol),
		ledger:     NewLedger(64),
		series:     make(map[string][]signal.Bar),
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		now:        time.Now,
		marketOpen: RegularSession,
		updates:    make(chan exchange.TradeUpdate, 64),
		log:        log,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Updates streams fills the way the broker's trade update feed does. Updates are dropped when the
// buffer is full.
func (g *Gateway) Updates() <-chan exchange.TradeUpdate { return g.updates }

// Ledger exposes every order the gateway has seen.
func (g *Gateway) Ledger() *Ledger { return g.ledger }

// LoadHistory replaces the bar series for symbol; the walk continues from its last bar.
func (g *Gateway) LoadHistory(symbol string, bars []signal.Bar) {
	g.mu.Lock()
	defer g.mu.Unlock()
	series := make([]signal.Bar, len(bars))
	copy(series, bars)
	for i := range series {
		series[i].Symbol = symbol
	}
	g.series[symbol] = series
}

// Bars returns up to limit of the newest bars, oldest first. Only minute bars are simulated.
func (g *Gateway) Bars(ctx context.Context, symbol, _ string, limit int) ([]signal.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	bars := signal.Tail(g.extend(symbol, limit), limit)
	out := make([]signal.Bar, len(bars))
	copy(out, bars)
	return out, nil
}

// Account marks the paper account to the latest closes.
func (g *Gateway) Account(ctx context.Context) (exchange.Account, error) {
	if err := ctx.Err(); err != nil {
		return exchange.Account{}, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	snap := g.account.Snapshot(g.marks())
	return exchange.Account{
		Status:         "ACTIVE",
		BuyingPower:    snap.Cash,
		Cash:           snap.Cash,
		PortfolioValue: snap.Equity,
	}, nil
}

// Positions lists held symbols marked to the latest closes.
func (g *Gateway) Positions(ctx context.Context) ([]exchange.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account.Positions(g.marks()), nil
}

// IsMarketOpen applies the configured session schedule to the simulation clock.
func (g *Gateway) IsMarketOpen(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return g.marketOpen(g.now()), nil
}

// Clock reports the session state. NextOpen and NextClose follow the regular session.
func (g *Gateway) Clock(ctx context.Context) (exchange.Clock, error) {
	if err := ctx.Err(); err != nil {
		return exchange.Clock{}, err
	}
	now := g.now()
	nextOpen, nextClose := nextSession(now)
	return exchange.Clock{Timestamp: now, IsOpen: g.marketOpen(now), NextOpen: nextOpen, NextClose: nextClose}, nil
}

// SubmitOrder fills market orders immediately at the last close and rests stop and limit orders.
// A bracket entry rests both legs; the first leg to fill cancels the other.
func (g *Gateway) SubmitOrder(ctx context.Context, req exchange.OrderRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := req.Validate(); err != nil {
		return "", err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	order := Order{ID: g.nextID(), Request: req, Status: StatusOpen, Submitted: now}

	if req.Type != exchange.Market {
		g.ledger.Record(order)
		g.log.Debug().Str("sym", req.Symbol).Str("id", order.ID).Str("type", string(req.Type)).Msg("paper order resting")
		return order.ID, nil
	}

	bars := g.extend(req.Symbol, 1)
	last, ok := signal.Latest(bars)
	if !ok || last.Close <= 0 {
		return "", fmt.Errorf("paper: no price for %s", req.Symbol)
	}
	if err := g.account.MarketFill(req.Symbol, req.Side, float64(req.Qty), last.Close); err != nil {
		order.Status = StatusRejected
		g.ledger.Record(order)
		return "", fmt.Errorf("paper: %s %d %s: %w", req.Side, req.Qty, req.Symbol, err)
	}
	order.Status, order.FillPrice, order.FillQty, order.Filled = StatusFilled, last.Close, float64(req.Qty), now
	g.ledger.Record(order)
	g.emit(order)

	if req.Bracket() {
		exitSide := req.Side.Opposite()
		legs := []exchange.OrderRequest{
			{Symbol: req.Symbol, Qty: req.Qty, Side: exitSide, Type: exchange.Limit, TimeInForce: exchange.GTC, LimitPrice: req.TakeProfit},
			{Symbol: req.Symbol, Qty: req.Qty, Side: exitSide, Type: exchange.Stop, TimeInForce: exchange.GTC, StopPrice: req.StopLoss},
		}
		for _, leg := range legs {
			g.ledger.Record(Order{ID: g.nextID(), Request: leg, Status: StatusOpen, Submitted: now, parent: order.ID})
		}
	}
	return order.ID, nil
}

// Snapshot exposes the marked account for reporting.
func (g *Gateway) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.account.Snapshot(g.marks())
}

func (g *Gateway) nextID() string {
	g.seq++
	return fmt.Sprintf("paper-%d", g.seq)
}

func (g *Gateway) marks() map[string]float64 {
	marks := make(map[string]float64)
	for sym, bars := range g.series {
		if last, ok := signal.Latest(bars); ok {
			marks[sym] = last.Close
		}
	}
	return marks
}

// extend walks the series forward to the current minute, sweeping resting orders on each new bar.
func (g *Gateway) extend(symbol string, limit int) []signal.Bar {
	end := g.now().Truncate(time.Minute)
	bars := g.series[symbol]

	var start time.Time
	prev := g.cfg.StartPrice
	if last, ok := signal.Latest(bars); ok {
		start = last.Ts.Add(time.Minute)
		prev = last.Close
		if end.Sub(start) > maxHistory*time.Minute {
			start = end.Add(-maxHistory * time.Minute)
		}
	} else {
		n := max(limit, initialHistory)
		start = end.Add(-time.Duration(n-1) * time.Minute)
	}

	sweep := len(bars) > 0
	for ts := start; !ts.After(end); ts = ts.Add(time.Minute) {
		bar := g.step(symbol, prev, ts)
		bars = append(bars, bar)
		prev = bar.Close
		if sweep {
			g.sweep(bar)
		}
	}
	if len(bars) > maxHistory {
		bars = bars[len(bars)-maxHistory:]
	}
	g.series[symbol] = bars
	return bars
}

func (g *Gateway) step(symbol string, prev float64, ts time.Time) signal.Bar {
	vol := g.cfg.Volatility
	closePx := prev * math.Exp(vol*g.rng.NormFloat64())
	high := math.Max(prev, closePx) * (1 + math.Abs(g.rng.NormFloat64())*vol/2)
	low := math.Min(prev, closePx) * (1 - math.Abs(g.rng.NormFloat64())*vol/2)
	volume := float64(1000 + g.rng.Intn(9000))
	return signal.Bar{
		Symbol: symbol,
		Open:   prev,
		High:   high,
		Low:    low,
		Close:  closePx,
		Volume: volume,
		VWAP:   (high + low + closePx) / 3,
		Trades: int64(volume / 100),
		Ts:     ts,
	}
}

// sweep fills resting orders the bar crosses. Sells never exceed the held quantity.
func (g *Gateway) sweep(bar signal.Bar) {
	for _, order := range g.ledger.Resting(bar.Symbol) {
		if status, _ := g.ledger.Status(order.ID); status != StatusOpen {
			continue
		}
		price, hit := trigger(order.Request, bar)
		if !hit {
			continue
		}
		qty := float64(order.Request.Qty)
		if order.Request.Side == exchange.Sell {
			qty = math.Min(qty, g.account.Position(bar.Symbol))
		}
		if qty <= 0 {
			order.Status = StatusCanceled
			g.ledger.Update(order)
			continue
		}
		if err := g.account.MarketFill(bar.Symbol, order.Request.Side, qty, price); err != nil {
			g.log.Warn().Err(err).Str("sym", bar.Symbol).Str("id", order.ID).Msg("paper resting order rejected")
			order.Status = StatusRejected
			g.ledger.Update(order)
			continue
		}
		order.Status, order.FillPrice, order.FillQty, order.Filled = StatusFilled, price, qty, bar.Ts
		g.ledger.Update(order)
		g.emit(order)
		if order.parent != "" {
			g.cancelSiblings(order)
		}
	}
}

func (g *Gateway) cancelSiblings(filled Order) {
	for _, o := range g.ledger.Resting(filled.Request.Symbol) {
		if o.parent == filled.parent && o.ID != filled.ID {
			o.Status = StatusCanceled
			g.ledger.Update(o)
		}
	}
}

// trigger reports whether bar crosses the resting order and the fill price, gapping to the open
// when the bar opens through the trigger.
func trigger(req exchange.OrderRequest, bar signal.Bar) (float64, bool) {
	switch req.Type {
	case exchange.Stop:
		stop := req.StopPrice.InexactFloat64()
		if req.Side == exchange.Sell && bar.Low <= stop {
			return math.Min(stop, bar.Open), true
		}
		if req.Side == exchange.Buy && bar.High >= stop {
			return math.Max(stop, bar.Open), true
		}
	case exchange.Limit:
		limit := req.LimitPrice.InexactFloat64()
		if req.Side == exchange.Sell && bar.High >= limit {
			return math.Max(limit, bar.Open), true
		}
		if req.Side == exchange.Buy && bar.Low <= limit {
			return math.Min(limit, bar.Open), true
		}
	}
	return 0, false
}

func (g *Gateway) emit(order Order) {
	update := exchange.TradeUpdate{
		Event:         "fill",
		OrderID:       order.ID,
		ClientOrderID: order.Request.ClientOrderID,
		Symbol:        order.Request.Symbol,
		Side:          order.Request.Side,
		Type:          order.Request.Type,
		Price:         order.FillPrice,
		Qty:           order.FillQty,
		PositionQty:   g.account.Position(order.Request.Symbol),
		Ts:            order.Filled,
	}
	select {
	case g.updates <- update:
	default:
		g.log.Warn().Str("sym", update.Symbol).Str("id", order.ID).Msg("paper trade update dropped")
	}
}
