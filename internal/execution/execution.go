// Package execution turns approved signals into broker orders.
package execution

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/journal"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/metrics"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/risk"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

// ExitMode controls how protective exits are placed around entries.
type ExitMode string

const (
	ExitsOff         ExitMode = "off"
	ExitsIndependent ExitMode = "independent"
	ExitsBracket     ExitMode = "bracket"
)

// ParseExitMode maps a config string onto an ExitMode. Empty means off.
func ParseExitMode(s string) (ExitMode, error) {
	switch ExitMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExitsOff:
		return ExitsOff, nil
	case ExitsIndependent:
		return ExitsIndependent, nil
	case ExitsBracket:
		return ExitsBracket, nil
	default:
		return "", fmt.Errorf("unknown exit mode %q", s)
	}
}

// Gateway is the order side of the broker.
type Gateway interface {
	Positions(ctx context.Context) ([]exchange.Position, error)
	SubmitOrder(ctx context.Context, req exchange.OrderRequest) (string, error)
}

// Params hold the signal bands and exit distances.
type Params struct {
	BuyThreshold  float64 // value strictly above buys
	SellThreshold float64 // value strictly below sells
	StopLoss      float64 // fraction of entry price
	TakeProfit    float64 // fraction of entry price
}

// Executor maps signals to orders after the risk policy approves them.
type Executor struct {
	gw      Gateway
	policy  *risk.Policy
	params  Params
	mode    ExitMode
	journal journal.Recorder
	newID   func() string
	now     func() time.Time
	log     zerolog.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithJournal records every accepted order.
func WithJournal(rec journal.Recorder) Option {
	return func(e *Executor) {
		if rec != nil {
			e.journal = rec
		}
	}
}

// WithExitMode selects how exits are placed.
func WithExitMode(mode ExitMode) Option {
	return func(e *Executor) { e.mode = mode }
}

// WithIDs overrides the client order id generator.
func WithIDs(newID func() string) Option {
	return func(e *Executor) {
		if newID != nil {
			e.newID = newID
		}
	}
}

// NewExecutor wires the broker, risk policy and thresholds together.
func NewExecutor(gw Gateway, policy *risk.Policy, params Params, log zerolog.Logger, opts ...Option) *Executor {
	e := &Executor{
		gw:      gw,
		policy:  policy,
		params:  params,
		mode:    ExitsOff,
		journal: journal.Discard{},
		newID:   uuid.NewString,
		now:     time.Now,
		log:     log,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExitMode reports the configured exit placement.
func (e *Executor) ExitMode() ExitMode { return e.mode }

// Direction labels sig against the configured bands.
func (e *Executor) Direction(sig signal.Signal) string {
	return sig.Direction(e.params.BuyThreshold, e.params.SellThreshold)
}

// ExecuteSignal decides and submits at most one market order for sig. It returns true only when
// the broker accepted the order.
func (e *Executor) ExecuteSignal(ctx context.Context, symbol string, sig signal.Signal) bool {
	if !e.policy.ShouldTrade(ctx, sig) {
		return false
	}

	var (
		side exchange.Side
		qty  int
	)
	switch {
	case sig.Value > e.params.BuyThreshold:
		side = exchange.Buy
		qty = e.policy.PositionSize(ctx, symbol, sig.Confidence)
	case sig.Value < e.params.SellThreshold:
		side = exchange.Sell
		held := e.heldShares(ctx, symbol)
		if held <= 0 {
			e.log.Info().Str("sym", symbol).Float64("value", sig.Value).Msg("no position to sell")
			return false
		}
		qty = min(held, e.policy.PositionSize(ctx, symbol, sig.Confidence))
	default:
		return false
	}

	if qty <= 0 {
		e.log.Warn().Str("sym", symbol).Str("side", string(side)).Str("op", "size").Msg("no price available, skipping order")
		return false
	}

	req := exchange.OrderRequest{
		Symbol:        symbol,
		Qty:           qty,
		Side:          side,
		Type:          exchange.Market,
		TimeInForce:   exchange.Day,
		ClientOrderID: e.newID(),
	}
	var refPrice float64
	if e.mode == ExitsBracket && side == exchange.Buy {
		if price, ok := e.policy.LatestPrice(ctx, symbol); ok {
			refPrice = price
			stop, take := e.exitPrices(price, side)
			req.StopLoss, req.TakeProfit = &stop, &take
		}
	}

	e.log.Info().Str("sym", symbol).Str("side", string(side)).Int("qty", qty).
		Float64("value", sig.Value).Float64("confidence", sig.Confidence).
		Bool("bracket", req.Bracket()).Msg("submit order")
	orderID, err := e.gw.SubmitOrder(ctx, req)
	if err != nil || orderID == "" {
		metrics.OrderFailuresTotal.WithLabelValues(symbol, string(side)).Inc()
		e.log.Error().Err(err).Str("sym", symbol).Str("side", string(side)).Str("op", "submit").Msg("order submission failed")
		return false
	}

	e.policy.RecordTrade()
	metrics.OrdersTotal.WithLabelValues(symbol, string(side)).Inc()
	e.record(journal.Entry{
		Kind:          journal.KindEntry,
		Symbol:        symbol,
		Side:          string(side),
		Type:          string(exchange.Market),
		Qty:           qty,
		Price:         refPrice,
		OrderID:       orderID,
		ClientOrderID: req.ClientOrderID,
		Value:         sig.Value,
		Confidence:    sig.Confidence,
	})
	return true
}

// AttachExits places a stop and a take-profit limit on the opposite side of an entry, one share
// each. The two orders are independent: a failure of either is logged and nothing is rolled back.
func (e *Executor) AttachExits(ctx context.Context, symbol string, entryPrice float64, side exchange.Side) {
	if entryPrice <= 0 {
		e.log.Warn().Str("sym", symbol).Str("op", "exits").Float64("entry", entryPrice).Msg("invalid entry price, no exits attached")
		return
	}
	stop, take := e.exitPrices(entryPrice, side)
	exitSide := side.Opposite()

	orders := []exchange.OrderRequest{
		{Symbol: symbol, Qty: 1, Side: exitSide, Type: exchange.Stop, TimeInForce: exchange.Day, StopPrice: &stop, ClientOrderID: e.newID()},
		{Symbol: symbol, Qty: 1, Side: exitSide, Type: exchange.Limit, TimeInForce: exchange.Day, LimitPrice: &take, ClientOrderID: e.newID()},
	}
	for _, req := range orders {
		trigger := stop
		if req.Type == exchange.Limit {
			trigger = take
		}
		orderID, err := e.gw.SubmitOrder(ctx, req)
		if err != nil || orderID == "" {
			metrics.OrderFailuresTotal.WithLabelValues(symbol, string(exitSide)).Inc()
			e.log.Error().Err(err).Str("sym", symbol).Str("type", string(req.Type)).Str("op", "exits").Msg("exit order failed")
			continue
		}
		e.log.Info().Str("sym", symbol).Str("type", string(req.Type)).Str("px", trigger.String()).Msg("exit order placed")
		e.record(journal.Entry{
			Kind:          journal.KindExit,
			Symbol:        symbol,
			Side:          string(exitSide),
			Type:          string(req.Type),
			Qty:           1,
			Price:         trigger.InexactFloat64(),
			OrderID:       orderID,
			ClientOrderID: req.ClientOrderID,
		})
	}
}

func (e *Executor) exitPrices(entry float64, side exchange.Side) (stop, take decimal.Decimal) {
	if side == exchange.Sell {
		return exchange.RoundPrice(entry * (1 + e.params.StopLoss)), exchange.RoundPrice(entry * (1 - e.params.TakeProfit))
	}
	return exchange.RoundPrice(entry * (1 - e.params.StopLoss)), exchange.RoundPrice(entry * (1 + e.params.TakeProfit))
}

// heldShares returns whole shares held for symbol, 0 when the lookup fails.
func (e *Executor) heldShares(ctx context.Context, symbol string) int {
	positions, err := e.gw.Positions(ctx)
	if err != nil {
		e.log.Warn().Err(err).Str("sym", symbol).Str("op", "positions").Msg("position lookup failed")
		return 0
	}
	pos, ok := exchange.PositionFor(positions, symbol)
	if !ok {
		return 0
	}
	return int(math.Floor(pos.Qty))
}

func (e *Executor) record(entry journal.Entry) {
	entry.Ts = e.now().UTC()
	if err := e.journal.Record(entry); err != nil {
		e.log.Warn().Err(err).Str("sym", entry.Symbol).Str("op", "journal").Msg("journal write failed")
	}
}
