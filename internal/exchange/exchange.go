// Package exchange hosts the brokerage gateway: account, positions, bars, orders and market clock.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

var (
	// ErrTradingBlocked is returned at startup when the broker refuses trading on the account.
	ErrTradingBlocked = errors.New("trading is blocked on this account")
	// ErrNoOrderID is returned when the broker accepts a request but reports no order identifier.
	ErrNoOrderID = errors.New("order accepted without id")
)

// Side enumerates order directions.
type Side string

const (
	// Buy opens or adds to a long position.
	Buy Side = "buy"
	// Sell reduces a long position.
	Sell Side = "sell"
)

// Opposite returns the side that closes a position opened on s.
func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType is the broker order type.
type OrderType string

const (
	Market OrderType = "market"
	Limit  OrderType = "limit"
	Stop   OrderType = "stop"
)

// TimeInForce is the broker time-in-force instruction.
type TimeInForce string

const (
	Day TimeInForce = "day"
	GTC TimeInForce = "gtc"
)

// OrderRequest represents a placement request handed to a Gateway.
type OrderRequest struct {
	Symbol        string
	Qty           int
	Side          Side
	Type          OrderType
	TimeInForce   TimeInForce
	StopPrice     *decimal.Decimal
	LimitPrice    *decimal.Decimal
	ClientOrderID string
	// TakeProfit and StopLoss turn a market entry into a native bracket order when both are set.
	TakeProfit *decimal.Decimal
	StopLoss   *decimal.Decimal
}

// Bracket reports whether the request carries both bracket legs.
func (o OrderRequest) Bracket() bool {
	return o.TakeProfit != nil && o.StopLoss != nil
}

// Validate rejects requests the broker would refuse anyway.
func (o OrderRequest) Validate() error {
	if o.Symbol == "" {
		return errors.New("order symbol is empty")
	}
	if o.Qty < 1 {
		return fmt.Errorf("order quantity %d below 1", o.Qty)
	}
	if o.Side != Buy && o.Side != Sell {
		return fmt.Errorf("unknown order side %q", o.Side)
	}
	switch o.Type {
	case Market:
	case Limit:
		if o.LimitPrice == nil {
			return errors.New("limit order without limit price")
		}
	case Stop:
		if o.StopPrice == nil {
			return errors.New("stop order without stop price")
		}
	default:
		return fmt.Errorf("unknown order type %q", o.Type)
	}
	return nil
}

// Account is a point-in-time snapshot of the brokerage account.
type Account struct {
	Status         string
	TradingBlocked bool
	BuyingPower    float64
	Cash           float64
	PortfolioValue float64
	DayTradeCount  int
}

// Position is a single held symbol. Qty is the long quantity held.
type Position struct {
	Symbol        string
	Qty           float64
	MarketValue   float64
	UnrealizedPL  float64
	AvgEntryPrice float64
}

// Clock is the broker's view of the trading session.
type Clock struct {
	Timestamp time.Time
	IsOpen    bool
	NextOpen  time.Time
	NextClose time.Time
}

// TradeUpdate is one order lifecycle event pushed by the broker.
type TradeUpdate struct {
	Event         string
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          Side
	Type          OrderType
	Price         float64
	Qty           float64
	PositionQty   float64
	Ts            time.Time
}

// Fill reports whether the update completed the order.
func (u TradeUpdate) Fill() bool { return u.Event == "fill" }

// Gateway is the capability set the trading loop needs from a broker.
// Every call is blocking and fallible; implementations own timeouts and retries.
type Gateway interface {
	Bars(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Bar, error)
	Account(ctx context.Context) (Account, error)
	Positions(ctx context.Context) ([]Position, error)
	SubmitOrder(ctx context.Context, req OrderRequest) (string, error)
	IsMarketOpen(ctx context.Context) (bool, error)
	Clock(ctx context.Context) (Clock, error)
}

// PositionFor scans positions for symbol.
func PositionFor(positions []Position, symbol string) (Position, bool) {
	for _, pos := range positions {
		if pos.Symbol == symbol {
			return pos, true
		}
	}
	return Position{}, false
}

// RoundPrice rounds to the broker's tick: cents at or above one dollar, hundredths of a cent below.
func RoundPrice(price float64) decimal.Decimal {
	d := decimal.NewFromFloat(price)
	if d.LessThan(decimal.NewFromInt(1)) {
		return d.Round(4)
	}
	return d.Round(2)
}
