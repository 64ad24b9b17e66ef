package exchange

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/config"
	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

// barLookback bounds how far back bar queries reach so weekends and holidays still yield a full window.
const barLookback = 7 * 24 * time.Hour

// Alpaca talks to the Alpaca trading and market data REST APIs.
type Alpaca struct {
	trading *resty.Client
	data    *resty.Client
	feed    string
	log     zerolog.Logger
	now     func() time.Time
}

type alpacaAccount struct {
	Status         string          `json:"status"`
	TradingBlocked bool            `json:"trading_blocked"`
	AccountBlocked bool            `json:"account_blocked"`
	BuyingPower    decimal.Decimal `json:"buying_power"`
	Cash           decimal.Decimal `json:"cash"`
	PortfolioValue decimal.Decimal `json:"portfolio_value"`
	DaytradeCount  int             `json:"daytrade_count"`
}

type alpacaPosition struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	MarketValue   decimal.Decimal `json:"market_value"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
}

type alpacaLeg struct {
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice  *decimal.Decimal `json:"stop_price,omitempty"`
}

type alpacaOrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           string           `json:"qty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
	OrderClass    string           `json:"order_class,omitempty"`
	TakeProfit    *alpacaLeg       `json:"take_profit,omitempty"`
	StopLoss      *alpacaLeg       `json:"stop_loss,omitempty"`
}

type alpacaOrder struct {
	ID            string          `json:"id"`
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          string          `json:"side"`
	Type          string          `json:"type"`
	Status        string          `json:"status"`
	Qty           decimal.Decimal `json:"qty"`
}

type alpacaClock struct {
	Timestamp time.Time `json:"timestamp"`
	IsOpen    bool      `json:"is_open"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

type alpacaBar struct {
	T  time.Time `json:"t"`
	O  float64   `json:"o"`
	H  float64   `json:"h"`
	L  float64   `json:"l"`
	C  float64   `json:"c"`
	V  float64   `json:"v"`
	N  int64     `json:"n"`
	VW float64   `json:"vw"`
}

type alpacaBars struct {
	Symbol string      `json:"symbol"`
	Bars   []alpacaBar `json:"bars"`
}

type alpacaError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewAlpaca builds a client for the trading and data hosts named in cfg.
func NewAlpaca(cfg config.Alpaca, log zerolog.Logger) *Alpaca {
	headers := map[string]string{
		"APCA-API-KEY-ID":     cfg.APIKey,
		"APCA-API-SECRET-KEY": cfg.APISecret,
		"Accept":              "application/json",
	}
	// orders are never retried: a timeout after the broker accepted would duplicate the order
	trading := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetHeaders(headers)
	data := resty.New().
		SetBaseURL(strings.TrimSuffix(cfg.DataURL, "/")).
		SetTimeout(cfg.Timeout()).
		SetHeaders(headers).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			if err != nil || resp == nil {
				return true
			}
			return resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500
		})
	feed := cfg.Feed
	if feed == "" {
		feed = "iex"
	}
	return &Alpaca{trading: trading, data: data, feed: feed, log: log, now: time.Now}
}

// Validate checks connectivity and that the account may trade. Failures are fatal at startup.
func (a *Alpaca) Validate(ctx context.Context) (Account, error) {
	var raw alpacaAccount
	if err := a.get(ctx, a.trading, "/v2/account", nil, nil, &raw); err != nil {
		return Account{}, fmt.Errorf("connect alpaca: %w", err)
	}
	account := raw.toAccount()
	if raw.TradingBlocked || raw.AccountBlocked {
		return account, ErrTradingBlocked
	}
	a.log.Info().Str("status", raw.Status).Float64("portfolio_value", account.PortfolioValue).Msg("connected to alpaca")
	return account, nil
}

// Account fetches a fresh account snapshot.
func (a *Alpaca) Account(ctx context.Context) (Account, error) {
	var raw alpacaAccount
	if err := a.get(ctx, a.trading, "/v2/account", nil, nil, &raw); err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return raw.toAccount(), nil
}

// Positions lists every open position.
func (a *Alpaca) Positions(ctx context.Context) ([]Position, error) {
	var raw []alpacaPosition
	if err := a.get(ctx, a.trading, "/v2/positions", nil, nil, &raw); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	out := make([]Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, Position{
			Symbol:        p.Symbol,
			Qty:           p.Qty.InexactFloat64(),
			MarketValue:   p.MarketValue.InexactFloat64(),
			UnrealizedPL:  p.UnrealizedPL.InexactFloat64(),
			AvgEntryPrice: p.AvgEntryPrice.InexactFloat64(),
		})
	}
	return out, nil
}

// Clock fetches the market clock.
func (a *Alpaca) Clock(ctx context.Context) (Clock, error) {
	var raw alpacaClock
	if err := a.get(ctx, a.trading, "/v2/clock", nil, nil, &raw); err != nil {
		return Clock{}, fmt.Errorf("get clock: %w", err)
	}
	return Clock(raw), nil
}

// IsMarketOpen reports whether the regular session is open.
func (a *Alpaca) IsMarketOpen(ctx context.Context) (bool, error) {
	clock, err := a.Clock(ctx)
	if err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

// Bars returns up to limit of the most recent bars for symbol, oldest first.
func (a *Alpaca) Bars(ctx context.Context, symbol, timeframe string, limit int) ([]signal.Bar, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("bars %s: limit must be positive", symbol)
	}
	query := map[string]string{
		"timeframe": timeframe,
		"limit":     strconv.Itoa(limit),
		"feed":      a.feed,
		"sort":      "desc",
		"start":     a.now().Add(-barLookback).UTC().Format(time.RFC3339),
	}
	var raw alpacaBars
	if err := a.get(ctx, a.data, "/v2/stocks/{symbol}/bars", map[string]string{"symbol": symbol}, query, &raw); err != nil {
		return nil, fmt.Errorf("bars %s: %w", symbol, err)
	}
	bars := make([]signal.Bar, 0, len(raw.Bars))
	for _, b := range raw.Bars {
		bars = append(bars, signal.Bar{
			Symbol: symbol,
			Open:   b.O,
			High:   b.H,
			Low:    b.L,
			Close:  b.C,
			Volume: b.V,
			VWAP:   b.VW,
			Trades: b.N,
			Ts:     b.T,
		})
	}
	slices.Reverse(bars)
	return bars, nil
}

// SubmitOrder places req and returns the broker order id.
func (a *Alpaca) SubmitOrder(ctx context.Context, req OrderRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	body := alpacaOrderRequest{
		Symbol:        req.Symbol,
		Qty:           strconv.Itoa(req.Qty),
		Side:          string(req.Side),
		Type:          string(req.Type),
		TimeInForce:   string(req.TimeInForce),
		StopPrice:     req.StopPrice,
		LimitPrice:    req.LimitPrice,
		ClientOrderID: req.ClientOrderID,
	}
	if req.Bracket() {
		body.OrderClass = "bracket"
		body.TakeProfit = &alpacaLeg{LimitPrice: req.TakeProfit}
		body.StopLoss = &alpacaLeg{StopPrice: req.StopLoss}
	}

	var order alpacaOrder
	var apiErr alpacaError
	resp, err := a.trading.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&order).
		SetError(&apiErr).
		Post("/v2/orders")
	if err != nil {
		return "", fmt.Errorf("submit order %s: %w", req.Symbol, err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("submit order %s: %w", req.Symbol, statusError(resp, apiErr))
	}
	if order.ID == "" {
		return "", ErrNoOrderID
	}
	a.log.Info().Str("sym", req.Symbol).Str("side", string(req.Side)).Int("qty", req.Qty).
		Str("type", string(req.Type)).Str("order_id", order.ID).Str("status", order.Status).Msg("order placed")
	return order.ID, nil
}

func (a *Alpaca) get(ctx context.Context, client *resty.Client, path string, pathParams, query map[string]string, out any) error {
	var apiErr alpacaError
	req := client.R().SetContext(ctx).SetResult(out).SetError(&apiErr)
	if pathParams != nil {
		req.SetPathParams(pathParams)
	}
	if query != nil {
		req.SetQueryParams(query)
	}
	resp, err := req.Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return statusError(resp, apiErr)
	}
	return nil
}

func statusError(resp *resty.Response, apiErr alpacaError) error {
	if apiErr.Message != "" {
		return fmt.Errorf("alpaca %d: %s", resp.StatusCode(), apiErr.Message)
	}
	return fmt.Errorf("alpaca %d: %s", resp.StatusCode(), strings.TrimSpace(resp.String()))
}

func (raw alpacaAccount) toAccount() Account {
	return Account{
		Status:         raw.Status,
		TradingBlocked: raw.TradingBlocked || raw.AccountBlocked,
		BuyingPower:    raw.BuyingPower.InexactFloat64(),
		Cash:           raw.Cash.InexactFloat64(),
		PortfolioValue: raw.PortfolioValue.InexactFloat64(),
		DayTradeCount:  raw.DaytradeCount,
	}
}
