package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Stream consumes the Alpaca trade_updates websocket.
type Stream struct {
	url    string
	key    string
	secret string
	log    zerolog.Logger

	minBackoff time.Duration
	maxBackoff time.Duration
	wait       func(ctx context.Context, d time.Duration) error
}

type streamEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

type streamAuthorization struct {
	Action string `json:"action"`
	Status string `json:"status"`
}

type streamTradeUpdate struct {
	Event       string           `json:"event"`
	Timestamp   time.Time        `json:"timestamp"`
	Price       *decimal.Decimal `json:"price"`
	Qty         *decimal.Decimal `json:"qty"`
	PositionQty *decimal.Decimal `json:"position_qty"`
	Order       struct {
		ID             string           `json:"id"`
		ClientOrderID  string           `json:"client_order_id"`
		Symbol         string           `json:"symbol"`
		Side           string           `json:"side"`
		Type           string           `json:"type"`
		FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
		FilledQty      *decimal.Decimal `json:"filled_qty"`
	} `json:"order"`
}

// NewStream prepares a trade update stream against url (e.g. wss://paper-api.alpaca.markets/stream).
func NewStream(url, key, secret string, log zerolog.Logger) *Stream {
	return &Stream{url: url, key: key, secret: secret, log: log, minBackoff: time.Second, maxBackoff: 30 * time.Second, wait: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run pushes trade updates onto out until the context is canceled, reconnecting with backoff. The
// backoff starts over after every connection that got through the handshake.
func (s *Stream) Run(ctx context.Context, out chan<- TradeUpdate) error {
	backoff := s.minBackoff
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		connected, err := s.consume(ctx, out)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errUnauthorized) {
			return err
		}
		if connected {
			backoff = s.minBackoff
		}
		s.log.Warn().Err(err).Dur("retry_in", backoff).Msg("trade update stream disconnected, retrying")
		if err := s.wait(ctx, backoff); err != nil {
			return err
		}
		backoff = time.Duration(math.Min(float64(s.maxBackoff), float64(backoff)*1.8))
	}
}

var errUnauthorized = errors.New("trade update stream unauthorized")

// consume reads one connection until it drops. connected reports whether the handshake succeeded.
func (s *Stream) consume(ctx context.Context, out chan<- TradeUpdate) (connected bool, err error) {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	conn.SetReadLimit(1 << 20)
	if err := s.handshake(conn); err != nil {
		return false, err
	}
	s.log.Info().Str("url", s.url).Msg("listening for trade updates")

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go func() {
		ticker := time.NewTicker(20 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					s.log.Warn().Err(err).Msg("trade update ping failed")
					return
				}
			case <-pingCtx.Done():
				// unblock ReadMessage so consume can return
				_ = conn.Close()
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))

		update, ok, err := decodeTradeUpdate(message)
		if err != nil {
			s.log.Warn().Err(err).Msg("failed to decode trade update")
			continue
		}
		if !ok {
			continue
		}
		select {
		case out <- update:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

func (s *Stream) handshake(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	if err := conn.WriteJSON(map[string]string{"action": "auth", "key": s.key, "secret": s.secret}); err != nil {
		return fmt.Errorf("send auth: %w", err)
	}
	conn.SetReadDeadline(time.Now().Add(10 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	var auth streamAuthorization
	if err := json.Unmarshal(env.Data, &auth); err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}
	if env.Stream != "authorization" || auth.Status != "authorized" {
		return fmt.Errorf("%w: %s", errUnauthorized, auth.Status)
	}

	listen := map[string]any{"action": "listen", "data": map[string][]string{"streams": {"trade_updates"}}}
	if err := conn.WriteJSON(listen); err != nil {
		return fmt.Errorf("send listen: %w", err)
	}
	return nil
}

// decodeTradeUpdate returns ok=false for frames that are not trade updates (listening acks etc.).
func decodeTradeUpdate(message []byte) (TradeUpdate, bool, error) {
	var env streamEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		return TradeUpdate{}, false, err
	}
	if env.Stream != "trade_updates" {
		return TradeUpdate{}, false, nil
	}
	var raw streamTradeUpdate
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return TradeUpdate{}, false, err
	}
	price := raw.Price
	if price == nil {
		price = raw.Order.FilledAvgPrice
	}
	qty := raw.Qty
	if qty == nil {
		qty = raw.Order.FilledQty
	}
	return TradeUpdate{
		Event:         raw.Event,
		OrderID:       raw.Order.ID,
		ClientOrderID: raw.Order.ClientOrderID,
		Symbol:        raw.Order.Symbol,
		Side:          Side(raw.Order.Side),
		Type:          OrderType(raw.Order.Type),
		Price:         floatOf(price),
		Qty:           floatOf(qty),
		PositionQty:   floatOf(raw.PositionQty),
		Ts:            raw.Timestamp,
	}, true, nil
}

func floatOf(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}
