// Package signal standardizes payloads shared between data ingestion and strategy layers.
package signal

import (
	"math"
	"time"
)

// Bar models one OHLCV interval. Slices of bars are always ordered oldest first.
type Bar struct {
	Symbol string
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
	VWAP   float64
	Trades int64
	Ts     time.Time
}

// Signal expresses a directional bias produced by a generator.
type Signal struct {
	Symbol     string
	Value      float64 // sign is the direction, magnitude the strength
	Confidence float64
	Reason     string
	Ts         time.Time
}

// New builds a signal whose confidence is the magnitude of value.
func New(symbol string, value float64, reason string, ts time.Time) Signal {
	return Signal{Symbol: symbol, Value: value, Confidence: math.Abs(value), Reason: reason, Ts: ts}
}

// Direction labels a signal for logs and metrics using the supplied bands.
func (s Signal) Direction(buyAbove, sellBelow float64) string {
	switch {
	case s.Value > buyAbove:
		return "buy"
	case s.Value < sellBelow:
		return "sell"
	default:
		return "neutral"
	}
}

// Latest returns the newest bar and false when the window is empty.
func Latest(bars []Bar) (Bar, bool) {
	if len(bars) == 0 {
		return Bar{}, false
	}
	return bars[len(bars)-1], true
}

// Tail returns at most n of the newest bars without copying.
func Tail(bars []Bar, n int) []Bar {
	if n <= 0 || n >= len(bars) {
		return bars
	}
	return bars[len(bars)-n:]
}
