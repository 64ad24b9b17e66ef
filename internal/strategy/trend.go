package strategy

import (
	"fmt"
	"math"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

// TrendFollower scores price momentum over the last window bars. The value is the percent change
// divided by the threshold, clipped to [-1, 1], so a move of threshold or more is full strength.
type TrendFollower struct {
	threshold float64
	window    int
}

// NewTrendFollower builds a momentum generator using a percent change threshold.
func NewTrendFollower(threshold float64, window int) *TrendFollower {
	if threshold <= 0 {
		threshold = 0.01
	}
	if window < 2 {
		window = 30
	}
	return &TrendFollower{threshold: threshold, window: window}
}

// Name returns the configured identifier for logging.
func (t *TrendFollower) Name() string { return "TrendFollower" }

// Predict compares the newest close with the oldest close in the window.
func (t *TrendFollower) Predict(bars []signal.Bar) (*signal.Signal, error) {
	if len(bars) < 2 {
		return nil, fmt.Errorf("%w: have %d bars, need 2", ErrInsufficientHistory, len(bars))
	}
	window := signal.Tail(bars, t.window)
	oldest, latest := window[0], window[len(window)-1]
	if oldest.Close <= 0 {
		return nil, nil
	}

	change := (latest.Close - oldest.Close) / oldest.Close
	value := math.Max(-1, math.Min(1, change/t.threshold))
	var volume float64
	for _, b := range window {
		volume += b.Volume
	}
	reason := fmt.Sprintf("Δ=%.2f%% bars=%d volume=%.0f", change*100, len(window), volume)
	sig := signal.New(latest.Symbol, value, reason, latest.Ts)
	return &sig, nil
}
