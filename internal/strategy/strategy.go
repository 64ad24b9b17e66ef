// Package strategy turns a window of bars into a directional signal.
package strategy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

// ErrInsufficientHistory is returned when the bar window is shorter than a generator needs.
var ErrInsufficientHistory = errors.New("insufficient bar history")

// Generator produces one signal from bars ordered oldest first. A nil signal with a nil error means
// the generator has no opinion.
type Generator interface {
	Predict(bars []signal.Bar) (*signal.Signal, error)
	Name() string
}

// Params expresses tunable knobs required by generator constructors.
type Params struct {
	ModelPath      string
	ScalerPath     string
	LibraryPath    string
	SequenceLength int // overrides the scaler metadata when positive
	TrendThreshold float64
	TrendWindow    int
}

const (
	ModeONNX  = "onnx"
	ModeTrend = "trend"
)

// Build returns a generator matching the configured mode. Model artifacts are loaded eagerly so a
// broken model fails at startup.
func Build(mode string, params Params) (Generator, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ModeONNX, "model", "sequence":
		model, err := NewSequenceModel(params.ModelPath, params.ScalerPath, params.LibraryPath, params.SequenceLength)
		if err != nil {
			return nil, err
		}
		return model, nil
	case ModeTrend, "trend_follow", "trend_follower":
		return NewTrendFollower(params.TrendThreshold, params.TrendWindow), nil
	default:
		return nil, fmt.Errorf("unknown strategy mode %q", mode)
	}
}

// Close releases generator resources when the generator holds any.
func Close(gen Generator) error {
	if closer, ok := gen.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
