package strategy

import (
	"fmt"
	"os"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gopkg.in/yaml.v3"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

// Scaler holds the standard-scaling parameters and layout the model was trained with.
type Scaler struct {
	Features   []string  `yaml:"features"`
	Mean       []float64 `yaml:"mean"`
	Scale      []float64 `yaml:"scale"`
	CloseIdx   int       `yaml:"close_idx"`
	SeqLength  int       `yaml:"seq_length"`
	OutputSize int       `yaml:"output_size"`
	InputName  string    `yaml:"input_name"`
	OutputName string    `yaml:"output_name"`
}

var barFields = map[string]func(signal.Bar) float64{
	"open":        func(b signal.Bar) float64 { return b.Open },
	"high":        func(b signal.Bar) float64 { return b.High },
	"low":         func(b signal.Bar) float64 { return b.Low },
	"close":       func(b signal.Bar) float64 { return b.Close },
	"volume":      func(b signal.Bar) float64 { return b.Volume },
	"vwap":        func(b signal.Bar) float64 { return b.VWAP },
	"trade_count": func(b signal.Bar) float64 { return float64(b.Trades) },
}

// LoadScaler reads scaler metadata from YAML and fills defaults.
func LoadScaler(path string) (*Scaler, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scaler: %w", err)
	}
	s := &Scaler{SeqLength: 60, OutputSize: 1, InputName: "input", OutputName: "output"}
	if err := yaml.Unmarshal(raw, s); err != nil {
		return nil, fmt.Errorf("decode scaler: %w", err)
	}
	for i, f := range s.Features {
		s.Features[i] = strings.ToLower(strings.TrimSpace(f))
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("scaler %s: %w", path, err)
	}
	return s, nil
}

func (s *Scaler) validate() error {
	n := len(s.Features)
	switch {
	case n == 0:
		return fmt.Errorf("no features")
	case len(s.Mean) != n || len(s.Scale) != n:
		return fmt.Errorf("mean/scale length %d/%d does not match %d features", len(s.Mean), len(s.Scale), n)
	case s.SeqLength <= 0:
		return fmt.Errorf("seq_length must be positive")
	case s.OutputSize <= 0:
		return fmt.Errorf("output_size must be positive")
	case s.CloseIdx < 0 || s.CloseIdx >= n:
		return fmt.Errorf("close_idx %d out of range", s.CloseIdx)
	}
	for i, f := range s.Features {
		if _, ok := barFields[f]; !ok {
			return fmt.Errorf("unknown feature %q", f)
		}
		if s.Scale[i] == 0 {
			return fmt.Errorf("zero scale for feature %q", f)
		}
	}
	return nil
}

// Transform scales bars row by row into a flat [len(bars) x features] buffer.
func (s *Scaler) Transform(bars []signal.Bar) []float32 {
	n := len(s.Features)
	out := make([]float32, 0, len(bars)*n)
	row := make([]float64, n)
	for _, b := range bars {
		for i, f := range s.Features {
			row[i] = barFields[f](b)
		}
		floats.Sub(row, s.Mean)
		floats.Div(row, s.Scale)
		for _, v := range row {
			out = append(out, float32(v))
		}
	}
	return out
}
