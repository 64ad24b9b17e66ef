package strategy

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

func barsFromCloses(symbol string, closes ...float64) []signal.Bar {
	start := time.Date(2026, 10, 16, 14, 30, 0, 0, time.UTC)
	bars := make([]signal.Bar, len(closes))
	for i, c := range closes {
		bars[i] = signal.Bar{Symbol: symbol, Open: c, High: c, Low: c, Close: c, Volume: 1000, Ts: start.Add(time.Duration(i) * time.Minute)}
	}
	return bars
}

func TestTrendFollowerLongSignal(t *testing.T) {
	strat := NewTrendFollower(0.02, 10)
	sig, err := strat.Predict(barsFromCloses("AAPL", 100, 100.5, 101))
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if sig == nil {
		t.Fatalf("expected long signal")
	}
	if math.Abs(sig.Value-0.5) > 1e-9 {
		t.Fatalf("expected value 0.5, got %.4f", sig.Value)
	}
	if sig.Confidence != math.Abs(sig.Value) {
		t.Fatalf("confidence must equal |value|")
	}
	if sig.Symbol != "AAPL" {
		t.Fatalf("unexpected symbol %q", sig.Symbol)
	}
}

func TestTrendFollowerShortSignalClipped(t *testing.T) {
	strat := NewTrendFollower(0.02, 10)
	sig, err := strat.Predict(barsFromCloses("TSLA", 200, 195, 180))
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if sig.Value != -1 {
		t.Fatalf("expected value clipped to -1, got %.4f", sig.Value)
	}
}

func TestTrendFollowerUsesWindow(t *testing.T) {
	strat := NewTrendFollower(0.01, 2)
	// only the last two bars count: flat
	sig, err := strat.Predict(barsFromCloses("MSFT", 50, 100, 100))
	if err != nil {
		t.Fatalf("Predict error: %v", err)
	}
	if sig.Value != 0 {
		t.Fatalf("expected flat signal, got %.4f", sig.Value)
	}
}

func TestTrendFollowerInsufficientHistory(t *testing.T) {
	strat := NewTrendFollower(0.01, 10)
	if _, err := strat.Predict(barsFromCloses("MSFT", 100)); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected ErrInsufficientHistory, got %v", err)
	}
}

func TestBuildModes(t *testing.T) {
	gen, err := Build("trend", Params{TrendThreshold: 0.01, TrendWindow: 5})
	if err != nil {
		t.Fatalf("Build trend: %v", err)
	}
	if gen.Name() != "TrendFollower" {
		t.Fatalf("unexpected generator %s", gen.Name())
	}
	if err := Close(gen); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := Build("onnx", Params{ModelPath: "missing.onnx", ScalerPath: "testdata/missing.yaml"}); err == nil {
		t.Fatalf("expected error for missing model artifacts")
	}
	if _, err := Build("lstm-v2", Params{}); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
