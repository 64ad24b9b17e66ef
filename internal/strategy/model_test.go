package strategy

import (
	"errors"
	"testing"
	"time"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/signal"
)

func TestSequenceModelNeedsFullWindow(t *testing.T) {
	model := &SequenceModel{scaler: &Scaler{SeqLength: 60}}
	start := time.Date(2026, 10, 16, 14, 0, 0, 0, time.UTC)
	bars := make([]signal.Bar, 59)
	for i := range bars {
		bars[i] = signal.Bar{Symbol: "AAPL", Close: 100, Ts: start.Add(time.Duration(i) * time.Minute)}
	}

	sig, err := model.Predict(bars)
	if !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected insufficient history, got %v", err)
	}
	if sig != nil {
		t.Fatalf("expected no signal, got %+v", sig)
	}
	if model.SeqLength() != 60 {
		t.Fatalf("unexpected sequence length %d", model.SeqLength())
	}

	if _, err := model.Predict(nil); !errors.Is(err, ErrInsufficientHistory) {
		t.Fatalf("expected insufficient history for empty input, got %v", err)
	}
}
