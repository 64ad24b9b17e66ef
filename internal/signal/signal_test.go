package signal

import (
	"testing"
	"time"
)

func TestNewConfidenceIsMagnitude(t *testing.T) {
	sig := New("AAPL", -0.7, "model", time.Now())
	if sig.Confidence != 0.7 {
		t.Fatalf("expected confidence 0.7, got %.2f", sig.Confidence)
	}
	if sig.Direction(0.5, -0.5) != "sell" {
		t.Fatalf("expected sell direction, got %s", sig.Direction(0.5, -0.5))
	}
	if New("AAPL", 0.5, "", time.Now()).Direction(0.5, -0.5) != "neutral" {
		t.Fatalf("band edge must be neutral")
	}
}

func TestLatestAndTail(t *testing.T) {
	if _, ok := Latest(nil); ok {
		t.Fatalf("expected no bar from empty window")
	}
	bars := []Bar{{Close: 1}, {Close: 2}, {Close: 3}}
	last, ok := Latest(bars)
	if !ok || last.Close != 3 {
		t.Fatalf("unexpected latest bar: %+v", last)
	}
	if tail := Tail(bars, 2); len(tail) != 2 || tail[0].Close != 2 {
		t.Fatalf("unexpected tail: %+v", tail)
	}
	if tail := Tail(bars, 10); len(tail) != 3 {
		t.Fatalf("tail larger than window should return everything")
	}
}
