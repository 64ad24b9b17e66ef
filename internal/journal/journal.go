// Package journal keeps an append-only record of the orders the bot submits.
package journal

import (
	"fmt"
	"strings"
	"time"
)

// Kind distinguishes entry orders from their protective exits.
type Kind string

const (
	KindEntry Kind = "entry"
	KindExit  Kind = "exit"
)

// Entry is one submitted order.
type Entry struct {
	Ts            time.Time `json:"ts"`
	Kind          Kind      `json:"kind"`
	Symbol        string    `json:"symbol"`
	Side          string    `json:"side"`
	Type          string    `json:"type"`
	Qty           int       `json:"qty"`
	Price         float64   `json:"price,omitempty"` // reference price: sizing price for entries, trigger for exits
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Value         float64   `json:"value,omitempty"`
	Confidence    float64   `json:"confidence,omitempty"`
}

// Recorder persists journal entries.
type Recorder interface {
	Record(Entry) error
	Close() error
}

const (
	FormatJSONL  = "jsonl"
	FormatSQLite = "sqlite"
)

// Open returns the recorder for format, creating the target file if needed.
func Open(path, format string) (Recorder, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatJSONL:
		return NewJSONL(path)
	case FormatSQLite:
		return NewSQLite(path)
	default:
		return nil, fmt.Errorf("unknown journal format %q", format)
	}
}

// Discard drops every entry.
type Discard struct{}

func (Discard) Record(Entry) error { return nil }
func (Discard) Close() error       { return nil }
