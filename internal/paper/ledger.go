package paper

import (
	"sync"
	"time"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/exchange"
)

// OrderStatus tracks a simulated order through its life.
type OrderStatus string

const (
	StatusFilled   OrderStatus = "filled"
	StatusOpen     OrderStatus = "open"
	StatusRejected OrderStatus = "rejected"
	StatusCanceled OrderStatus = "canceled"
)

// Order is one order the simulated broker accepted.
type Order struct {
	ID        string
	Request   exchange.OrderRequest
	Status    OrderStatus
	FillPrice float64
	FillQty   float64
	Submitted time.Time
	Filled    time.Time
	parent    string // entry order id for bracket legs
}

// Ledger stores paper orders in memory for quick inspection.
type Ledger struct {
	mu     sync.Mutex
	orders []Order
}

// NewLedger creates an empty ledger optionally pre-sizing storage.
func NewLedger(capacity int) *Ledger {
	if capacity < 0 {
		capacity = 0
	}
	return &Ledger{orders: make([]Order, 0, capacity)}
}

// Record appends an order to the ledger.
func (l *Ledger) Record(order Order) {
	l.mu.Lock()
	l.orders = append(l.orders, order)
	l.mu.Unlock()
}

// Resting returns open orders for symbol.
func (l *Ledger) Resting(symbol string) []Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []Order
	for _, o := range l.orders {
		if o.Status == StatusOpen && o.Request.Symbol == symbol {
			out = append(out, o)
		}
	}
	return out
}

// Status returns the current status of order id.
func (l *Ledger) Status(id string) (OrderStatus, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, o := range l.orders {
		if o.ID == id {
			return o.Status, true
		}
	}
	return "", false
}

// Update replaces the stored order with the same id.
func (l *Ledger) Update(order Order) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.orders {
		if l.orders[i].ID == order.ID {
			l.orders[i] = order
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the recorded orders.
func (l *Ledger) Snapshot() []Order {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Order, len(l.orders))
	copy(out, l.orders)
	return out
}

// Reset clears all stored orders.
func (l *Ledger) Reset() {
	l.mu.Lock()
	l.orders = l.orders[:0]
	l.mu.Unlock()
}
