package risk

import (
	"sync"
	"time"
)

// CounterState is the persisted form of a DailyCounter.
type CounterState struct {
	Count int
	Date  time.Time // local midnight of the counted day; zero before the first check
}

// CounterStore persists the daily counter across restarts.
type CounterStore interface {
	LoadCounter() (CounterState, error)
	SaveCounter(CounterState) error
}

// DailyCounter counts trades for one calendar day. It resets lazily the first time it is
// rolled on a new date and never decreases within a day.
type DailyCounter struct {
	mu    sync.Mutex
	count int
	date  time.Time
}

// Roll resets the count when now falls on a different date. It reports whether a reset happened.
func (c *DailyCounter) Roll(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.date.IsZero() && sameDay(c.date, now) {
		return false
	}
	c.count = 0
	c.date = midnight(now)
	return true
}

// Increment adds one trade and returns the new count.
func (c *DailyCounter) Increment() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count++
	return c.count
}

// Count returns trades counted for the current date.
func (c *DailyCounter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// State snapshots the counter.
func (c *DailyCounter) State() CounterState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CounterState{Count: c.count, Date: c.date}
}

// Restore replaces the counter contents.
func (c *DailyCounter) Restore(state CounterState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count = state.Count
	c.date = midnight(state.Date)
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func sameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
