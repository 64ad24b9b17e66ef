// Package state persists the daily trade counter across restarts.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/kylanj7/AlpacaAPI-TradingBot/internal/risk"
)

const (
	counterKey = "risk/daily_counter"
	dayLayout  = "20060102"
)

// Store is a small Badger KV wrapper holding bot state.
type Store struct {
	db *badger.DB
}

type counterRecord struct {
	Count int    `json:"count"`
	Day   string `json:"day"` // YYYYMMDD in local time
}

// Open creates or opens the database directory at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state: path is required")
	}
	db, err := badger.Open(badger.DefaultOptions(path).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("state: open %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// LoadCounter returns the stored counter, or a zero state when none was saved.
func (s *Store) LoadCounter() (risk.CounterState, error) {
	var rec counterRecord
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(counterKey))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return nil
			}
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil || !found {
		return risk.CounterState{}, err
	}
	day, err := time.ParseInLocation(dayLayout, rec.Day, time.Local)
	if err != nil {
		return risk.CounterState{}, fmt.Errorf("state: bad counter day %q: %w", rec.Day, err)
	}
	return risk.CounterState{Count: rec.Count, Date: day}, nil
}

// SaveCounter overwrites the stored counter.
func (s *Store) SaveCounter(c risk.CounterState) error {
	if c.Date.IsZero() {
		return nil
	}
	raw, err := json.Marshal(counterRecord{Count: c.Count, Day: c.Date.In(time.Local).Format(dayLayout)})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(counterKey), raw)
	})
}
