package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TEXT NOT NULL,
	kind TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	type TEXT NOT NULL,
	qty INTEGER NOT NULL,
	price REAL NOT NULL DEFAULT 0,
	order_id TEXT NOT NULL,
	client_order_id TEXT NOT NULL DEFAULT '',
	value REAL NOT NULL DEFAULT 0,
	confidence REAL NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_orders_symbol_ts ON orders(symbol, ts);
`

// SQLite stores entries in an orders table.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and applies the schema.
func NewSQLite(path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply journal schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Record inserts one row.
func (s *SQLite) Record(entry Entry) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO orders (ts, kind, symbol, side, type, qty, price, order_id, client_order_id, value, confidence)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.Ts.UTC().Format(time.RFC3339Nano), string(entry.Kind), entry.Symbol, entry.Side, entry.Type,
		entry.Qty, entry.Price, entry.OrderID, entry.ClientOrderID, entry.Value, entry.Confidence)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}
	return nil
}

// Entries returns recorded rows for symbol (all symbols when empty), oldest first.
func (s *SQLite) Entries(ctx context.Context, symbol string) ([]Entry, error) {
	query := `SELECT ts, kind, symbol, side, type, qty, price, order_id, client_order_id, value, confidence FROM orders`
	args := []any{}
	if symbol != "" {
		query += ` WHERE symbol = ?`
		args = append(args, symbol)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			entry Entry
			ts    string
			kind  string
		)
		if err := rows.Scan(&ts, &kind, &entry.Symbol, &entry.Side, &entry.Type, &entry.Qty, &entry.Price,
			&entry.OrderID, &entry.ClientOrderID, &entry.Value, &entry.Confidence); err != nil {
			return nil, err
		}
		entry.Kind = Kind(kind)
		if entry.Ts, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse journal ts: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }
