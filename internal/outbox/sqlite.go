package outbox

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS deliveries (
  id TEXT PRIMARY KEY,
  market_id INTEGER NOT NULL,
  diff TEXT NOT NULL,
  attempts INTEGER NOT NULL DEFAULT 0,
  next_attempt_at INTEGER NOT NULL,
  last_error TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_due ON deliveries(next_attempt_at);
`

// SQLiteStore persists deliveries across restarts in a single-file database.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open outbox db: %w", err)
	}
	// The driver serializes writes; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init outbox schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Enqueue(ctx context.Context, marketID int64, diff map[string]int) (string, error) {
	d := newDelivery(marketID, diff, time.Now())
	blob, err := json.Marshal(d.Diff)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO deliveries (id, market_id, diff, attempts, next_attempt_at, last_error, created_at)
		 VALUES (?, ?, ?, 0, ?, '', ?)`,
		d.ID, d.MarketID, string(blob), d.NextAttemptAt.UnixMilli(), d.CreatedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("enqueue delivery: %w", err)
	}
	return d.ID, nil
}

func (s *SQLiteStore) FetchDue(ctx context.Context, now time.Time, limit int) ([]Delivery, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, market_id, diff, attempts, next_attempt_at, last_error, created_at
		 FROM deliveries WHERE next_attempt_at <= ? ORDER BY created_at LIMIT ?`,
		now.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		var blob string
		var nextAt, createdAt int64
		if err := rows.Scan(&d.ID, &d.MarketID, &blob, &d.Attempts, &nextAt, &d.LastError, &createdAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(blob), &d.Diff); err != nil {
			return nil, fmt.Errorf("decode delivery %s: %w", d.ID, err)
		}
		d.NextAttemptAt = time.UnixMilli(nextAt)
		d.CreatedAt = time.UnixMilli(createdAt)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM deliveries WHERE id = ?`, id)
	return err
}

func (s *SQLiteStore) Fail(ctx context.Context, id string, attempts int, nextAt time.Time, lastErr string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE deliveries SET attempts = ?, next_attempt_at = ?, last_error = ? WHERE id = ?`,
		attempts, nextAt.UnixMilli(), lastErr, id)
	return err
}

func (s *SQLiteStore) Pending(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deliveries`).Scan(&n)
	return n, err
}

func (s *SQLiteStore) Close() error { return s.db.Close() }
