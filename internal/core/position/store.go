package position

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mwalsh/polyflow/internal/telemetry"

	_ "modernc.org/sqlite"
)

// Store persists the position ledger so holdings survive restarts.
// Every mutation writes through synchronously; a crash between a fill
// and its write loses at most that one fill, which the next exchange
// sync repairs.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

func OpenStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create position store dir: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init position schema: %w", err)
	}

	var rows int64
	db.QueryRow(`SELECT COUNT(*) FROM positions`).Scan(&rows)
	telemetry.Plainf("position store: opened %s  positions=%d", path, rows)
	return &Store{db: db}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS positions (
	condition_id TEXT NOT NULL,
	side         TEXT NOT NULL,
	shares       REAL NOT NULL,
	avg_price    REAL NOT NULL,
	total_cost   REAL NOT NULL,
	peak_price   REAL NOT NULL DEFAULT 0,
	updated_at   TEXT NOT NULL,
	PRIMARY KEY (condition_id, side)
);

CREATE TABLE IF NOT EXISTS trades (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	condition_id TEXT NOT NULL,
	side         TEXT NOT NULL,
	order_side   TEXT NOT NULL,
	shares       REAL NOT NULL,
	price        REAL NOT NULL,
	realized_pnl REAL NOT NULL DEFAULT 0,
	traded_at    TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_condition ON trades(condition_id);
`

// Upsert writes one position row. Zero-share positions are deleted
// instead, keeping the table equal to actual holdings.
func (s *Store) Upsert(p Position) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Shares <= 0 {
		_, err := s.db.Exec(`DELETE FROM positions WHERE condition_id=? AND side=?`, p.ConditionID, p.Side)
		return err
	}

	_, err := s.db.Exec(
		`INSERT INTO positions (condition_id, side, shares, avg_price, total_cost, peak_price, updated_at)
		 VALUES (?,?,?,?,?,?,?)
		 ON CONFLICT(condition_id, side) DO UPDATE SET
			shares=excluded.shares, avg_price=excluded.avg_price,
			total_cost=excluded.total_cost, peak_price=excluded.peak_price,
			updated_at=excluded.updated_at`,
		p.ConditionID, string(p.Side), p.Shares, p.AvgPrice, p.TotalCost, p.PeakPrice,
		p.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert position %s/%s: %w", p.ConditionID, p.Side, err)
	}
	return nil
}

// Load reads every persisted position.
func (s *Store) Load() ([]Position, error) {
	if s == nil {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT condition_id, side, shares, avg_price, total_cost, peak_price, updated_at FROM positions`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Position
	for rows.Next() {
		var p Position
		var side, updated string
		if err := rows.Scan(&p.ConditionID, &side, &p.Shares, &p.AvgPrice, &p.TotalCost, &p.PeakPrice, &updated); err != nil {
			return nil, err
		}
		p.Side = sideFromString(side)
		p.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updated)
		out = append(out, p)
	}
	return out, rows.Err()
}

// RecordTrade appends one fill to the trade history.
func (s *Store) RecordTrade(conditionID, side, orderSide string, shares, price, realized float64, at time.Time) {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(
		`INSERT INTO trades (condition_id, side, order_side, shares, price, realized_pnl, traded_at)
		 VALUES (?,?,?,?,?,?,?)`,
		conditionID, side, orderSide, shares, price, realized, at.UTC().Format(time.RFC3339Nano),
	); err != nil {
		telemetry.Warnf("position store: record trade: %v", err)
	}
}

// RealizedSince sums realized P&L from trades at or after cutoff.
func (s *Store) RealizedSince(cutoff time.Time) (float64, error) {
	if s == nil {
		return 0, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var total float64
	err := s.db.QueryRow(
		`SELECT COALESCE(SUM(realized_pnl), 0) FROM trades WHERE traded_at >= ?`,
		cutoff.UTC().Format(time.RFC3339Nano),
	).Scan(&total)
	return total, err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
