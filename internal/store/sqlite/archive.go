// Package sqlite archives fetched candles so the buffer can be seeded on
// start-up and the bot's inputs can be inspected after the fact.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"trading-botv1/internal/model"
)

// Archive stores candles keyed by (symbol, interval, open_time).
type Archive struct {
	db *sql.DB
}

var _ model.CandleArchive = (*Archive)(nil)

// Open opens or creates the archive at path, enabling WAL mode.
func Open(path string) (*Archive, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Printf("[sqlite] opened candle archive at %s", path)
	return &Archive{db: db}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles (
			symbol     TEXT    NOT NULL,
			interval   TEXT    NOT NULL,
			open_time  INTEGER NOT NULL,
			open       REAL    NOT NULL,
			high       REAL    NOT NULL,
			low        REAL    NOT NULL,
			close      REAL    NOT NULL,
			volume     REAL    NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, interval, open_time)
		);
	`)
	return err
}

// SaveCandles upserts candles in one transaction. The still-forming last
// candle is overwritten by later refreshes.
func (a *Archive) SaveCandles(symbol, interval string, candles []model.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	tx, err := a.db.Begin()
	if err != nil {
		return fmt.Errorf("sqlite begin: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
			open = excluded.open,
			high = excluded.high,
			low = excluded.low,
			close = excluded.close,
			volume = excluded.volume,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("sqlite prepare: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for _, c := range candles {
		if _, err := stmt.Exec(symbol, interval, c.OpenTime.UnixMilli(), c.Open, c.High, c.Low, c.Close, c.Volume, now); err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlite insert candle: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite commit: %w", err)
	}
	return nil
}

// LoadCandles returns the newest limit candles, oldest first.
func (a *Archive) LoadCandles(symbol, interval string, limit int) ([]model.Candle, error) {
	rows, err := a.db.Query(`
		SELECT open_time, open, high, low, close, volume FROM (
			SELECT open_time, open, high, low, close, volume
			FROM candles
			WHERE symbol = ? AND interval = ?
			ORDER BY open_time DESC
			LIMIT ?
		) ORDER BY open_time ASC
	`, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("sqlite query candles: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		var c model.Candle
		var openMs int64
		if err := rows.Scan(&openMs, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("sqlite scan candle: %w", err)
		}
		c.OpenTime = time.UnixMilli(openMs).UTC()
		candles = append(candles, c)
	}
	return candles, rows.Err()
}

// Ping checks the database for health reporting.
func (a *Archive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Close closes the database.
func (a *Archive) Close() error {
	return a.db.Close()
}
