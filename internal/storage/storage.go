// Package storage provides SQLite-backed persistence for the banned-symbol
// set, the pair-coverage cache, and the completed-event ledger.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dkrylov/spreadwatch/internal/models"
	_ "modernc.org/sqlite"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db *sql.DB
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/spreadwatch/data.db.
func New(dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "spreadwatch", "data.db")
	}
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS banned_symbols (
			symbol    TEXT PRIMARY KEY,
			banned_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS coverage (
			symbol     TEXT NOT NULL,
			venues     TEXT NOT NULL,
			verified   INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, verified)
		)`,
		`CREATE TABLE IF NOT EXISTS completed_events (
			id               TEXT PRIMARY KEY,
			seq              INTEGER NOT NULL,
			symbol           TEXT NOT NULL,
			max_spread       REAL NOT NULL,
			duration_seconds INTEGER NOT NULL,
			start_time       INTEGER NOT NULL,
			end_time         INTEGER NOT NULL,
			day_key          TEXT NOT NULL,
			position_limit   INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_day ON completed_events(day_key)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddBanned inserts a symbol into the persisted ban set. Re-banning an
// already banned symbol is a no-op.
func (s *Storage) AddBanned(symbol string) error {
	_, err := s.db.Exec(`INSERT OR IGNORE INTO banned_symbols (symbol, banned_at) VALUES (?, ?)`,
		symbol, time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to ban symbol: %w", err)
	}
	return nil
}

// RemoveBanned deletes a symbol from the persisted ban set.
func (s *Storage) RemoveBanned(symbol string) error {
	if _, err := s.db.Exec(`DELETE FROM banned_symbols WHERE symbol = ?`, symbol); err != nil {
		return fmt.Errorf("failed to unban symbol: %w", err)
	}
	return nil
}

// LoadBanned returns all persisted banned symbols.
func (s *Storage) LoadBanned() ([]string, error) {
	rows, err := s.db.Query(`SELECT symbol FROM banned_symbols ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("failed to query banned symbols: %w", err)
	}
	defer rows.Close()
	var symbols []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("failed to scan banned symbol: %w", err)
		}
		symbols = append(symbols, sym)
	}
	return symbols, rows.Err()
}

// SaveCoverage replaces the stored coverage set (verified or raw) with the
// given symbols, all stamped with the current time.
func (s *Storage) SaveCoverage(symbols []string, venues []string, verified bool) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM coverage WHERE verified = ?`, boolToInt(verified)); err != nil {
		return fmt.Errorf("failed to clear coverage: %w", err)
	}
	now := time.Now().UnixNano()
	venueList := strings.Join(venues, ",")
	for _, sym := range symbols {
		if _, err := tx.Exec(`INSERT OR REPLACE INTO coverage (symbol, venues, verified, updated_at) VALUES (?,?,?,?)`,
			sym, venueList, boolToInt(verified), now); err != nil {
			return fmt.Errorf("failed to insert coverage row: %w", err)
		}
	}
	return tx.Commit()
}

// LoadCoverage returns the stored coverage symbols and their save time.
// A zero time means there is no stored coverage of that kind.
func (s *Storage) LoadCoverage(verified bool) ([]string, time.Time, error) {
	rows, err := s.db.Query(`SELECT symbol, updated_at FROM coverage WHERE verified = ? ORDER BY symbol`,
		boolToInt(verified))
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to query coverage: %w", err)
	}
	defer rows.Close()

	var symbols []string
	var newest int64
	for rows.Next() {
		var sym string
		var at int64
		if err := rows.Scan(&sym, &at); err != nil {
			return nil, time.Time{}, fmt.Errorf("failed to scan coverage row: %w", err)
		}
		symbols = append(symbols, sym)
		if at > newest {
			newest = at
		}
	}
	if err := rows.Err(); err != nil {
		return nil, time.Time{}, err
	}
	if newest == 0 {
		return nil, time.Time{}, nil
	}
	return symbols, time.Unix(0, newest), nil
}

// SaveEvent upserts a completed event into the ledger. Merged events reuse
// their id, so a merge shows up as an update of the existing row.
func (s *Storage) SaveEvent(ev *models.CompletedEvent) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("invalid event: %w", err)
	}
	_, err := s.db.Exec(`
		INSERT OR REPLACE INTO completed_events
			(id, seq, symbol, max_spread, duration_seconds, start_time, end_time, day_key, position_limit)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		ev.ID, ev.Seq, ev.Symbol, ev.MaxSpread, ev.DurationSeconds,
		ev.StartTime.UnixNano(), ev.EndTime.UnixNano(), ev.DayKey, ev.PositionLimit,
	)
	if err != nil {
		return fmt.Errorf("failed to save event: %w", err)
	}
	return nil
}

// DeleteEventsBySymbol removes a symbol's entries from one day's ledger and
// returns how many rows were removed.
func (s *Storage) DeleteEventsBySymbol(dayKey, symbol string) (int, error) {
	res, err := s.db.Exec(`DELETE FROM completed_events WHERE day_key = ? AND symbol = ?`, dayKey, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to delete events: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeEventsBefore drops ledger rows for any day other than dayKey.
// Called on the day-boundary reset.
func (s *Storage) PurgeEventsBefore(dayKey string) error {
	if _, err := s.db.Exec(`DELETE FROM completed_events WHERE day_key != ?`, dayKey); err != nil {
		return fmt.Errorf("failed to purge events: %w", err)
	}
	return nil
}

// EventsForDay returns the ledger entries for a day ordered by end time.
func (s *Storage) EventsForDay(dayKey string) ([]*models.CompletedEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, seq, symbol, max_spread, duration_seconds, start_time, end_time, day_key, position_limit
		FROM completed_events WHERE day_key = ? ORDER BY end_time`, dayKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []*models.CompletedEvent
	for rows.Next() {
		ev := &models.CompletedEvent{}
		var startNano, endNano int64
		if err := rows.Scan(&ev.ID, &ev.Seq, &ev.Symbol, &ev.MaxSpread, &ev.DurationSeconds,
			&startNano, &endNano, &ev.DayKey, &ev.PositionLimit); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.StartTime = time.Unix(0, startNano)
		ev.EndTime = time.Unix(0, endNano)
		events = append(events, ev)
	}
	return events, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
