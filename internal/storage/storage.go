// Package storage provides the SQLite-backed alert journal.
// Price state is never persisted; the journal is an audit trail only.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rewired-gh/dipwatch/internal/models"
	_ "modernc.org/sqlite"
)

// MemoryPath keeps the journal in memory for the lifetime of the process.
const MemoryPath = ":memory:"

// ErrJournalDisabled is returned by every method of a nil *Storage.
var ErrJournalDisabled = errors.New("alert journal disabled")

// Storage wraps a SQLite database holding emitted alerts.
type Storage struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the journal at dbPath.
// An empty dbPath defaults to an in-memory database.
func New(maxAlerts int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = MemoryPath
	}
	if dbPath != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// single connection: required for :memory:, and the journal has one writer
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Storage) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Storage) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id                TEXT PRIMARY KEY,
			symbol            TEXT NOT NULL,
			current_price     REAL NOT NULL,
			max_price         REAL NOT NULL,
			dip_percent       REAL NOT NULL,
			seconds_since_max REAL NOT NULL,
			update_count      INTEGER NOT NULL,
			threshold         REAL NOT NULL,
			emitted_at        INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_emitted_at ON alerts(emitted_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_symbol ON alerts(symbol, emitted_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddAlert records one alert and trims the journal to maxAlerts newest rows.
func (s *Storage) AddAlert(ctx context.Context, alert *models.AlertEvent) error {
	if s == nil {
		return ErrJournalDisabled
	}
	if err := alert.Validate(); err != nil {
		return fmt.Errorf("invalid alert: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO alerts
			(id, symbol, current_price, max_price, dip_percent,
			 seconds_since_max, update_count, threshold, emitted_at)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		alert.ID, alert.Symbol, alert.CurrentPrice, alert.MaxPrice, alert.DipPercent,
		alert.SecondsSinceMax, int64(alert.UpdateCount), alert.Threshold,
		alert.EmittedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if s.maxAlerts > 0 {
		if _, err = tx.ExecContext(ctx, rotateSQL, s.maxAlerts); err != nil {
			return fmt.Errorf("failed to enforce alert cap: %w", err)
		}
	}

	return tx.Commit()
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Storage) RecentAlerts(ctx context.Context, limit int) ([]models.AlertEvent, error) {
	if s == nil {
		return nil, ErrJournalDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertCols+` FROM alerts
		ORDER BY emitted_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	return scanAlerts(rows)
}

// AlertsForSymbol returns up to limit alerts for one canonical symbol, newest first.
func (s *Storage) AlertsForSymbol(ctx context.Context, symbol string, limit int) ([]models.AlertEvent, error) {
	if s == nil {
		return nil, ErrJournalDisabled
	}
	rows, err := s.db.QueryContext(ctx, `SELECT `+alertCols+` FROM alerts
		WHERE symbol = ? ORDER BY emitted_at DESC, rowid DESC LIMIT ?`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts for %s: %w", symbol, err)
	}
	return scanAlerts(rows)
}

func (s *Storage) CountAlerts(ctx context.Context) (int, error) {
	if s == nil {
		return 0, ErrJournalDisabled
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

func (s *Storage) ClearAlerts() error {
	if s == nil {
		return ErrJournalDisabled
	}
	if _, err := s.db.Exec(`DELETE FROM alerts`); err != nil {
		return fmt.Errorf("failed to clear alerts: %w", err)
	}
	return nil
}

// RotateAlerts keeps at most maxAlerts newest alerts by emitted_at.
func (s *Storage) RotateAlerts() error {
	if s == nil {
		return ErrJournalDisabled
	}
	if s.maxAlerts <= 0 {
		return nil
	}
	if _, err := s.db.Exec(rotateSQL, s.maxAlerts); err != nil {
		return fmt.Errorf("failed to rotate alerts: %w", err)
	}
	return nil
}

const rotateSQL = `
	DELETE FROM alerts WHERE id NOT IN (
		SELECT id FROM alerts ORDER BY emitted_at DESC, rowid DESC LIMIT ?
	)`

const alertCols = `id, symbol, current_price, max_price, dip_percent,
	seconds_since_max, update_count, threshold, emitted_at`

func scanAlerts(rows *sql.Rows) ([]models.AlertEvent, error) {
	defer rows.Close()

	alerts := []models.AlertEvent{}
	for rows.Next() {
		var a models.AlertEvent
		var updateCount, emittedAtNano int64
		err := rows.Scan(
			&a.ID, &a.Symbol, &a.CurrentPrice, &a.MaxPrice, &a.DipPercent,
			&a.SecondsSinceMax, &updateCount, &a.Threshold, &emittedAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		a.UpdateCount = uint64(updateCount)
		a.EmittedAt = time.Unix(0, emittedAtNano).UTC()
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}
