// Package storage provides SQLite-backed persistence for snapshots, alerts, and IV histories.
package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/rewired-gh/greekwatch/internal/models"
)

// Storage wraps a SQLite database for all persistence operations.
type Storage struct {
	db           *sql.DB
	maxSnapshots int
}

// New opens or creates the SQLite database at dbPath.
// An empty dbPath defaults to $TMPDIR/greekwatch/data.db.
func New(maxSnapshots int, dbPath string) (*Storage, error) {
	if dbPath == "" {
		dbPath = filepath.Join(os.TempDir(), "greekwatch", "data.db")
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
		db.Close()
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Storage{db: db, maxSnapshots: maxSnapshots}
	if err := s.createTables(); err != nil {
		db.Close()
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
		`CREATE TABLE IF NOT EXISTS snapshots (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			ts              INTEGER NOT NULL,
			symbol          TEXT NOT NULL,
			expiration      TEXT NOT NULL,
			opt_right       TEXT NOT NULL,
			strike          REAL NOT NULL,
			bid             REAL,
			ask             REAL,
			last            REAL,
			delta           REAL,
			theta           REAL,
			iv              REAL,
			iv_zscore       REAL,
			iv_percentile   REAL,
			quantity        INTEGER NOT NULL DEFAULT 0,
			strategy        TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			kind            TEXT NOT NULL,
			symbol          TEXT NOT NULL,
			expiration      TEXT NOT NULL,
			opt_right       TEXT NOT NULL,
			strike          REAL NOT NULL,
			metric          TEXT NOT NULL,
			message         TEXT NOT NULL,
			value           REAL NOT NULL,
			threshold       REAL NOT NULL,
			detected_at     INTEGER NOT NULL,
			notified        INTEGER DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS iv_history (
			symbol          TEXT NOT NULL,
			expiration      TEXT NOT NULL,
			opt_right       TEXT NOT NULL,
			strike          REAL NOT NULL,
			vals            TEXT NOT NULL DEFAULT '[]',
			updated_at      INTEGER NOT NULL,
			PRIMARY KEY (symbol, expiration, opt_right, strike)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts ON snapshots(ts)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_contract ON snapshots(symbol, expiration, opt_right, strike)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_detected_at ON alerts(detected_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// AddSnapshots inserts one cycle's records in a single transaction.
func (s *Storage) AddSnapshots(records []models.SnapshotRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO snapshots
			(ts, symbol, expiration, opt_right, strike, bid, ask, last, delta, theta,
			 iv, iv_zscore, iv_percentile, quantity, strategy)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.Exec(
			r.Timestamp.UnixNano(), r.Symbol, r.Expiration, string(r.Right), r.Strike,
			r.Bid, r.Ask, r.Last, r.Delta, r.Theta,
			r.IV, r.IVZScore, r.IVPercentile, r.Quantity, r.Strategy,
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
	}
	return tx.Commit()
}

// CountSnapshots returns the number of stored snapshot records.
func (s *Storage) CountSnapshots() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count snapshots: %w", err)
	}
	return n, nil
}

// RotateSnapshots keeps at most maxSnapshots newest records.
func (s *Storage) RotateSnapshots() error {
	if s.maxSnapshots <= 0 {
		return nil
	}
	_, err := s.db.Exec(`
		DELETE FROM snapshots WHERE id NOT IN (
			SELECT id FROM snapshots ORDER BY ts DESC, id DESC LIMIT ?
		)`, s.maxSnapshots)
	if err != nil {
		return fmt.Errorf("failed to rotate snapshots: %w", err)
	}
	return nil
}

// AddAlert stores an alert. A zero ID is replaced by a fresh one.
func (s *Storage) AddAlert(alert *models.Alert, notified bool) error {
	if alert.ID == uuid.Nil {
		alert.ID = uuid.New()
	}
	id := alert.ID
	key := alert.Condition.Key
	_, err := s.db.Exec(`
		INSERT INTO alerts
			(id, kind, symbol, expiration, opt_right, strike, metric, message,
			 value, threshold, detected_at, notified)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		id.String(), string(alert.Kind), key.Symbol, key.Expiration, string(key.Right), key.Strike,
		alert.Condition.Metric, alert.Message, alert.Value, alert.Threshold,
		alert.DetectedAt.UnixNano(), boolToInt(notified),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}
	return nil
}

// MarkNotified flags stored alerts as delivered.
func (s *Storage) MarkNotified(ids []uuid.UUID) error {
	for _, id := range ids {
		if _, err := s.db.Exec(`UPDATE alerts SET notified = 1 WHERE id = ?`, id.String()); err != nil {
			return fmt.Errorf("failed to mark alert %s notified: %w", id, err)
		}
	}
	return nil
}

// GetRecentAlerts returns the newest k alerts, newest first.
func (s *Storage) GetRecentAlerts(k int) ([]models.Alert, error) {
	return s.queryAlerts(`ORDER BY detected_at DESC LIMIT ?`, k)
}

// GetUnnotifiedAlerts returns up to k undelivered alerts, oldest first.
func (s *Storage) GetUnnotifiedAlerts(k int) ([]models.Alert, error) {
	return s.queryAlerts(`WHERE notified = 0 ORDER BY detected_at ASC LIMIT ?`, k)
}

func (s *Storage) queryAlerts(clause string, args ...any) ([]models.Alert, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, symbol, expiration, opt_right, strike, metric, message,
		       value, threshold, detected_at
		FROM alerts `+clause, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var a models.Alert
		var id, kind, right string
		var detectedAtNano int64

		err := rows.Scan(
			&id, &kind, &a.Condition.Key.Symbol, &a.Condition.Key.Expiration, &right,
			&a.Condition.Key.Strike, &a.Condition.Metric, &a.Message,
			&a.Value, &a.Threshold, &detectedAtNano,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}

		a.ID, err = uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("invalid alert id %q: %w", id, err)
		}
		a.Kind = models.AlertKind(kind)
		a.Condition.Key.Right = models.Right(right)
		a.DetectedAt = time.Unix(0, detectedAtNano)
		alerts = append(alerts, a)
	}

	return alerts, rows.Err()
}

// CountUnnotified returns how many stored alerts were never delivered.
func (s *Storage) CountUnnotified() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM alerts WHERE notified = 0`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count alerts: %w", err)
	}
	return n, nil
}

// SaveHistory stores the IV history for key, replacing any previous one.
func (s *Storage) SaveHistory(key models.InstrumentKey, values []float64) error {
	valsJSON, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT OR REPLACE INTO iv_history
			(symbol, expiration, opt_right, strike, vals, updated_at)
		VALUES (?,?,?,?,?,?)`,
		key.Symbol, key.Expiration, string(key.Right), key.Strike,
		string(valsJSON), time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// LoadAllHistories returns every stored IV history keyed by instrument.
func (s *Storage) LoadAllHistories() (map[models.InstrumentKey][]float64, error) {
	rows, err := s.db.Query(`SELECT symbol, expiration, opt_right, strike, vals FROM iv_history`)
	if err != nil {
		return nil, fmt.Errorf("failed to query histories: %w", err)
	}
	defer rows.Close()

	histories := make(map[models.InstrumentKey][]float64)
	for rows.Next() {
		var key models.InstrumentKey
		var right, valsJSON string

		if err := rows.Scan(&key.Symbol, &key.Expiration, &right, &key.Strike, &valsJSON); err != nil {
			return nil, fmt.Errorf("failed to scan history: %w", err)
		}
		key.Right = models.Right(right)

		var values []float64
		if err := json.Unmarshal([]byte(valsJSON), &values); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
		histories[key] = values
	}

	return histories, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
