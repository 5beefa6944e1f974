// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger persists the provenance trail: every fetch attempt and
// every archived record, append-only. The active record for an identifier is
// the most recent one; idempotent re-runs consult it before fetching.
//
// See docs/ARCHITECTURE § Provenance Ledger.
package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/primary-preserver/pkg/types"
)

const dbFile = "ledger.db"

// Store manages the ledger SQLite database.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the ledger database at dir/ledger.db, creating
// the schema if it does not exist.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}

	dbPath := filepath.Join(dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening ledger database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS attempts (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			url TEXT,
			host TEXT,
			outcome TEXT NOT NULL,
			status_code INTEGER,
			error_class TEXT,
			note TEXT,
			retries INTEGER,
			elapsed_ms INTEGER,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_identifier ON attempts(identifier)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id)`,
		`CREATE TABLE IF NOT EXISTS records (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			identifier TEXT NOT NULL,
			final_url TEXT NOT NULL,
			host TEXT,
			path TEXT NOT NULL,
			checksum TEXT NOT NULL,
			bytes INTEGER NOT NULL,
			pages INTEGER,
			text_bytes INTEGER,
			scan_only INTEGER NOT NULL DEFAULT 0,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_identifier ON records(identifier)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// RecordAttempt appends one fetch attempt. Attempts are never updated or
// deleted.
func (s *Store) RecordAttempt(ctx context.Context, a types.FetchAttempt) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO attempts (run_id, identifier, url, host, outcome, status_code, error_class, note, retries, elapsed_ms, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.RunID, a.Identifier, a.URL, a.Host, string(a.Outcome),
		a.StatusCode, a.ErrorClass, a.Note, a.Retries,
		a.Elapsed.Milliseconds(), a.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting attempt for %s: %w", a.Identifier, err)
	}
	return nil
}

// RecordArchived appends one archived record. A forced re-fetch appends a
// new record rather than editing the old one; the newest record wins.
func (s *Store) RecordArchived(ctx context.Context, r types.ArchivedRecord) error {
	scanOnly := 0
	if r.ScanOnly {
		scanOnly = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO records (run_id, identifier, final_url, host, path, checksum, bytes, pages, text_bytes, scan_only, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Identifier, r.FinalURL, r.Host, r.Path, r.Checksum,
		r.Bytes, r.Pages, r.TextBytes, scanOnly,
		r.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting record for %s: %w", r.Identifier, err)
	}
	return nil
}

// HasRecord reports whether the identifier has any archived record, which
// makes it skippable on a non-forced run.
func (s *Store) HasRecord(ctx context.Context, identifier string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM records WHERE identifier = ?`, identifier,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking record for %s: %w", identifier, err)
	}
	return n > 0, nil
}

// ActiveRecord returns the most recent archived record for the identifier,
// or nil when none exists.
func (s *Store) ActiveRecord(ctx context.Context, identifier string) (*types.ArchivedRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, identifier, final_url, host, path, checksum, bytes, pages, text_bytes, scan_only, timestamp
		 FROM records WHERE identifier = ? ORDER BY seq DESC LIMIT 1`, identifier)

	r, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading record for %s: %w", identifier, err)
	}
	return r, nil
}

// Attempts returns attempts in append order, filtered to runID when it is
// non-empty.
func (s *Store) Attempts(ctx context.Context, runID string) ([]types.FetchAttempt, error) {
	query := `SELECT run_id, identifier, url, host, outcome, status_code, error_class, note, retries, elapsed_ms, timestamp
		 FROM attempts`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying attempts: %w", err)
	}
	defer rows.Close()

	var out []types.FetchAttempt
	for rows.Next() {
		var a types.FetchAttempt
		var outcome, ts string
		var elapsedMS int64
		if err := rows.Scan(&a.RunID, &a.Identifier, &a.URL, &a.Host, &outcome,
			&a.StatusCode, &a.ErrorClass, &a.Note, &a.Retries, &elapsedMS, &ts); err != nil {
			return nil, fmt.Errorf("scanning attempt: %w", err)
		}
		a.Outcome = types.Outcome(outcome)
		a.Elapsed = time.Duration(elapsedMS) * time.Millisecond
		a.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, a)
	}
	return out, rows.Err()
}

// Records returns all archived records in append order.
func (s *Store) Records(ctx context.Context) ([]types.ArchivedRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, identifier, final_url, host, path, checksum, bytes, pages, text_bytes, scan_only, timestamp
		 FROM records ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("querying records: %w", err)
	}
	defer rows.Close()

	var out []types.ArchivedRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// Summary tallies attempts by outcome, filtered to runID when non-empty.
func (s *Store) Summary(ctx context.Context, runID string) (map[types.Outcome]int, error) {
	query := `SELECT outcome, count(*) FROM attempts`
	args := []any{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` GROUP BY outcome`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying summary: %w", err)
	}
	defer rows.Close()

	tally := make(map[types.Outcome]int)
	for rows.Next() {
		var outcome string
		var n int
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("scanning summary row: %w", err)
		}
		tally[types.Outcome(outcome)] = n
	}
	return tally, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*types.ArchivedRecord, error) {
	var r types.ArchivedRecord
	var scanOnly int
	var ts string
	if err := row.Scan(&r.RunID, &r.Identifier, &r.FinalURL, &r.Host, &r.Path,
		&r.Checksum, &r.Bytes, &r.Pages, &r.TextBytes, &scanOnly, &ts); err != nil {
		return nil, err
	}
	r.ScanOnly = scanOnly != 0
	r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	return &r, nil
}
