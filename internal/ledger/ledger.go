// Package ledger keeps a small SQLite history of what each run fetched.
// It backs the status command and failure reporting only; resume decisions
// always come from checkpoint files on disk, so a missing or broken ledger
// never blocks a job.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Fetch statuses.
const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Ledger records runs and per-unit fetch outcomes.
type Ledger struct {
	db   *sql.DB
	mu   sync.Mutex
	path string
}

// Open initializes the ledger database at the given path.
func Open(path string) (*Ledger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	// Soft failures only; the pragmas are performance hints.
	db.Exec("PRAGMA busy_timeout = 5000")
	db.Exec("PRAGMA journal_mode = WAL")
	db.Exec("PRAGMA synchronous = NORMAL")

	l := &Ledger{db: db, path: path}
	if err := l.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// initialize creates the required tables.
func (l *Ledger) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		ok INTEGER
	);

	CREATE TABLE IF NOT EXISTS fetches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		source TEXT NOT NULL,
		unit TEXT NOT NULL,
		status TEXT NOT NULL,
		row_count INTEGER NOT NULL DEFAULT 0,
		byte_count INTEGER NOT NULL DEFAULT 0,
		attempts INTEGER NOT NULL DEFAULT 0,
		err TEXT NOT NULL DEFAULT '',
		elapsed_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_fetches_run ON fetches(run_id);
	CREATE INDEX IF NOT EXISTS idx_fetches_status ON fetches(status);
	`
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (l *Ledger) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// BeginRun registers a new run and returns its id. On a nil ledger the id is
// still minted so logs can carry it.
func (l *Ledger) BeginRun(command string) (string, error) {
	id := uuid.NewString()
	if l == nil || l.db == nil {
		return id, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(
		"INSERT INTO runs (id, command, started_at) VALUES (?, ?, ?)",
		id, command, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return id, fmt.Errorf("failed to record run start: %w", err)
	}
	return id, nil
}

// EndRun marks a run finished.
func (l *Ledger) EndRun(id string, ok bool) error {
	if l == nil || l.db == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	okInt := 0
	if ok {
		okInt = 1
	}
	_, err := l.db.Exec(
		"UPDATE runs SET finished_at = ?, ok = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), okInt, id)
	if err != nil {
		return fmt.Errorf("failed to record run end: %w", err)
	}
	return nil
}

// Fetch is one work unit's outcome within a run.
type Fetch struct {
	RunID    string
	Source   string // npra, nilu, ssb, entsoe
	Unit     string // e.g. "station 97 year 2019" or "NO1 2020"
	Status   string
	Rows     int
	Bytes    int64
	Attempts int
	Err      string
	Elapsed  time.Duration
}

// Record stores one fetch outcome. A nil ledger swallows it.
func (l *Ledger) Record(f Fetch) error {
	if l == nil || l.db == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	_, err := l.db.Exec(`
		INSERT INTO fetches (run_id, source, unit, status, row_count, byte_count, attempts, err, elapsed_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.RunID, f.Source, f.Unit, f.Status, f.Rows, f.Bytes, f.Attempts, f.Err,
		f.Elapsed.Milliseconds(), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("failed to record fetch: %w", err)
	}
	return nil
}

// RunSummary aggregates one run for the status command.
type RunSummary struct {
	RunID    string
	Command  string
	Started  time.Time
	Finished time.Time // zero while running
	OK       bool
	Done     bool
	Fetched  int
	Failed   int
	Skipped  int
}

// RecentRuns returns the latest runs with per-status unit counts, newest
// first.
func (l *Ledger) RecentRuns(limit int) ([]RunSummary, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT r.id, r.command, r.started_at, COALESCE(r.finished_at, ''), COALESCE(r.ok, 0),
		       r.finished_at IS NOT NULL,
		       COALESCE(SUM(CASE WHEN f.status = 'ok' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN f.status = 'failed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN f.status = 'skipped' THEN 1 ELSE 0 END), 0)
		FROM runs r
		LEFT JOIN fetches f ON f.run_id = r.id
		GROUP BY r.id
		ORDER BY r.started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var s RunSummary
		var started, finished string
		var okInt, doneInt int
		if err := rows.Scan(&s.RunID, &s.Command, &started, &finished, &okInt,
			&doneInt, &s.Fetched, &s.Failed, &s.Skipped); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		s.OK = okInt == 1
		s.Done = doneInt == 1
		s.Started, _ = time.Parse(time.RFC3339, started)
		if finished != "" {
			s.Finished, _ = time.Parse(time.RFC3339, finished)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// UnitFailure is one failed fetch, for the status command.
type UnitFailure struct {
	RunID  string
	Source string
	Unit   string
	Err    string
	At     time.Time
}

// RecentFailures returns the latest failed units, newest first.
func (l *Ledger) RecentFailures(limit int) ([]UnitFailure, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	rows, err := l.db.Query(`
		SELECT run_id, source, unit, err, created_at
		FROM fetches
		WHERE status = 'failed'
		ORDER BY id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query failures: %w", err)
	}
	defer rows.Close()

	var out []UnitFailure
	for rows.Next() {
		var u UnitFailure
		var at string
		if err := rows.Scan(&u.RunID, &u.Source, &u.Unit, &u.Err, &at); err != nil {
			return nil, fmt.Errorf("failed to scan failure: %w", err)
		}
		u.At, _ = time.Parse(time.RFC3339, at)
		out = append(out, u)
	}
	return out, rows.Err()
}

// UnitStatus tallies the latest recorded outcome per unit for one source.
func (l *Ledger) UnitStatus(source string) (map[string]int, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	// The bare status column rides along with MAX(id), so each unit
	// contributes its most recent record.
	rows, err := l.db.Query(`
		SELECT status, COUNT(*)
		FROM (SELECT unit, status, MAX(id) FROM fetches WHERE source = ? GROUP BY unit)
		GROUP BY status`, source)
	if err != nil {
		return nil, fmt.Errorf("failed to query unit status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan unit status: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
