// Package audit persists update run history to a local sqlite database
// so lock refreshes stay reviewable after the fact.
package audit

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Run outcomes.
const (
	OutcomeChanged       = "changed"
	OutcomeUnchanged     = "unchanged"
	OutcomeArtifactError = "artifact-error"
	OutcomeTransient     = "transient-error"
)

// Run is one recorded artifact update.
type Run struct {
	ID           string
	StartedAt    time.Time
	PackageFile  string
	Manager      string
	UpdateType   string
	Packages     []string
	Outcome      string
	Detail       string
	ChangedFiles int
	Duration     time.Duration
}

// Store manages the run history database.
type Store struct {
	db     *sql.DB
	dbPath string
	mu     sync.RWMutex
}

// Open creates or opens the history store at the given path.
func Open(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{
		db:     db,
		dbPath: dbPath,
	}

	if err := store.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		package_file TEXT NOT NULL,
		manager TEXT NOT NULL,
		update_type TEXT,
		packages_json TEXT,
		outcome TEXT NOT NULL,
		detail TEXT,
		changed_files INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_package ON runs(package_file);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RecordRun stores one update run. Missing ID and start time are
// filled in.
func (s *Store) RecordRun(run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}

	packagesJSON, _ := json.Marshal(run.Packages)

	_, err := s.db.Exec(`
		INSERT INTO runs (id, started_at, package_file, manager, update_type,
			packages_json, outcome, detail, changed_files, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.PackageFile, run.Manager, run.UpdateType,
		string(packagesJSON), run.Outcome, run.Detail, run.ChangedFiles,
		run.Duration.Milliseconds())

	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// RecentRuns retrieves the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, started_at, package_file, manager, update_type,
			packages_json, outcome, detail, changed_files, duration_ms
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var run Run
		var packagesJSON sql.NullString
		var durationMS int64
		if err := rows.Scan(&run.ID, &run.StartedAt, &run.PackageFile, &run.Manager,
			&run.UpdateType, &packagesJSON, &run.Outcome, &run.Detail,
			&run.ChangedFiles, &durationMS); err != nil {
			continue
		}
		if packagesJSON.Valid {
			json.Unmarshal([]byte(packagesJSON.String), &run.Packages)
		}
		run.Duration = time.Duration(durationMS) * time.Millisecond
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
