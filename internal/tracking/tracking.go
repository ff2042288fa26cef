// Package tracking records scalar parameters and metrics per pipeline
// invocation in a local sqlite database. It is purely observational: every
// operation logs and continues on failure, and pipeline correctness never
// depends on it.
package tracking

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		name TEXT,
		status TEXT,
		started TIMESTAMP,
		finished TIMESTAMP
	);
	CREATE TABLE IF NOT EXISTS run_params (
		run_id TEXT,
		key TEXT,
		value TEXT,
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
	CREATE TABLE IF NOT EXISTS run_metrics (
		run_id TEXT,
		key TEXT,
		value DOUBLE,
		FOREIGN KEY(run_id) REFERENCES runs(run_id)
	);
`

// Store is a handle on the run database.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (creating if needed) the run database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open run database %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize run database: %w", err)
	}
	return &Store{db: db, logger: slog.Default()}, nil
}

// WithLogger sets a custom logger for the store
func (s *Store) WithLogger(logger *slog.Logger) *Store {
	s.logger = logger
	return s
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Run is one tracked pipeline invocation. A nil Run is valid and discards
// everything, so callers can run untracked without branching.
type Run struct {
	ID    string
	store *Store
}

// StartRun records the start of a named invocation.
func (s *Store) StartRun(name string) *Run {
	if s == nil {
		return nil
	}
	run := &Run{ID: uuid.NewString(), store: s}
	_, err := s.db.Exec(
		"INSERT INTO runs (run_id, name, status, started) VALUES (?, ?, ?, ?)",
		run.ID, name, "RUNNING", time.Now().UTC(),
	)
	if err != nil {
		s.logger.Warn("failed to record run start", "run", name, "error", err)
		return nil
	}
	return run
}

// LogParam records a scalar parameter for the run.
func (r *Run) LogParam(key, value string) {
	if r == nil {
		return
	}
	_, err := r.store.db.Exec(
		"INSERT INTO run_params (run_id, key, value) VALUES (?, ?, ?)",
		r.ID, key, value,
	)
	if err != nil {
		r.store.logger.Warn("failed to record run param", "key", key, "error", err)
	}
}

// LogMetric records a scalar metric for the run.
func (r *Run) LogMetric(key string, value float64) {
	if r == nil {
		return
	}
	_, err := r.store.db.Exec(
		"INSERT INTO run_metrics (run_id, key, value) VALUES (?, ?, ?)",
		r.ID, key, value,
	)
	if err != nil {
		r.store.logger.Warn("failed to record run metric", "key", key, "error", err)
	}
}

// Finish marks the run as done with the given status ("FINISHED", "FAILED").
func (r *Run) Finish(status string) {
	if r == nil {
		return
	}
	_, err := r.store.db.Exec(
		"UPDATE runs SET status = ?, finished = ? WHERE run_id = ?",
		status, time.Now().UTC(), r.ID,
	)
	if err != nil {
		r.store.logger.Warn("failed to record run finish", "run_id", r.ID, "error", err)
	}
}
