// Package store implements the history store: a durable SQLite record of
// every run, the per-step events within it, and the audited side effects
// each step produced, so an operator can answer "what did the last ten
// runs of this host actually do" without re-reading logs.
package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunStatus is the lifecycle state of one recorded run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run is one invocation of the driver: a real execution, a --safe_mode dry
// run, or a --validate pass.
type Run struct {
	ID          string
	Host        string
	Mode        string // "apply", "safe_mode", or "validate"
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       *string
	CreatedAt   time.Time
}

// Event is one step start/finish/error recorded against a run.
type Event struct {
	ID        string
	RunID     string
	Step      string
	Kind      string // "started", "completed", "error"
	Message   string
	CreatedAt time.Time
}

// AuditEntry is one side-effecting primitive invocation (command,
// http_file, config write) recorded against a run.
type AuditEntry struct {
	ID        string
	RunID     string
	Step      string
	Kind      string
	Detail    string
	Outcome   string
	Duration  time.Duration
	CreatedAt time.Time
}

// Config configures the Store's SQLite connection.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Store is the history store, backed by a SQLite file.
type Store struct {
	db   *sql.DB
	path string
}

// New returns a Store for cfg.Path. Call Init and Migrate before use.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("history store: database path is required")
	}
	return &Store{path: cfg.Path}, nil
}

// Init opens the database connection.
func (s *Store) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("history store: open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("history store: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("history store: enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Migrate applies every pending embedded migration.
func (s *Store) Migrate() error {
	if s.db == nil {
		return fmt.Errorf("history store: not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("history store: migration source: %w", err)
	}
	dbDriver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("history store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", dbDriver)
	if err != nil {
		return fmt.Errorf("history store: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("history store: run migrations: %w", err)
	}
	return nil
}

// StartRun inserts a new running Run and returns its generated ID.
func (s *Store) StartRun(ctx context.Context, host, mode string) (string, error) {
	id := uuid.NewString()
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, host, mode, status, started_at, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, host, mode, RunStatusRunning, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("history store: start run: %w", err)
	}
	return id, nil
}

// FinishRun marks a run completed or failed.
func (s *Store) FinishRun(ctx context.Context, id string, status RunStatus, runErr error) error {
	var errMsg *string
	if runErr != nil {
		msg := runErr.Error()
		errMsg = &msg
	}
	now := time.Now()
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, error = ?, completed_at = ? WHERE id = ?`,
		status, errMsg, now, id,
	)
	if err != nil {
		return fmt.Errorf("history store: finish run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("history store: finish run: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("history store: run not found: %s", id)
	}
	return nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, host, mode, status, started_at, completed_at, error, created_at FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.Host, &run.Mode, &run.Status, &run.StartedAt, &run.CompletedAt, &run.Error, &run.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("history store: run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("history store: get run: %w", err)
	}
	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *Store) ListRuns(ctx context.Context, limit, offset int) ([]*Run, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, host, mode, status, started_at, completed_at, error, created_at
		 FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("history store: list runs: %w", err)
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		if err := rows.Scan(&run.ID, &run.Host, &run.Mode, &run.Status, &run.StartedAt, &run.CompletedAt, &run.Error, &run.CreatedAt); err != nil {
			return nil, fmt.Errorf("history store: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// RecordEvent inserts an Event row for a step start/finish/error.
func (s *Store) RecordEvent(ctx context.Context, runID, step, kind, message string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (id, run_id, step, kind, message, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, step, kind, message, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("history store: record event: %w", err)
	}
	return nil
}

// ListEvents returns every event recorded for a run, oldest first.
func (s *Store) ListEvents(ctx context.Context, runID string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, kind, message, created_at FROM events WHERE run_id = ? ORDER BY created_at ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("history store: list events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		if err := rows.Scan(&e.ID, &e.RunID, &e.Step, &e.Kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history store: scan event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// RecordAuditEntry inserts an AuditEntry row for a side-effecting
// primitive invocation.
func (s *Store) RecordAuditEntry(ctx context.Context, runID, step, kind, detail, outcome string, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_entries (id, run_id, step, kind, detail, outcome, duration_ms, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, step, kind, detail, outcome, duration.Milliseconds(), time.Now(),
	)
	if err != nil {
		return fmt.Errorf("history store: record audit entry: %w", err)
	}
	return nil
}

// ListAuditEntries returns every audit entry recorded for a run, oldest
// first.
func (s *Store) ListAuditEntries(ctx context.Context, runID string) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, step, kind, detail, outcome, duration_ms, created_at FROM audit_entries WHERE run_id = ? ORDER BY created_at ASC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("history store: list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.RunID, &e.Step, &e.Kind, &e.Detail, &e.Outcome, &durationMS, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("history store: scan audit entry: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RunAuditSink adapts a Store to the steprt.AuditSink interface for a
// single run, so the runtime doesn't need its own database handle.
type RunAuditSink struct {
	Store *Store
	RunID string
	Ctx   context.Context
}

// RecordAudit implements steprt.AuditSink.
func (s RunAuditSink) RecordAudit(step, kind, detail, outcome string, duration time.Duration) {
	_ = s.Store.RecordAuditEntry(s.Ctx, s.RunID, step, kind, detail, outcome, duration)
}
