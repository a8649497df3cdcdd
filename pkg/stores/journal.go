package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DefaultHistoryLimit bounds ListRuns when the caller passes no limit.
const DefaultHistoryLimit = 20

// SQLiteJournal implements Journal on a local SQLite database.
type SQLiteJournal struct {
	db   *sql.DB
	path string
}

// JournalConfig holds SQLite journal configuration.
type JournalConfig struct {
	Path string
}

// NewSQLiteJournal creates a journal instance. Call Init and Migrate before use.
func NewSQLiteJournal(cfg JournalConfig) (*SQLiteJournal, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("journal path is required")
	}
	return &SQLiteJournal{path: cfg.Path}, nil
}

// OpenJournal creates, initializes and migrates a journal in one call.
func OpenJournal(ctx context.Context, path string) (*SQLiteJournal, error) {
	j, err := NewSQLiteJournal(JournalConfig{Path: path})
	if err != nil {
		return nil, err
	}
	if err := j.Init(ctx); err != nil {
		return nil, err
	}
	if err := j.Migrate(ctx); err != nil {
		_ = j.Close()
		return nil, err
	}
	return j, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteJournal) Init(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_time_format=sqlite", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open journal: %w", err)
	}

	// One writer per invocation.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping journal: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteJournal) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs the embedded schema migrations.
func (s *SQLiteJournal) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("journal not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateRun inserts a run in the running state.
func (s *SQLiteJournal) CreateRun(ctx context.Context, run *Run) error {
	if run.Status == "" {
		run.Status = RunStatusRunning
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO runs (id, workflow, status, dry_run, started_at)
		VALUES (?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Workflow,
		run.Status,
		run.DryRun,
		run.StartedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}

	return nil
}

// CompleteRun records the final outcome of the run identified by outcome.RunID.
func (s *SQLiteJournal) CompleteRun(ctx context.Context, outcome engine.WorkflowOutcome) error {
	counts, err := json.Marshal(outcome.Counts)
	if err != nil {
		return fmt.Errorf("failed to marshal counts: %w", err)
	}

	completedAt := outcome.Timestamp
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	query := `
		UPDATE runs
		SET status = ?, exit_code = ?, completed_at = ?, counts = ?
		WHERE id = ?
	`

	result, err := s.db.ExecContext(ctx, query,
		string(outcome.Status),
		outcome.ExitCode(),
		completedAt.UTC(),
		string(counts),
		outcome.RunID,
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", outcome.RunID)
	}

	return nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteJournal) GetRun(ctx context.Context, id string) (*Run, error) {
	query := `
		SELECT id, workflow, status, exit_code, dry_run, started_at, completed_at, counts
		FROM runs
		WHERE id = ?
	`

	run, err := scanRun(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	return run, nil
}

// ListRuns returns the most recent runs, newest first.
func (s *SQLiteJournal) ListRuns(ctx context.Context, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}

	query := `
		SELECT id, workflow, status, exit_code, dry_run, started_at, completed_at, counts
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var (
		run         Run
		exitCode    sql.NullInt64
		completedAt sql.NullTime
		counts      string
	)
	err := row.Scan(
		&run.ID,
		&run.Workflow,
		&run.Status,
		&exitCode,
		&run.DryRun,
		&run.StartedAt,
		&completedAt,
		&counts,
	)
	if err != nil {
		return nil, err
	}

	if exitCode.Valid {
		code := int(exitCode.Int64)
		run.ExitCode = &code
	}
	if completedAt.Valid {
		at := completedAt.Time
		run.CompletedAt = &at
	}
	if counts != "" {
		if err := json.Unmarshal([]byte(counts), &run.Counts); err != nil {
			return nil, fmt.Errorf("invalid counts for run %s: %w", run.ID, err)
		}
	}

	return &run, nil
}

// AppendEvent appends an event to the journal.
func (s *SQLiteJournal) AppendEvent(ctx context.Context, event *Event) error {
	if event.Fields == "" {
		event.Fields = "{}"
	}

	query := `
		INSERT INTO events (run_id, level, module, message, fields, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Level,
		event.Module,
		event.Message,
		event.Fields,
		event.Timestamp.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents returns the events of a run in the order they were recorded.
func (s *SQLiteJournal) GetEvents(ctx context.Context, runID string, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = -1
	}

	query := `
		SELECT id, run_id, level, module, message, fields, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY id ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Level,
			&event.Module,
			&event.Message,
			&event.Fields,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteJournal) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("journal not initialized")
	}
	return s.db.PingContext(ctx)
}

// JournalRecorder forwards logger events into the journal under one run.
// Write failures are dropped; the journal never fails a workflow.
type JournalRecorder struct {
	journal Journal
	runID   string
}

// NewJournalRecorder returns a recorder that appends events for runID.
func NewJournalRecorder(journal Journal, runID string) *JournalRecorder {
	return &JournalRecorder{journal: journal, runID: runID}
}

// RecordEvent implements telemetry.EventRecorder.
func (r *JournalRecorder) RecordEvent(ev telemetry.LogEvent) {
	fields := "{}"
	if len(ev.Fields) > 0 {
		if data, err := json.Marshal(ev.Fields); err == nil {
			fields = string(data)
		}
	}

	_ = r.journal.AppendEvent(context.Background(), &Event{
		RunID:     r.runID,
		Level:     string(ev.Level),
		Module:    ev.Module,
		Message:   ev.Message,
		Fields:    fields,
		Timestamp: ev.Timestamp,
	})
}
