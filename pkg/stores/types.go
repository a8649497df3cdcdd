package stores

import (
	"context"
	"errors"
	"time"

	"github.com/sysmaint/sysmaint/pkg/engine"
)

// ErrStateNotFound is returned by Read when no run has been recorded yet.
var ErrStateNotFound = errors.New("no state record found")

// StateRecord is the persisted form of the most recent workflow outcome.
type StateRecord struct {
	LastRunUTC time.Time      `json:"last_run_utc" yaml:"last_run_utc"`
	Workflow   string         `json:"workflow" yaml:"workflow"`
	Status     engine.Status  `json:"status" yaml:"status"`
	Counts     map[string]int `json:"counts" yaml:"counts"`
	ExitCode   int            `json:"exit_code" yaml:"exit_code"`
	RunID      string         `json:"run_id,omitempty" yaml:"run_id,omitempty"`

	Failures []engine.StepReport `json:"failures,omitempty" yaml:"failures,omitempty"`

	RebootScheduledFor  *time.Time `json:"reboot_scheduled_for,omitempty" yaml:"reboot_scheduled_for,omitempty"`
	RebootCancelCommand string     `json:"reboot_cancel_command,omitempty" yaml:"reboot_cancel_command,omitempty"`
}

// NewStateRecord converts an outcome into its persisted form.
func NewStateRecord(outcome engine.WorkflowOutcome) StateRecord {
	counts := outcome.Counts
	if counts == nil {
		counts = map[string]int{}
	}
	rec := StateRecord{
		LastRunUTC: outcome.Timestamp.UTC(),
		Workflow:   outcome.Workflow,
		Status:     outcome.Status,
		Counts:     counts,
		ExitCode:   outcome.ExitCode(),
		RunID:      outcome.RunID,
		Failures:   outcome.Failures,
	}
	if outcome.Reboot != nil {
		at := outcome.Reboot.ScheduledFor.UTC()
		rec.RebootScheduledFor = &at
		rec.RebootCancelCommand = outcome.Reboot.CancelCommand
	}
	return rec
}

// StateStore persists the last-run record.
type StateStore interface {
	Write(ctx context.Context, outcome engine.WorkflowOutcome) error
	Read(ctx context.Context) (StateRecord, error)
}

// Run is one workflow invocation in the journal.
type Run struct {
	ID          string         `json:"id"`
	Workflow    string         `json:"workflow"`
	Status      string         `json:"status"`
	ExitCode    *int           `json:"exit_code,omitempty"`
	DryRun      bool           `json:"dry_run"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Counts      map[string]int `json:"counts,omitempty"`
}

// RunStatusRunning marks a journal run that has not completed.
const RunStatusRunning = "running"

// Event is one log event recorded against a run.
type Event struct {
	ID        int64     `json:"id"`
	RunID     string    `json:"run_id"`
	Level     string    `json:"level"`
	Module    string    `json:"module"`
	Message   string    `json:"message"`
	Fields    string    `json:"fields"` // JSON object
	Timestamp time.Time `json:"timestamp"`
}

// Journal is the append-only history of runs.
type Journal interface {
	CreateRun(ctx context.Context, run *Run) error
	CompleteRun(ctx context.Context, outcome engine.WorkflowOutcome) error
	ListRuns(ctx context.Context, limit int) ([]*Run, error)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, runID string, limit int) ([]*Event, error)
	Close() error
}
