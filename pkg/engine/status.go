package engine

import (
	"fmt"
	"time"
)

// Status is the terminal status of a workflow run.
type Status string

const (
	// StatusUpToDate indicates nothing needed to be done, or the operator
	// declined the pending work.
	StatusUpToDate Status = "up_to_date"

	// StatusApplied indicates every requested change was applied.
	StatusApplied Status = "applied"

	// StatusRebootRequired indicates changes were applied and the host needs
	// a reboot to finish them.
	StatusRebootRequired Status = "reboot_required"

	// StatusPartialFailure indicates some independent steps failed.
	StatusPartialFailure Status = "partial_failure"

	// StatusFailed indicates the run aborted on a fatal error.
	StatusFailed Status = "failed"
)

// Process exit codes. Codes 4 through 9 are reserved.
const (
	ExitApplied        = 0
	ExitFailed         = 1
	ExitUpToDate       = 2
	ExitPartialFailure = 3
	ExitRebootRequired = 10
)

// ExitCode maps the status onto the process exit code.
func (s Status) ExitCode() int {
	switch s {
	case StatusApplied:
		return ExitApplied
	case StatusUpToDate:
		return ExitUpToDate
	case StatusPartialFailure:
		return ExitPartialFailure
	case StatusRebootRequired:
		return ExitRebootRequired
	default:
		return ExitFailed
	}
}

// Validate checks if the status is valid.
func (s Status) Validate() error {
	switch s {
	case StatusUpToDate, StatusApplied, StatusRebootRequired,
		StatusPartialFailure, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid workflow status: %s", s)
	}
}

// Workflow names.
const (
	WorkflowUpdate    = "update"
	WorkflowHardening = "hardening"
)

// WorkflowOutcome is the result of one workflow run.
type WorkflowOutcome struct {
	Workflow  string         `json:"workflow"`
	Status    Status         `json:"status"`
	Counts    map[string]int `json:"counts"`
	Timestamp time.Time      `json:"timestamp"`

	// Failures lists one entry per failed or skipped step, in execution order.
	Failures []StepReport `json:"failures,omitempty"`

	// RunID identifies the run in the journal.
	RunID string `json:"run_id,omitempty"`

	// Reboot is set when a deferred reboot was scheduled.
	Reboot *RebootSchedule `json:"reboot,omitempty"`

	// Err is the fatal error for a Failed outcome, or the joined step errors
	// of a PartialFailure.
	Err error `json:"-"`
}

// RebootSchedule records a deferred reboot and how to cancel it.
type RebootSchedule struct {
	ScheduledFor  time.Time `json:"scheduled_for"`
	CancelCommand string    `json:"cancel_command"`
}

// ExitCode returns the process exit code for the outcome.
func (o WorkflowOutcome) ExitCode() int {
	return o.Status.ExitCode()
}

// StepResult is the result of a single workflow step.
type StepResult string

const (
	StepSucceeded StepResult = "succeeded"
	StepFailed    StepResult = "failed"
	StepSkipped   StepResult = "skipped"
)

// StepReport describes a step that did not succeed.
type StepReport struct {
	Step   string     `json:"step" yaml:"step"`
	Result StepResult `json:"result" yaml:"result"`
	Reason string     `json:"reason" yaml:"reason"`
}

// String renders the report as a one-line summary.
func (r StepReport) String() string {
	label := "FAILED"
	if r.Result == StepSkipped {
		label = "SKIPPED"
	}
	return fmt.Sprintf("%s %s: %s", label, r.Step, r.Reason)
}
