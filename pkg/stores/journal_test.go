package stores

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// setupTestJournal creates a migrated journal in a temporary directory.
func setupTestJournal(t *testing.T) *SQLiteJournal {
	t.Helper()

	journal, err := NewSQLiteJournal(JournalConfig{
		Path: filepath.Join(t.TempDir(), "journal.db"),
	})
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}

	ctx := context.Background()
	if err := journal.Init(ctx); err != nil {
		t.Fatalf("failed to initialize journal: %v", err)
	}

	if err := journal.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate journal: %v", err)
	}

	t.Cleanup(func() { _ = journal.Close() })
	return journal
}

func TestJournalLifecycle(t *testing.T) {
	if _, err := NewSQLiteJournal(JournalConfig{}); err == nil {
		t.Fatal("expected error for empty path")
	}

	journal := setupTestJournal(t)
	ctx := context.Background()

	if err := journal.HealthCheck(ctx); err != nil {
		t.Fatalf("health check failed: %v", err)
	}

	// Running migrations twice is a no-op.
	if err := journal.Migrate(ctx); err != nil {
		t.Fatalf("second migration failed: %v", err)
	}
}

func TestJournalMigrateRequiresInit(t *testing.T) {
	journal, err := NewSQLiteJournal(JournalConfig{Path: filepath.Join(t.TempDir(), "j.db")})
	if err != nil {
		t.Fatalf("failed to create journal: %v", err)
	}
	if err := journal.Migrate(context.Background()); err == nil {
		t.Fatal("expected error migrating an uninitialized journal")
	}
}

func TestJournalRunLifecycle(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)
	run := &Run{ID: "run-1", Workflow: engine.WorkflowUpdate, DryRun: true, StartedAt: started}
	if err := journal.CreateRun(ctx, run); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	got, err := journal.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != RunStatusRunning {
		t.Errorf("expected status %q, got %q", RunStatusRunning, got.Status)
	}
	if !got.DryRun {
		t.Error("expected dry_run to round-trip")
	}
	if got.ExitCode != nil || got.CompletedAt != nil {
		t.Error("expected a running run to have no exit code or completion time")
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("expected started_at %v, got %v", started, got.StartedAt)
	}

	outcome := engine.WorkflowOutcome{
		Workflow:  engine.WorkflowUpdate,
		Status:    engine.StatusRebootRequired,
		Counts:    map[string]int{"upgraded": 4},
		Timestamp: started.Add(5 * time.Minute),
		RunID:     "run-1",
	}
	if err := journal.CompleteRun(ctx, outcome); err != nil {
		t.Fatalf("failed to complete run: %v", err)
	}

	got, err = journal.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("failed to get run: %v", err)
	}
	if got.Status != string(engine.StatusRebootRequired) {
		t.Errorf("expected status reboot_required, got %q", got.Status)
	}
	if got.ExitCode == nil || *got.ExitCode != engine.ExitRebootRequired {
		t.Errorf("expected exit code %d, got %v", engine.ExitRebootRequired, got.ExitCode)
	}
	if got.CompletedAt == nil || !got.CompletedAt.Equal(outcome.Timestamp) {
		t.Errorf("expected completed_at %v, got %v", outcome.Timestamp, got.CompletedAt)
	}
	if got.Counts["upgraded"] != 4 {
		t.Errorf("expected counts to round-trip, got %v", got.Counts)
	}
}

func TestJournalCompleteUnknownRun(t *testing.T) {
	journal := setupTestJournal(t)

	err := journal.CompleteRun(context.Background(), engine.WorkflowOutcome{
		RunID:  "missing",
		Status: engine.StatusApplied,
	})
	if err == nil || !strings.Contains(err.Error(), "run not found") {
		t.Fatalf("expected run not found error, got %v", err)
	}

	if _, err := journal.GetRun(context.Background(), "missing"); err == nil {
		t.Fatal("expected error getting unknown run")
	}
}

func TestJournalListRunsNewestFirst(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		run := &Run{ID: id, Workflow: engine.WorkflowHardening, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := journal.CreateRun(ctx, run); err != nil {
			t.Fatalf("failed to create run %s: %v", id, err)
		}
	}

	runs, err := journal.ListRuns(ctx, 2)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].ID != "c" || runs[1].ID != "b" {
		t.Errorf("expected newest first [c b], got [%s %s]", runs[0].ID, runs[1].ID)
	}

	all, err := journal.ListRuns(ctx, 0)
	if err != nil {
		t.Fatalf("failed to list runs: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected default limit to return all 3 runs, got %d", len(all))
	}
}

func TestJournalEvents(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	if err := journal.CreateRun(ctx, &Run{ID: "run-1", Workflow: engine.WorkflowUpdate}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	first := &Event{RunID: "run-1", Level: "INFO", Module: "update", Message: "refreshing", Timestamp: time.Now()}
	if err := journal.AppendEvent(ctx, first); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}
	if first.ID == 0 {
		t.Error("expected event ID to be assigned")
	}
	if first.Fields != "{}" {
		t.Errorf("expected empty fields to default to {}, got %q", first.Fields)
	}

	second := &Event{RunID: "run-1", Level: "WARN", Module: "update", Message: "slow mirror", Fields: `{"seconds":12}`, Timestamp: time.Now()}
	if err := journal.AppendEvent(ctx, second); err != nil {
		t.Fatalf("failed to append event: %v", err)
	}

	events, err := journal.GetEvents(ctx, "run-1", 0)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "refreshing" || events[1].Message != "slow mirror" {
		t.Errorf("expected events in insertion order, got %q then %q", events[0].Message, events[1].Message)
	}

	// Foreign keys are enforced.
	orphan := &Event{RunID: "nope", Level: "INFO", Module: "x", Message: "y", Timestamp: time.Now()}
	if err := journal.AppendEvent(ctx, orphan); err == nil {
		t.Error("expected error appending event for unknown run")
	}
}

func TestJournalRecorder(t *testing.T) {
	journal := setupTestJournal(t)
	ctx := context.Background()

	if err := journal.CreateRun(ctx, &Run{ID: "run-1", Workflow: engine.WorkflowHardening}); err != nil {
		t.Fatalf("failed to create run: %v", err)
	}

	recorder := NewJournalRecorder(journal, "run-1")
	recorder.RecordEvent(telemetry.LogEvent{
		Timestamp: time.Now(),
		Level:     telemetry.LevelInfo,
		Module:    "hardening",
		Message:   "step finished",
		Fields:    telemetry.Fields{"step": "HardenSSH", "result": "succeeded"},
	})

	events, err := journal.GetEvents(ctx, "run-1", 10)
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	var fields map[string]string
	if err := json.Unmarshal([]byte(events[0].Fields), &fields); err != nil {
		t.Fatalf("fields are not JSON: %v", err)
	}
	if fields["step"] != "HardenSSH" {
		t.Errorf("expected step field, got %v", fields)
	}
	if events[0].Module != "hardening" || events[0].Level != "INFO" {
		t.Errorf("unexpected event %+v", events[0])
	}
}
