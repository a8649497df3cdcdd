package telemetry

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestMetricsWithoutTextfileAreNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordStep("update", "RefreshCache", "succeeded", time.Second)
	m.RecordOutcome("update", "applied", 0, time.Now())
	m.SetUpdatesPending(3)
	m.SetRebootRequired(true)

	if err := m.WriteTextfile(); err != nil {
		t.Errorf("WriteTextfile() error = %v", err)
	}
}

func TestMetricsTextfile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "collector", "sysmaint.prom")
	m, err := NewMetrics(MetricsConfig{Textfile: path})
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	m.RecordStep("update", "ApplyUpdates", "succeeded", 2*time.Second)
	m.RecordOutcome("update", "reboot_required", 10, time.Unix(1767225600, 0))
	m.SetUpdatesPending(4)
	m.SetRebootRequired(true)

	if err := m.WriteTextfile(); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("textfile not written: %v", err)
	}
	out := string(data)
	for _, want := range []string{
		`sysmaint_last_run_status{status="reboot_required",workflow="update"} 1`,
		`sysmaint_updates_pending 4`,
		`sysmaint_reboot_required 1`,
		`sysmaint_step_total{result="succeeded",step="ApplyUpdates",workflow="update"} 1`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("textfile missing %q:\n%s", want, out)
		}
	}
}
