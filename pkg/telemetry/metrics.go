package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors describing the last maintenance
// run. They are rendered to a node_exporter textfile rather than served.
type Metrics struct {
	config MetricsConfig

	lastRunTimestamp *prometheus.GaugeVec
	lastRunStatus    *prometheus.GaugeVec
	lastRunExitCode  *prometheus.GaugeVec
	stepTotal        *prometheus.CounterVec
	stepDuration     *prometheus.HistogramVec
	updatesPending   prometheus.Gauge
	rebootRequired   prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector. With no textfile configured
// every recording method is a no-op.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if cfg.Textfile == "" {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	if namespace == "" {
		namespace = "sysmaint"
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		lastRunTimestamp: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp_seconds",
				Help:      "Unix time the last run of a workflow finished",
			},
			[]string{"workflow"},
		),
		lastRunStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_status",
				Help:      "Terminal status of the last run (1 for the status that was reached)",
			},
			[]string{"workflow", "status"},
		),
		lastRunExitCode: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_exit_code",
				Help:      "Process exit code of the last run",
			},
			[]string{"workflow"},
		),
		stepTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "step_total",
				Help:      "Workflow steps executed by result",
			},
			[]string{"workflow", "step", "result"},
		),
		stepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of workflow steps in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900, 1800},
			},
			[]string{"workflow", "step"},
		),
		updatesPending: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "updates_pending",
				Help:      "Upgradable packages found by the last assessment",
			},
		),
		rebootRequired: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "reboot_required",
				Help:      "Whether the host reported a pending reboot (1) or not (0)",
			},
		),
	}

	registry.MustRegister(
		m.lastRunTimestamp,
		m.lastRunStatus,
		m.lastRunExitCode,
		m.stepTotal,
		m.stepDuration,
		m.updatesPending,
		m.rebootRequired,
	)

	return m, nil
}

// RecordStep records one finished workflow step.
func (m *Metrics) RecordStep(workflow, step, result string, duration time.Duration) {
	if m.stepTotal == nil {
		return
	}
	m.stepTotal.WithLabelValues(workflow, step, result).Inc()
	m.stepDuration.WithLabelValues(workflow, step).Observe(duration.Seconds())
}

// RecordOutcome records the terminal status of a run.
func (m *Metrics) RecordOutcome(workflow, status string, exitCode int, at time.Time) {
	if m.lastRunStatus == nil {
		return
	}
	m.lastRunStatus.Reset()
	m.lastRunStatus.WithLabelValues(workflow, status).Set(1)
	m.lastRunTimestamp.WithLabelValues(workflow).Set(float64(at.Unix()))
	m.lastRunExitCode.WithLabelValues(workflow).Set(float64(exitCode))
}

// SetUpdatesPending records the size of the upgradable set.
func (m *Metrics) SetUpdatesPending(count int) {
	if m.updatesPending == nil {
		return
	}
	m.updatesPending.Set(float64(count))
}

// SetRebootRequired records whether the host needs a reboot.
func (m *Metrics) SetRebootRequired(required bool) {
	if m.rebootRequired == nil {
		return
	}
	value := 0.0
	if required {
		value = 1.0
	}
	m.rebootRequired.Set(value)
}

// WriteTextfile renders every collector to the configured textfile. The
// write goes through prometheus.WriteToTextfile, which renames a temp file
// into place so the collector never reads a torn file.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.Textfile), 0o755); err != nil {
		return fmt.Errorf("failed to create textfile directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.Textfile, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
