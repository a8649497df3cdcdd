// Package workflowtest builds workflow dependencies backed by fakes.
package workflowtest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
	"github.com/sysmaint/sysmaint/pkg/executor/executortest"
	"github.com/sysmaint/sysmaint/pkg/stores"
	"github.com/sysmaint/sysmaint/pkg/telemetry"
	"github.com/sysmaint/sysmaint/pkg/workflows"
)

// Now is the fixed clock used by Env.
var Now = time.Date(2026, 3, 1, 4, 0, 0, 0, time.UTC)

// Gate answers ActionRequests from a script and records them.
type Gate struct {
	mu       sync.Mutex
	Default  engine.Decision
	answers  map[string]engine.Decision
	requests []engine.ActionRequest
}

// NewGate returns a gate answering def unless scripted otherwise.
func NewGate(def engine.Decision) *Gate {
	return &Gate{Default: def, answers: map[string]engine.Decision{}}
}

// Answer scripts the decision for requests whose description contains substr.
func (g *Gate) Answer(substr string, d engine.Decision) *Gate {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.answers[substr] = d
	return g
}

// Authorize implements engine.Authorizer.
func (g *Gate) Authorize(req engine.ActionRequest) engine.Decision {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)
	for substr, d := range g.answers {
		if strings.Contains(req.Description, substr) {
			return d
		}
	}
	return g.Default
}

// Requests returns every request seen so far.
func (g *Gate) Requests() []engine.ActionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]engine.ActionRequest(nil), g.requests...)
}

// StateStore keeps records in memory.
type StateStore struct {
	mu      sync.Mutex
	Records []stores.StateRecord
	Err     error
}

// Write implements stores.StateStore.
func (s *StateStore) Write(_ context.Context, outcome engine.WorkflowOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.Records = append(s.Records, stores.NewStateRecord(outcome))
	return nil
}

// Read implements stores.StateStore.
func (s *StateStore) Read(context.Context) (stores.StateRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Records) == 0 {
		return stores.StateRecord{}, stores.ErrStateNotFound
	}
	return s.Records[len(s.Records)-1], nil
}

// Env is a set of workflow dependencies wired to fakes.
type Env struct {
	Deps   *workflows.Deps
	Runner *executortest.FakeRunner
	Gate   *Gate
	State  *StateStore
	Logs   *bytes.Buffer
}

// Options tune NewEnv.
type Options struct {
	DryRun   bool
	Headless bool
	Gate     *Gate
}

// NewEnv creates dependencies with a debug-level JSON logger writing to
// Env.Logs, a FakeRunner, and a privilege check that always passes.
func NewEnv(t testing.TB, opts Options) *Env {
	t.Helper()

	var buf bytes.Buffer
	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{Level: "debug", Format: "json", Writer: &buf})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	tel := telemetry.NewNopTelemetry()
	tel.Logger = logger

	gate := opts.Gate
	if gate == nil {
		gate = NewGate(engine.Proceed)
	}

	runner := executortest.NewFakeRunner()
	ectx := engine.NewExecutionContext(engine.RunOptions{DryRun: opts.DryRun, Headless: opts.Headless})
	exec := executor.New(ectx, runner, logger, executor.WithLockRetry(0, time.Millisecond))
	state := &StateStore{}

	return &Env{
		Deps: &workflows.Deps{
			Context:   ectx,
			Exec:      exec,
			Gate:      gate,
			State:     state,
			Telemetry: tel,
			RunID:     "test-run",
			Privilege: func(*engine.ExecutionContext, *telemetry.Logger) error { return nil },
			Now:       func() time.Time { return Now },
		},
		Runner: runner,
		Gate:   gate,
		State:  state,
		Logs:   &buf,
	}
}

// Events decodes every log event written so far.
func (e *Env) Events(t testing.TB) []telemetry.LogEvent {
	t.Helper()

	var out []telemetry.LogEvent
	scanner := bufio.NewScanner(bytes.NewReader(e.Logs.Bytes()))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var ev telemetry.LogEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("invalid log line %q: %v", scanner.Text(), err)
		}
		out = append(out, ev)
	}
	return out
}

// EventsWithPrefix returns events whose message starts with prefix.
func (e *Env) EventsWithPrefix(t testing.TB, prefix string) []telemetry.LogEvent {
	t.Helper()

	var out []telemetry.LogEvent
	for _, ev := range e.Events(t) {
		if strings.HasPrefix(ev.Message, prefix) {
			out = append(out, ev)
		}
	}
	return out
}
