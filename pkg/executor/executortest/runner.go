// Package executortest provides a scripted Runner for tests.
package executortest

import (
	"context"
	"strings"
	"sync"

	"github.com/sysmaint/sysmaint/pkg/engine"
	"github.com/sysmaint/sysmaint/pkg/executor"
)

type response struct {
	prefix string
	result executor.Result
	err    error
	// remaining is the number of times the response applies; 0 means always.
	remaining int
}

// FakeRunner records every command and answers from scripted responses.
// Commands with no matching response succeed with empty output.
type FakeRunner struct {
	mu        sync.Mutex
	responses []*response
	calls     []engine.CommandSpec
	started   []engine.CommandSpec
	startErrs map[string]error
}

// NewFakeRunner creates an empty FakeRunner.
func NewFakeRunner() *FakeRunner {
	return &FakeRunner{}
}

// On scripts the result for commands whose rendered form starts with prefix.
// Later registrations win over earlier ones.
func (f *FakeRunner) On(prefix string, result executor.Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, &response{prefix: prefix, result: result})
	return f
}

// OnOnce is On for a single invocation.
func (f *FakeRunner) OnOnce(prefix string, result executor.Result) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, &response{prefix: prefix, result: result, remaining: 1})
	return f
}

// OnError scripts a start failure for commands matching prefix.
func (f *FakeRunner) OnError(prefix string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, &response{prefix: prefix, err: err})
	return f
}

// OnStartError makes Start fail for commands matching prefix.
func (f *FakeRunner) OnStartError(prefix string, err error) *FakeRunner {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErrs == nil {
		f.startErrs = map[string]error{}
	}
	f.startErrs[prefix] = err
	return f
}

// Run implements executor.Runner.
func (f *FakeRunner) Run(_ context.Context, spec engine.CommandSpec) (executor.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, spec)

	line := spec.String()
	for i := len(f.responses) - 1; i >= 0; i-- {
		r := f.responses[i]
		if !strings.HasPrefix(line, r.prefix) {
			continue
		}
		if r.remaining > 0 {
			r.remaining--
			if r.remaining == 0 {
				f.responses = append(f.responses[:i], f.responses[i+1:]...)
			}
		}
		return r.result, r.err
	}
	return executor.Result{}, nil
}

// Start implements executor.Runner.
func (f *FakeRunner) Start(_ context.Context, spec engine.CommandSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, spec)
	line := spec.String()
	for prefix, err := range f.startErrs {
		if strings.HasPrefix(line, prefix) {
			return err
		}
	}
	return nil
}

// Calls returns every command passed to Run, rendered.
func (f *FakeRunner) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Started returns every command passed to Start, rendered.
func (f *FakeRunner) Started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.started))
	for i, c := range f.started {
		out[i] = c.String()
	}
	return out
}

// Called reports whether any command starting with prefix was run.
func (f *FakeRunner) Called(prefix string) bool {
	return f.Count(prefix) > 0
}

// Count returns how many commands starting with prefix were run.
func (f *FakeRunner) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
