package engine

import "strings"

// RunOptions are the process-wide switches fixed at startup.
type RunOptions struct {
	DryRun     bool
	Headless   bool
	JSONOutput bool
	Verbosity  int
}

// ExecutionContext carries the run switches to every component. It is
// created once per process and shared by pointer; it has no setters.
type ExecutionContext struct {
	dryRun     bool
	headless   bool
	jsonOutput bool
	verbosity  int
}

// NewExecutionContext freezes opts into an ExecutionContext.
func NewExecutionContext(opts RunOptions) *ExecutionContext {
	v := opts.Verbosity
	if v < 0 {
		v = 0
	}
	return &ExecutionContext{
		dryRun:     opts.DryRun,
		headless:   opts.Headless,
		jsonOutput: opts.JSONOutput,
		verbosity:  v,
	}
}

// DryRun reports whether state-mutating commands are simulated.
func (c *ExecutionContext) DryRun() bool { return c.dryRun }

// Headless reports whether confirmations are answered without a prompt.
func (c *ExecutionContext) Headless() bool { return c.headless }

// JSONOutput reports whether log events are written as JSON lines.
func (c *ExecutionContext) JSONOutput() bool { return c.jsonOutput }

// Verbosity returns the -v count.
func (c *ExecutionContext) Verbosity() int { return c.verbosity }

// CommandSpec describes an external command.
type CommandSpec struct {
	Program string
	Args    []string

	// Stdin is fed to the process when non-empty.
	Stdin string

	// Env holds extra KEY=VALUE pairs appended to the inherited environment.
	Env []string

	// OkCodes lists non-zero exit codes that still count as success.
	OkCodes []int
}

// Command builds a CommandSpec from a program and its arguments.
func Command(program string, args ...string) CommandSpec {
	return CommandSpec{Program: program, Args: args}
}

// String renders the command line for logs and prompts.
func (s CommandSpec) String() string {
	parts := make([]string, 0, len(s.Args)+1)
	parts = append(parts, s.Program)
	for _, a := range s.Args {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			a = "'" + strings.ReplaceAll(a, "'", `'\''`) + "'"
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// Accepts reports whether code is a successful exit status for the command.
func (s CommandSpec) Accepts(code int) bool {
	if code == 0 {
		return true
	}
	for _, ok := range s.OkCodes {
		if ok == code {
			return true
		}
	}
	return false
}

// ActionRequest is a proposed state-mutating action shown to the operator.
type ActionRequest struct {
	Description string
	Command     CommandSpec

	// Reversible is set when the action restores the previous state by
	// itself if it fails.
	Reversible bool
}
