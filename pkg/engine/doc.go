// Package engine provides the types shared by every sysmaint workflow.
//
// # Overview
//
// A sysmaint run is one workflow (update or hardening) executed against the
// local host. The engine package defines what the workflows, the package
// manager backends and the command layer agree on:
//
//   - ExecutionContext: the frozen run switches (dry-run, headless, JSON
//     output, verbosity), created once per process and passed by pointer
//   - CommandSpec: an external command, rendered shell-quoted for logs and
//     confirmation prompts
//   - ConfirmationGate: asks the operator before a state-mutating action
//   - WorkflowOutcome: the terminal status of a run and its exit code
//   - Error: the classified error taxonomy
//
// # Confirmation
//
// Every state-mutating action goes through an Authorizer. The terminal gate
// decides in this order:
//
//  1. dry-run: proceed, the executor only simulates the action
//  2. headless: proceed without asking
//  3. no terminal on stdin: skip without asking
//  4. otherwise prompt; anything but y/yes skips
//
// A skipped action is never a failure. The update workflow treats a declined
// confirmation as UpToDate; hardening steps count it as skipped.
//
// # Exit Codes
//
// Outcomes map onto process exit codes:
//
//	0   Applied
//	1   Failed
//	2   UpToDate
//	3   PartialFailure
//	10  RebootRequired
//
// Codes 4 through 9 are reserved.
//
// # Errors
//
// Errors that cross a package boundary are *Error values with a Kind:
//
//	err := engine.NewCommandFailed("apt-get update -q", 100, "E: Could not get lock", nil)
//	if engine.IsKind(err, engine.KindCommandFailed) {
//	    code, _ := engine.CommandExitCode(err)
//	    ...
//	}
//
// A command killed by its timeout is a CommandFailed with exit code -1.
package engine
