package engine

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/erikgeiser/promptkit/confirmation"
	"golang.org/x/term"

	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// Decision is the answer to an ActionRequest.
type Decision int

const (
	// Proceed allows the action to run.
	Proceed Decision = iota + 1
	// Skip declines the action.
	Skip
)

// String returns the decision name.
func (d Decision) String() string {
	if d == Proceed {
		return "proceed"
	}
	return "skip"
}

// Authorizer decides whether a state-mutating action may run.
type Authorizer interface {
	Authorize(req ActionRequest) Decision
}

// Prompter asks the operator a yes/no question.
type Prompter func(question string) (bool, error)

var queryMark = lipgloss.NewStyle().
	Foreground(lipgloss.AdaptiveColor{Light: "12", Dark: "14"}).
	Bold(true).
	Render

// TerminalPrompter returns a Prompter reading keys from in and drawing on
// out. The answer defaults to No.
func TerminalPrompter(in io.Reader, out io.Writer) Prompter {
	return func(question string) (bool, error) {
		input := confirmation.New(queryMark("[?] ")+question, confirmation.NewValue(false))
		input.Template = confirmation.TemplateYN
		input.ResultTemplate = confirmation.ResultTemplateYN
		input.Input = in
		input.Output = out
		return input.RunPrompt()
	}
}

// ConfirmationGate asks the operator before a state-mutating action. Under
// dry-run every request proceeds, since the executor only simulates it. In
// headless mode every request proceeds. Without a terminal to ask on, every
// request is skipped.
type ConfirmationGate struct {
	ectx        *ExecutionContext
	prompt      Prompter
	interactive bool
	logger      *telemetry.Logger
}

// NewConfirmationGate creates a gate asking through prompt. interactive
// reports whether an operator is there to answer.
func NewConfirmationGate(ectx *ExecutionContext, prompt Prompter, interactive bool, logger *telemetry.Logger) *ConfirmationGate {
	return &ConfirmationGate{
		ectx:        ectx,
		prompt:      prompt,
		interactive: interactive && prompt != nil,
		logger:      logger.NewComponentLogger("gate"),
	}
}

// NewTerminalGate creates a gate on the process stdin, prompting on stderr.
func NewTerminalGate(ectx *ExecutionContext, logger *telemetry.Logger) *ConfirmationGate {
	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	return NewConfirmationGate(ectx, TerminalPrompter(os.Stdin, os.Stderr), interactive, logger)
}

// Authorize implements Authorizer.
func (g *ConfirmationGate) Authorize(req ActionRequest) Decision {
	fields := telemetry.Fields{"action": req.Description, "reversible": req.Reversible}
	if req.Command.Program != "" {
		fields["command"] = req.Command.String()
	}

	if g.ectx.DryRun() {
		g.logger.Debug("action auto-confirmed (dry run)", fields)
		return Proceed
	}

	if g.ectx.Headless() {
		g.logger.Info("action auto-confirmed (headless)", fields)
		return Proceed
	}

	if !g.interactive {
		g.logger.Warn("no terminal available to confirm action; skipping", fields)
		return Skip
	}

	question := req.Description
	if req.Command.Program != "" {
		question += "\n  command: " + req.Command.String()
	}
	if req.Reversible {
		question += "\n  (rolled back automatically if validation fails)"
	}
	question += "\nProceed?"

	ok, err := g.prompt(question)
	if err != nil {
		g.logger.Warn("no answer read; skipping action", telemetry.Fields{"action": req.Description, "error": err.Error()})
		return Skip
	}
	if !ok {
		g.logger.Info("action declined", fields)
		return Skip
	}
	g.logger.Debug("action confirmed", fields)
	return Proceed
}
