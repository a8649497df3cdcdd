package engine

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/sysmaint/sysmaint/pkg/telemetry"
)

// scriptedPrompter answers every question with the same result and keeps
// the questions asked.
type scriptedPrompter struct {
	answer    bool
	err       error
	questions []string
}

func (p *scriptedPrompter) prompt(question string) (bool, error) {
	p.questions = append(p.questions, question)
	return p.answer, p.err
}

func TestGateHeadlessProceeds(t *testing.T) {
	ectx := NewExecutionContext(RunOptions{Headless: true})
	p := &scriptedPrompter{}
	gate := NewConfirmationGate(ectx, p.prompt, false, telemetry.NewNopLogger())

	if got := gate.Authorize(ActionRequest{Description: "apply 2 updates"}); got != Proceed {
		t.Errorf("Authorize() = %s, want proceed", got)
	}
	if len(p.questions) != 0 {
		t.Errorf("headless gate prompted: %q", p.questions)
	}
}

func TestGateDryRunProceedsWithoutPrompt(t *testing.T) {
	ectx := NewExecutionContext(RunOptions{DryRun: true})
	p := &scriptedPrompter{}
	gate := NewConfirmationGate(ectx, p.prompt, true, telemetry.NewNopLogger())

	if got := gate.Authorize(ActionRequest{Description: "enable firewall"}); got != Proceed {
		t.Errorf("Authorize() = %s, want proceed", got)
	}
	if len(p.questions) != 0 {
		t.Errorf("dry-run gate prompted: %q", p.questions)
	}
}

func TestGateInteractiveAnswers(t *testing.T) {
	tests := []struct {
		name   string
		answer bool
		err    error
		want   Decision
	}{
		{"yes", true, nil, Proceed},
		{"no", false, nil, Skip},
		{"eof", false, io.EOF, Skip},
		{"error after yes", true, errors.New("terminal closed"), Skip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ectx := NewExecutionContext(RunOptions{})
			p := &scriptedPrompter{answer: tt.answer, err: tt.err}
			gate := NewConfirmationGate(ectx, p.prompt, true, telemetry.NewNopLogger())

			req := ActionRequest{Description: "apply 2 updates", Command: Command("apt-get", "upgrade", "-y")}
			if got := gate.Authorize(req); got != tt.want {
				t.Errorf("Authorize() = %s, want %s", got, tt.want)
			}
			if len(p.questions) != 1 || !strings.Contains(p.questions[0], "apt-get upgrade -y") {
				t.Errorf("question %q does not show the command", p.questions)
			}
		})
	}
}

func TestGateMentionsRollbackForReversibleActions(t *testing.T) {
	ectx := NewExecutionContext(RunOptions{})
	p := &scriptedPrompter{answer: true}
	gate := NewConfirmationGate(ectx, p.prompt, true, telemetry.NewNopLogger())

	gate.Authorize(ActionRequest{Description: "harden sshd", Reversible: true})
	gate.Authorize(ActionRequest{Description: "enable firewall"})

	if !strings.Contains(p.questions[0], "rolled back automatically") {
		t.Errorf("reversible question %q lacks rollback note", p.questions[0])
	}
	if strings.Contains(p.questions[1], "rolled back") {
		t.Errorf("irreversible question %q claims rollback", p.questions[1])
	}
}

func TestGateWithoutTerminalSkips(t *testing.T) {
	ectx := NewExecutionContext(RunOptions{})
	p := &scriptedPrompter{answer: true}
	gate := NewConfirmationGate(ectx, p.prompt, false, telemetry.NewNopLogger())

	if got := gate.Authorize(ActionRequest{Description: "enable firewall"}); got != Skip {
		t.Errorf("Authorize() = %s, want skip", got)
	}
	if len(p.questions) != 0 {
		t.Error("gate prompted without a terminal")
	}
}

func TestGateWithoutPrompterSkips(t *testing.T) {
	ectx := NewExecutionContext(RunOptions{})
	gate := NewConfirmationGate(ectx, nil, true, telemetry.NewNopLogger())

	if got := gate.Authorize(ActionRequest{Description: "enable firewall"}); got != Skip {
		t.Errorf("Authorize() = %s, want skip", got)
	}
}
