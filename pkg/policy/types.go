package policy

import (
	"fmt"
	"strings"

	"github.com/sysmaint/sysmaint/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityWarning is reported but does not block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the change.
	SeverityError Severity = "error"

	// SeverityCritical blocks the change.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity rejects the change.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy represents a policy rule with its Rego code.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity is the default severity for violations.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is active.
	Enabled bool `json:"enabled"`

	// Source is the file the policy was loaded from; empty for built-ins.
	Source string `json:"source,omitempty"`
}

// Violation represents a single deny result.
type Violation struct {
	Policy   string   `json:"policy"`
	Message  string   `json:"message"`
	Setting  string   `json:"setting,omitempty"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: %s", v.Policy, v.Message)
}

// Result is the outcome of evaluating every enabled policy.
type Result struct {
	Allowed           bool        `json:"allowed"`
	Violations        []Violation `json:"violations,omitempty"`
	Warnings          []string    `json:"warnings,omitempty"`
	EvaluatedPolicies []string    `json:"evaluated_policies"`
}

// Err returns a ValidationFailed error listing the blocking violations, or
// nil when the result is allowed.
func (r *Result) Err() error {
	if r == nil || r.Allowed {
		return nil
	}

	msgs := make([]string, 0, len(r.Violations))
	for _, v := range r.Violations {
		if v.Severity.Blocking() {
			msgs = append(msgs, v.String())
		}
	}
	return engine.NewValidationFailed("sshd policy violation: "+strings.Join(msgs, "; "), nil)
}

// SSHInput is the document the sshd policies are evaluated against.
type SSHInput struct {
	// Settings maps lowercased sshd keywords to their effective value.
	Settings map[string]string

	// AuthorizedKeys is the number of valid keys found in the configured
	// authorized_keys files.
	AuthorizedKeys int
}

// NewSSHInput builds an input, lowercasing keywords as sshd treats them
// case-insensitively.
func NewSSHInput(settings map[string]string, authorizedKeys int) SSHInput {
	normalized := make(map[string]string, len(settings))
	for k, v := range settings {
		normalized[strings.ToLower(k)] = v
	}
	return SSHInput{Settings: normalized, AuthorizedKeys: authorizedKeys}
}

func (in SSHInput) document() map[string]interface{} {
	sshd := make(map[string]interface{}, len(in.Settings))
	for k, v := range in.Settings {
		sshd[k] = v
	}
	return map[string]interface{}{
		"sshd":            sshd,
		"authorized_keys": in.AuthorizedKeys,
	}
}
