package workflows

import (
	"errors"
	"fmt"

	"github.com/sysmaint/sysmaint/pkg/engine"
)

// SkipError marks a step that deliberately did nothing, such as an action the
// operator declined or one the backend does not support. A skip is never a
// failure.
type SkipError struct {
	Reason string
}

func (e *SkipError) Error() string {
	return e.Reason
}

// Skipped returns a SkipError with a formatted reason.
func Skipped(format string, args ...interface{}) error {
	return &SkipError{Reason: fmt.Sprintf(format, args...)}
}

// IsSkipped reports whether err marks a skipped step.
func IsSkipped(err error) bool {
	var skip *SkipError
	return errors.As(err, &skip)
}

// StepResultOf classifies a step error.
func StepResultOf(err error) engine.StepResult {
	switch {
	case err == nil:
		return engine.StepSucceeded
	case IsSkipped(err):
		return engine.StepSkipped
	default:
		return engine.StepFailed
	}
}
