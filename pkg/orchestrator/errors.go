package orchestrator

import "fmt"

// RequiredStepError halts plan execution when a required step fails. It
// carries the offending step id so the transport can surface it.
type RequiredStepError struct {
	StepID string
	Err    error
}

func (e *RequiredStepError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("required step %q failed: %v", e.StepID, e.Err)
	}
	return fmt.Sprintf("required step %q failed", e.StepID)
}

func (e *RequiredStepError) Unwrap() error { return e.Err }
