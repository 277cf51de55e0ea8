package hedge

import (
	"fmt"
)

// ValidationError rejects a malformed or out-of-policy request. It is never
// retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// InvalidStateError rejects an operation attempted against a hedge that is
// not in the required state. No state is mutated.
type InvalidStateError struct {
	HedgeID string
	From    string
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("invalid state: cannot %s hedge %s in status %s", e.Op, e.HedgeID, e.From)
}

// ExecutorFailure surfaces a non-confirmation from the settlement executor
// after retries. The affected hedge is left unchanged and retried on the next
// natural tick.
type ExecutorFailure struct {
	RequestID string
	Cause     error
}

func (e *ExecutorFailure) Error() string {
	return fmt.Sprintf("executor failure (request %s): %v", e.RequestID, e.Cause)
}

func (e *ExecutorFailure) Unwrap() error {
	return e.Cause
}
