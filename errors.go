package safeshell

import (
	"fmt"

	"github.com/safeshell-dev/safeshell/internal/overlay"
	"github.com/safeshell-dev/safeshell/internal/policy"
)

// SecurityError is returned when the policy engine blocks a command.
// It is always surfaced before any process runs.
type SecurityError struct {
	Command  string
	Decision policy.Decision
}

func (e *SecurityError) Error() string {
	return fmt.Sprintf("security violation (%s): %s", e.Category(), e.Decision.Reason)
}

// Category returns the matched rule's category, or "not-allowlisted"
// when the paranoid allowlist gate blocked the command.
func (e *SecurityError) Category() string {
	if e.Decision.Rule != nil {
		return string(e.Decision.Rule.Category)
	}
	return "not-allowlisted"
}

// Rule returns the matched rule, if any.
func (e *SecurityError) Rule() *policy.Rule {
	return e.Decision.Rule
}

// LifecycleError is returned when an operation is invoked outside the
// state it requires.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("safeshell: %s invoked while toolkit is %s", e.Op, e.State)
}

// ExecutionError is returned when a process failed to start or was
// killed by its timeout. A process that started and exited non-zero is
// not an ExecutionError; the exit code is data on the CommandResult.
type ExecutionError struct {
	Command string
	Timeout bool
	Err     error
}

func (e *ExecutionError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("safeshell: command timed out: %s", e.Command)
	}
	return fmt.Sprintf("safeshell: command failed to start: %v", e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// PathEscapeError is the overlay's escape rejection, re-exported so
// callers need only this package.
type PathEscapeError = overlay.PathEscapeError
