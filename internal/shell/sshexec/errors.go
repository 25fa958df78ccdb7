// Package sshexec executes release pipeline commands on a host over SSH.
package sshexec

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Types
// =============================================================================

var (
	// ErrConnectFailed is returned when the SSH connection cannot be established.
	ErrConnectFailed = errors.New("SSH connection failed")

	// ErrCommandFailed is returned when a remote command exits non-zero.
	ErrCommandFailed = errors.New("remote command failed")

	// ErrCommandTimeout is returned when a remote command exceeds its timeout.
	ErrCommandTimeout = errors.New("remote command timed out")

	// ErrClosed is returned when the runner has been closed.
	ErrClosed = errors.New("runner is closed")
)

// ExecError wraps a remote execution failure with its captured output.
type ExecError struct {
	Op      string // Operation that failed (e.g., "Run")
	Command string
	Output  string
	Err     error
}

func (e *ExecError) Error() string {
	if e.Output != "" {
		return fmt.Sprintf("%s: %v: %s", e.Op, e.Err, e.Output)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ExecError) Unwrap() error {
	return e.Err
}

// NewExecError creates a new ExecError.
func NewExecError(op, command, output string, err error) *ExecError {
	return &ExecError{
		Op:      op,
		Command: command,
		Output:  output,
		Err:     err,
	}
}
