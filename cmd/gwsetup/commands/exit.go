package commands

import (
	"errors"
)

// Process exit codes.
const (
	ExitOK = 0

	// ExitInvalid covers configuration and load errors, a held lock and
	// a failed pre-flight without --force.
	ExitInvalid = 1

	// ExitStepsFailed means one or more steps failed or the run halted.
	ExitStepsFailed = 2
)

// ExitError attaches a process exit code to an error.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitWith(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// ExitCode maps an Execute error to the process exit code. Errors without
// an ExitError, such as flag parsing failures, exit with ExitInvalid.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitInvalid
}
