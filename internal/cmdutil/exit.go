// Package cmdutil provides shared command utilities for the reductus-engine
// CLI: the ExitError type and exit code mapping.
package cmdutil

import (
	"errors"

	"github.com/reductus/engine/internal/engerr"
)

// Exit codes per SPEC_FULL.md §3 "Exit codes".
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitValidation   = 2
	ExitNotFound     = 3
	ExitConnectivity = 4
	ExitCancelled    = 5
)

// ExitError wraps an error with a process exit code and whether a
// human-readable rendering of it has already been printed by the command
// layer.
type ExitError struct {
	Err     error
	Code    int
	Printed bool
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	return e.Err.Error()
}

// Unwrap returns the wrapped error.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given error and exit code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// ExitCodeFromError determines the appropriate exit code for an error
// returned by the engine, following the §7 error taxonomy.
func ExitCodeFromError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}

	if errors.Is(err, engerr.ErrCancelled) {
		return ExitCancelled
	}

	var ee *engerr.EngineError
	if errors.As(err, &ee) {
		switch ee.Kind {
		case engerr.KindInvalidTemplate, engerr.KindValidation, engerr.KindCyclicDependency,
			engerr.KindUnsupportedFormat, engerr.KindMalformedHeader:
			return ExitValidation
		case engerr.KindNotFound:
			return ExitNotFound
		case engerr.KindIOError, engerr.KindMissingFile:
			return ExitConnectivity
		default:
			return ExitGeneralError
		}
	}

	return ExitGeneralError
}
