package errors

import (
	"fmt"
)

// ExitCodeError ties an error to the exit code the launcher binary should
// terminate with.
type ExitCodeError struct {
	code ExitCode
	error
}

func NewError(err error, exitCode ExitCode) *ExitCodeError {
	if err == nil {
		return nil
	}
	return &ExitCodeError{exitCode, err}
}

func NewErrorf(exitCode ExitCode, format string, args ...interface{}) *ExitCodeError {
	return &ExitCodeError{exitCode, fmt.Errorf(format, args...)}
}

func (e *ExitCodeError) GetExitCode() ExitCode {
	if e == nil {
		return 0
	}
	return e.code
}

// Cause lets github.com/pkg/errors unwrap to the underlying error.
func (e *ExitCodeError) Cause() error {
	if e == nil {
		return nil
	}
	return e.error
}

func (e *ExitCodeError) Unwrap() error {
	return e.Cause()
}

// ExitCodeOf finds the exit code carried by err or any error it wraps.
// Errors that carry none map to GenericFailureExitCode.
func ExitCodeOf(err error) ExitCode {
	if err == nil {
		return SuccessExitCode
	}
	for err != nil {
		if e, ok := err.(*ExitCodeError); ok {
			return e.code
		}
		switch u := err.(type) {
		case interface{ Cause() error }:
			err = u.Cause()
		case interface{ Unwrap() error }:
			err = u.Unwrap()
		default:
			return GenericFailureExitCode
		}
	}
	return GenericFailureExitCode
}
