// Package submission defines the faults a trigger event submission can
// return and the structural validation applied before admission.
package submission

import (
	"errors"
	"fmt"
)

// ErrorCode identifies why a submission was refused.
type ErrorCode string

const (
	// Validation faults.
	MissingEvent        ErrorCode = "MissingEvent"
	MissingIdentifier   ErrorCode = "MissingIdentifier"
	InvalidTimestamp    ErrorCode = "InvalidTimestamp"
	MissingService      ErrorCode = "MissingService"
	MissingEventType    ErrorCode = "MissingEventType"
	MissingOrganization ErrorCode = "MissingOrganization"
	MissingAccessMode   ErrorCode = "MissingAccessMode"

	// NoResourcesAvailable means no worker became idle within the wait budget.
	NoResourcesAvailable ErrorCode = "NoResourcesAvailable"

	// NotRunning means the worker was not started. It is a usage fault, not retryable.
	NotRunning ErrorCode = "NotRunning"
)

// Error is returned synchronously to the submitter.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("submission refused: %s", e.Code)
	}
	return fmt.Sprintf("submission refused: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsValidation reports whether the fault was caused by the submitted event itself.
func (e *Error) IsValidation() bool {
	switch e.Code {
	case MissingEvent, MissingIdentifier, InvalidTimestamp, MissingService,
		MissingEventType, MissingOrganization, MissingAccessMode:
		return true
	default:
		return false
	}
}

// Retryable reports whether the caller may retry the same event later.
func (e *Error) Retryable() bool {
	return e.Code == NoResourcesAvailable
}

// Fatal reports a programming or wiring error on the caller side.
func (e *Error) Fatal() bool {
	return e.Code == NotRunning
}

// CodeOf returns the ErrorCode carried by err, or "" if err is not a submission error.
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

func newError(code ErrorCode, msg string) *Error {
	return &Error{Code: code, Message: msg}
}
