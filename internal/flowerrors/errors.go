// Package flowerrors defines the classified errors pipeline stages raise. The exception
// processor decides the outcome of a pass from the class of the error alone.
package flowerrors

import (
	"errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// TransientError is a recoverable condition, for example data of a dependency that is not
// yet visible. The pass is rolled back and retried up to the configured limit.
type TransientError struct {
	Message string
	Cause   error
}

func NewTransient(msg string, cause error) *TransientError {
	return &TransientError{Message: msg, Cause: cause}
}

func (e *TransientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

func (e *TransientError) Unwrap() error {
	return e.Cause
}

// FatalError is an unrecoverable programming or protocol error. The flow is failed and
// the event dead-lettered.
type FatalError struct {
	Message string
	Cause   error

	stack string
}

func NewFatal(msg string, cause error) *FatalError {
	return &FatalError{
		Message: msg,
		Cause:   cause,
		stack:   string(goerrors.New(msg).Stack()),
	}
}

func Fatalf(format string, args ...interface{}) *FatalError {
	return NewFatal(fmt.Sprintf(format, args...), nil)
}

func (e *FatalError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}

// Stack returns the stack trace captured when the error was created.
func (e *FatalError) Stack() string {
	return e.stack
}

// EventError is specific to one event and does not invalidate the flow. It is logged and
// the context built before the error is still honoured.
type EventError struct {
	Message string
	Cause   error
}

func NewEvent(msg string, cause error) *EventError {
	return &EventError{Message: msg, Cause: cause}
}

func (e *EventError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}

	return e.Message
}

func (e *EventError) Unwrap() error {
	return e.Cause
}

// MarkedForKillError is raised when a flow must be terminated administratively.
type MarkedForKillError struct {
	Details string
}

func NewMarkedForKill(details string) *MarkedForKillError {
	return &MarkedForKillError{Details: details}
}

func (e *MarkedForKillError) Error() string {
	return "flow marked for kill: " + e.Details
}

// ErrFiberTimeout is the cause of the failure reported for a fiber run that exceeded
// the configured timeout.
var ErrFiberTimeout = errors.New("flow fiber execution timed out")
