package fsm

import (
	"errors"
	"fmt"
)

// Error codes. Sentinel values below carry only a code, so errors.Is
// matches any *Error sharing that code regardless of message or machine ID.
const (
	CodeUnknownMachine  = "UNKNOWN_MACHINE"
	CodeMachineComplete = "MACHINE_COMPLETE"
	CodeOverloaded      = "OVERLOADED"
	CodePersistence     = "PERSISTENCE_ERROR"
	CodeHook            = "HOOK_ERROR"
	CodeInvalidGraph    = "INVALID_GRAPH"
)

// Error is the concrete error type returned by every exported operation in
// this package. MachineID is populated whenever the failure is scoped to a
// single machine.
type Error struct {
	Code      string
	MachineID MachineID
	Message   string
	Cause     error
}

func newError(code string, id MachineID, message string, cause error) *Error {
	return &Error{Code: code, MachineID: id, Message: message, Cause: cause}
}

func (e *Error) Error() string {
	if e.MachineID != "" {
		if e.Cause != nil {
			return fmt.Sprintf("fsm: %s: %s (machine %s): %v", e.Code, e.Message, e.MachineID, e.Cause)
		}
		return fmt.Sprintf("fsm: %s: %s (machine %s)", e.Code, e.Message, e.MachineID)
	}
	if e.Cause != nil {
		return fmt.Sprintf("fsm: %s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("fsm: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target is an *Error with the same Code. This lets
// callers write errors.Is(err, fsm.ErrUnknownMachine) against the bare
// sentinel values below regardless of the message or machine ID attached to
// the concrete error that was actually returned.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// Sentinel values for use with errors.Is. Only Code is populated; never
// compare these with ==.
var (
	ErrUnknownMachine  = &Error{Code: CodeUnknownMachine}
	ErrMachineComplete = &Error{Code: CodeMachineComplete}
	ErrOverloaded      = &Error{Code: CodeOverloaded}
	ErrPersistence     = &Error{Code: CodePersistence}
	ErrHook            = &Error{Code: CodeHook}
	ErrInvalidGraph    = &Error{Code: CodeInvalidGraph}
)

// UnknownMachine builds an ErrUnknownMachine-class error for id.
func UnknownMachine(id MachineID) error {
	return newError(CodeUnknownMachine, id, "no live or persisted machine with this id", nil)
}

// MachineComplete builds an ErrMachineComplete-class error for id.
func MachineComplete(id MachineID) error {
	return newError(CodeMachineComplete, id, "machine has reached a final state", nil)
}

// Overloaded builds an ErrOverloaded-class error for id.
func Overloaded(id MachineID) error {
	return newError(CodeOverloaded, id, "machine inbox is full", nil)
}

// PersistenceFailure wraps cause as an ErrPersistence-class error for id.
func PersistenceFailure(id MachineID, cause error) error {
	return newError(CodePersistence, id, "persistence operation failed", cause)
}

// HookFailure wraps cause as an ErrHook-class error for id.
func HookFailure(id MachineID, cause error) error {
	return newError(CodeHook, id, "hook returned an error", cause)
}

// InvalidGraph wraps cause (typically a *GraphValidationError) as an
// ErrInvalidGraph-class error.
func InvalidGraph(cause error) error {
	return newError(CodeInvalidGraph, "", "graph validation failed", cause)
}

// Code extracts the fsm error code from err, walking the Unwrap chain.
// Returns "" if err is not (or does not wrap) an *Error.
func Code(err error) string {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Code
	}
	return ""
}
