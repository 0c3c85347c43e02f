package workflow

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned by Lifecycle.Next for an unconfigured edge
var ErrInvalidTransition = errors.New("invalid state transition")

// Error kinds surfaced to callers of the engine and the definition store.
var (
	ErrValidation                   = errors.New("validation error")
	ErrNotFound                     = errors.New("not found")
	ErrNoApprovalPathFound          = errors.New("no approval path found")
	ErrNoApproverFound              = errors.New("no approver found")
	ErrUnauthorizedApprover         = errors.New("unauthorized approver")
	ErrInvalidStateForAction        = errors.New("invalid state for action")
	ErrConcurrentModification       = errors.New("concurrent modification")
	ErrCannotCancelTerminalInstance = errors.New("cannot cancel terminal instance")
	ErrDefinitionInvalid            = errors.New("definition invalid")

	// ErrInvariantViolation marks a broken internal invariant. The enclosing
	// transaction must be rolled back when it is returned.
	ErrInvariantViolation = errors.New("invariant violation")
)

// Error carries the instance context of a failed operation. It matches its
// Kind and its wrapped cause with errors.Is.
type Error struct {
	Kind       error
	InstanceID string
	Stage      int
	Expected   string
	Actual     string
	Message    string
	Err        error
}

// NewError builds an Error of the given kind
func NewError(kind error, instanceID, format string, args ...interface{}) *Error {
	return &Error{
		Kind:       kind,
		InstanceID: instanceID,
		Message:    fmt.Sprintf(format, args...),
	}
}

// WithStage records the stage the failure happened at
func (e *Error) WithStage(stage int) *Error {
	e.Stage = stage
	return e
}

// WithStates records the expected and actual status for state errors
func (e *Error) WithStates(expected, actual string) *Error {
	e.Expected = expected
	e.Actual = actual
	return e
}

// Wrap attaches an underlying cause
func (e *Error) Wrap(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.InstanceID != "" {
		fmt.Fprintf(&b, " (instance=%s", e.InstanceID)
		if e.Stage > 0 {
			fmt.Fprintf(&b, ", stage=%d", e.Stage)
		}
		if e.Expected != "" || e.Actual != "" {
			fmt.Fprintf(&b, ", expected=%s, actual=%s", e.Expected, e.Actual)
		}
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Validationf is shorthand for a validation error without instance context
func Validationf(format string, args ...interface{}) *Error {
	return NewError(ErrValidation, "", format, args...)
}
