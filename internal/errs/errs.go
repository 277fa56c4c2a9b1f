// Package errs defines the closed set of error kinds the control surface is
// allowed to expose, per the engine's error-handling design: nothing escapes
// as a raw stack trace or library error string through the control surface.
package errs

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Kind is a closed-set error classification surfaced to callers.
type Kind string

const (
	KindInvalidParams     Kind = "INVALID_PARAMS"
	KindTaskNotFound       Kind = "TASK_NOT_FOUND"
	KindBudgetExhausted    Kind = "BUDGET_EXHAUSTED"
	KindAuthRequired       Kind = "AUTH_REQUIRED"
	KindAllEnginesBlocked  Kind = "ALL_ENGINES_BLOCKED"
	KindPipelineError      Kind = "PIPELINE_ERROR"
	KindCalibrationError   Kind = "CALIBRATION_ERROR"
	KindTimeout            Kind = "TIMEOUT"
	KindInternal           Kind = "INTERNAL_ERROR"
)

// Error is the engine-internal error type. Kind and ErrorID are safe to
// expose externally; Cause and Detail are for logs only.
type Error struct {
	Kind    Kind
	ErrorID string
	Detail  string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.Cause }

// New creates a closed-set error with a fresh correlation id.
func New(kind Kind, detail string, cause error) *Error {
	return &Error{
		Kind:    kind,
		ErrorID: uuid.NewString(),
		Detail:  detail,
		Cause:   cause,
	}
}

// Wrap classifies an arbitrary error into the closed set, preserving it as
// Cause for log correlation while never leaking its text to callers.
func Wrap(kind Kind, cause error) *Error {
	detail := "internal error"
	if cause != nil {
		detail = cause.Error()
	}
	return New(kind, detail, cause)
}

// As extracts an *Error from err, if any is present in its chain.
func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
