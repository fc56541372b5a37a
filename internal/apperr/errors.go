// Package apperr holds the error types shared by the stores, the dispatcher
// and the command layer. Callers match them with errors.As.
package apperr

import (
	"errors"
	"fmt"
)

// ValidationError reports bad user input. Nothing was persisted.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid input: " + e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown id. Nothing changed.
type NotFoundError struct {
	Kind string
	ID   int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// TransientDispatchError wraps a failed or timed out outbound send.
type TransientDispatchError struct {
	Target string
	Err    error
}

func (e *TransientDispatchError) Error() string {
	return fmt.Sprintf("dispatch to %s failed: %v", e.Target, e.Err)
}

func (e *TransientDispatchError) Unwrap() error { return e.Err }

// CorruptConfigError describes a persisted rule that could not be decoded.
// It is logged by the rule store and never returned to callers.
type CorruptConfigError struct {
	Source string
	Err    error
}

func (e *CorruptConfigError) Error() string {
	return fmt.Sprintf("corrupt config in %s: %v", e.Source, e.Err)
}

func (e *CorruptConfigError) Unwrap() error { return e.Err }

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

func IsNotFound(err error) bool {
	var n *NotFoundError
	return errors.As(err, &n)
}

// UserMessage renders err for a chat reply. Unknown errors collapse to a
// generic message so internals do not leak into the group.
func UserMessage(err error) string {
	var v *ValidationError
	if errors.As(err, &v) {
		return v.Error()
	}
	var n *NotFoundError
	if errors.As(err, &n) {
		return n.Error()
	}
	return "something went wrong, check the logs"
}
