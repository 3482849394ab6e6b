package close

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrGuardViolation indicates a transition precondition is not met.
	ErrGuardViolation = errors.New("close: transition precondition not met")
	// ErrInvalidInput indicates malformed request data.
	ErrInvalidInput = errors.New("close: invalid input")
	// ErrForbidden indicates the actor lacks the required capability.
	ErrForbidden = errors.New("close: forbidden")
	// ErrNotFound indicates a missing close, period, task or template.
	ErrNotFound = errors.New("close: not found")
	// ErrConcurrentUpdate indicates the close changed between read and write.
	ErrConcurrentUpdate = errors.New("close: concurrent update detected")
	// ErrValidationUnavailable indicates the validation engine could not produce a result.
	ErrValidationUnavailable = errors.New("close: validation unavailable")
	// ErrCloseExists indicates the period already has a close.
	ErrCloseExists = errors.New("close: period already has a close")
	// ErrTransitionInProgress indicates another transition holds the close lock.
	ErrTransitionInProgress = errors.New("close: another transition is in progress")
)

// GuardError enumerates the unmet preconditions of a transition.
type GuardError struct {
	Op     string
	Reason string
	Issues []string
}

func (e *GuardError) Error() string {
	if len(e.Issues) == 0 {
		return fmt.Sprintf("cannot %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("cannot %s: %s: %s", e.Op, e.Reason, strings.Join(e.Issues, ", "))
}

// Is matches ErrGuardViolation.
func (e *GuardError) Is(target error) bool {
	return target == ErrGuardViolation
}

func guardErr(op, reason string, issues ...string) error {
	return &GuardError{Op: op, Reason: reason, Issues: issues}
}

// InputError carries field-level validation messages.
type InputError struct {
	Message string
	Fields  map[string]string
}

func (e *InputError) Error() string {
	if len(e.Fields) == 0 {
		return e.Message
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return e.Message + " (" + strings.Join(parts, "; ") + ")"
}

// FieldErrors exposes the per-field messages to the transport.
func (e *InputError) FieldErrors() map[string]string {
	return e.Fields
}

// Is matches ErrInvalidInput.
func (e *InputError) Is(target error) bool {
	return target == ErrInvalidInput
}

func inputErr(message string, fields map[string]string) error {
	return &InputError{Message: message, Fields: fields}
}

// ForbiddenError names the capability the actor is missing.
type ForbiddenError struct {
	ActorID    int64
	Capability string
}

func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("close: user %d lacks %s", e.ActorID, e.Capability)
}

// Is matches ErrForbidden.
func (e *ForbiddenError) Is(target error) bool {
	return target == ErrForbidden
}
