package domain

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the task store. Each rejected operation leaves the store usable.
var (
	// ErrValidation is wrapped by *ValidationError when creation preconditions are unmet.
	ErrValidation = errors.New("validation failed")

	// ErrNotSelected is returned when processing is requested without a selected task.
	ErrNotSelected = errors.New("no task selected")

	// ErrNotFound is returned when the selected id does not resolve to a task.
	ErrNotFound = errors.New("task not found")

	// ErrAlreadyProcessing is returned when a second run is started while one is in flight.
	ErrAlreadyProcessing = errors.New("a task is already processing")

	// ErrInvalidTransition is returned for lifecycle moves the state machine forbids.
	ErrInvalidTransition = errors.New("invalid task status transition")

	// ErrConflict is returned by a conditional write when another session changed the
	// stored collection since it was read.
	ErrConflict = errors.New("stored collection changed concurrently")
)

// Requirement names the creation precondition a ValidationError reports.
type Requirement string

const (
	RequireBulk  Requirement = "bulk"
	RequireFresh Requirement = "fresh"
)

// ValidationError reports a missing creation requirement.
type ValidationError struct {
	Requirement Requirement
	Msg         string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return fmt.Sprintf("%s: %s files missing", ErrValidation.Error(), e.Requirement)
	}
	return e.Msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MissingBulk is the error for an empty bulk selection.
func MissingBulk() error {
	return &ValidationError{Requirement: RequireBulk, Msg: "Please upload at least one bulk PDF file."}
}

// MissingFresh is the error for an absent fresh file.
func MissingFresh() error {
	return &ValidationError{Requirement: RequireFresh, Msg: "Please upload a fresh PDF file."}
}

// EnsureTransition checks a lifecycle move. created -> processing -> completed is the
// only path; nothing moves backward or skips processing.
func EnsureTransition(from, to TaskStatus) error {
	switch from {
	case TaskCreated:
		if to == TaskProcessing {
			return nil
		}
	case TaskProcessing:
		if to == TaskCompleted {
			return nil
		}
	}
	return fmt.Errorf("%w %s -> %s", ErrInvalidTransition, from, to)
}

// RejectionError carries a user-facing message for a rejected operation. Kind is one
// of the sentinel errors above.
type RejectionError struct {
	Kind error
	Msg  string
}

func (e *RejectionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return e.Msg
}

func (e *RejectionError) Unwrap() error { return e.Kind }

// Reject builds a RejectionError of kind with a formatted message.
func Reject(kind error, format string, args ...any) error {
	return &RejectionError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
