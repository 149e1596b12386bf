package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is a stable, client-visible error classification.
type ErrorKind string

const (
	KindClassificationUnavailable ErrorKind = "classification_unavailable"
	KindPipelineValidation        ErrorKind = "pipeline_validation_failed"
	KindNoAvailableSlot           ErrorKind = "no_available_slot"
	KindStore                     ErrorKind = "store_error"
	KindStreamFrame               ErrorKind = "stream_frame_error"
	KindNotFound                  ErrorKind = "not_found"
	KindInvalidInput              ErrorKind = "invalid_input"
	KindRateLimited               ErrorKind = "rate_limited"
	KindInternal                  ErrorKind = "internal"
)

// Error is a structured error carrying a stable kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so sentinels compare by kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrClassificationUnavailable = &Error{Kind: KindClassificationUnavailable, Message: "classification unavailable"}
	ErrNoAvailableSlot           = &Error{Kind: KindNoAvailableSlot, Message: "no available slot within the search horizon"}
	ErrNotFound                  = &Error{Kind: KindNotFound, Message: "not found"}
	ErrRateLimited               = &Error{Kind: KindRateLimited, Message: "rate limit exceeded"}
)

// PipelineError reports a generated plan that failed structural validation
// after the allowed regeneration.
type PipelineError struct {
	Violations []string
}

func (e *PipelineError) Error() string {
	return "couldn't build a valid plan: " + strings.Join(e.Violations, "; ")
}

// Is lets errors.Is(err, &Error{Kind: KindPipelineValidation}) match.
func (e *PipelineError) Is(target error) bool {
	var t *Error
	return errors.As(target, &t) && t.Kind == KindPipelineValidation
}

// StoreError wraps a persistence failure during commit.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// KindOf returns the stable kind for err, or KindInternal.
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return KindPipelineValidation
	}
	var se *StoreError
	if errors.As(err, &se) {
		return KindStore
	}
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// UserMessage returns a human-readable message for err's kind.
func UserMessage(err error) string {
	switch KindOf(err) {
	case KindPipelineValidation:
		return "I couldn't build a valid plan from that. Could you rephrase your goal?"
	case KindNoAvailableSlot:
		return "There is no free slot for that routine in the next week. Try another anchor or clear some time."
	case KindStore:
		return "Saving your plan failed. Your plan is still staged, so you can confirm again."
	case KindClassificationUnavailable:
		return "I'm having trouble understanding right now, please try again in a moment."
	case KindNotFound:
		return "That item could not be found."
	case KindRateLimited:
		return "You're sending messages too quickly. Please wait a moment and try again."
	default:
		return "Something went wrong while processing your request."
	}
}
