// Package shared contains common domain types, errors and events that are used
// across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")
	ErrConflict = errors.New("entity already exists")

	// Validation errors
	ErrValidation   = errors.New("validation error")
	ErrInvalidInput = errors.New("invalid input")
	ErrEmptyValue   = errors.New("value cannot be empty")

	// State errors
	ErrInvalidState = errors.New("invalid state")
	ErrNotEligible  = errors.New("not eligible")

	// Authorization errors
	ErrForbidden = errors.New("forbidden")

	// Collaborator errors
	ErrRenderFailure      = errors.New("document render failure")
	ErrStorageFailure     = errors.New("storage failure")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "exam", "certificate"
	Op      string // Operation that failed, e.g., "MarkUnit", "Submit"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Course catalog errors
var (
	ErrCourseNotFound  = NewDomainError("course", "Find", ErrNotFound, "course not found")
	ErrUnitNotInCourse = NewDomainError("course", "FindUnit", ErrNotFound, "unit does not belong to course")
	ErrExamNotFound    = NewDomainError("course", "FindExam", ErrNotFound, "course has no exam")
	ErrNotEnrolled     = NewDomainError("course", "CheckEnrollment", ErrNotEligible, "learner is not enrolled in course")
)

// Progress domain errors
var (
	ErrProgressNotFound = NewDomainError("progress", "Find", ErrNotFound, "progress record not found")
)

// Exam domain errors
var (
	ErrAttemptNotFound      = NewDomainError("exam", "FindAttempt", ErrNotFound, "attempt not found")
	ErrQuestionNotFound     = NewDomainError("exam", "FindQuestion", ErrNotFound, "question not found")
	ErrAttemptNotInProgress = NewDomainError("exam", "CheckStatus", ErrInvalidState, "attempt is not in progress")
	ErrAttemptNotOwned      = NewDomainError("exam", "CheckOwner", ErrForbidden, "attempt belongs to another learner")
	ErrInvalidAnswer        = NewDomainError("exam", "ValidateAnswer", ErrValidation, "answer does not fit question")
	ErrInvalidDefinition    = NewDomainError("exam", "ValidateDefinition", ErrValidation, "invalid exam definition")
	ErrUnknownQuestionKind  = NewDomainError("exam", "DecodeQuestion", ErrValidation, "unknown question kind")
)

// Certificate domain errors
var (
	ErrCertificateNotFound = NewDomainError("certificate", "Find", ErrNotFound, "certificate not found")
	ErrRenderFailed        = NewDomainError("certificate", "Render", ErrRenderFailure, "document renderer failed")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the error is a uniqueness conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue)
}

// IsInvalidState checks if the error is a state machine violation.
func IsInvalidState(err error) bool {
	return errors.Is(err, ErrInvalidState)
}

// IsForbidden checks if the error is an ownership violation.
func IsForbidden(err error) bool {
	return errors.Is(err, ErrForbidden)
}

// IsNotEligible checks if the learner may not perform the operation yet.
func IsNotEligible(err error) bool {
	return errors.Is(err, ErrNotEligible)
}

// IsRenderFailure checks if the document renderer failed.
func IsRenderFailure(err error) bool {
	return errors.Is(err, ErrRenderFailure)
}

// IsStorageFailure checks if the persistence layer failed.
func IsStorageFailure(err error) bool {
	return errors.Is(err, ErrStorageFailure)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrStorageFailure)
}
