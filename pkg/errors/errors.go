package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of engine error
type ErrorType string

const (
	// ErrorTypeValidation indicates input validation failure
	ErrorTypeValidation ErrorType = "VALIDATION"

	// ErrorTypeMigration indicates a preset migration failure
	ErrorTypeMigration ErrorType = "MIGRATION"

	// ErrorTypeParse indicates malformed external input
	ErrorTypeParse ErrorType = "PARSE"

	// ErrorTypeRejection indicates a mutation rejected by the store
	ErrorTypeRejection ErrorType = "REJECTION"

	// ErrorTypeNotFound indicates a referenced entity was not found
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeConflict indicates a conflict with existing state
	ErrorTypeConflict ErrorType = "CONFLICT"
)

// DomainError represents an engine-specific error with rich context
type DomainError struct {
	Type    ErrorType              `json:"type"`
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
	Cause   error                  `json:"-"`
}

// NewDomainError creates a new domain error
func NewDomainError(errorType ErrorType, code string, message string) *DomainError {
	return &DomainError{
		Type:    errorType,
		Code:    code,
		Message: message,
		Details: make(map[string]interface{}),
	}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Type, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Type, e.Code, e.Message)
}

// WithCause adds a cause to the error
func (e *DomainError) WithCause(cause error) *DomainError {
	c := e.clone()
	c.Cause = cause
	return c
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	c := e.clone()
	c.Details[key] = value
	return c
}

// WithMessage replaces the error message, keeping type and code
func (e *DomainError) WithMessage(format string, args ...interface{}) *DomainError {
	c := e.clone()
	c.Message = fmt.Sprintf(format, args...)
	return c
}

// Is checks if the error matches a sentinel by type and code
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type && e.Code == t.Code
}

// Unwrap returns the underlying cause
func (e *DomainError) Unwrap() error {
	return e.Cause
}

// clone copies the error so sentinel values stay immutable when decorated
func (e *DomainError) clone() *DomainError {
	details := make(map[string]interface{}, len(e.Details))
	for k, v := range e.Details {
		details[k] = v
	}
	return &DomainError{
		Type:    e.Type,
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		Cause:   e.Cause,
	}
}

// Sentinel errors shared by the engine packages

var (
	// Migrator errors
	ErrUnsupportedVersion = NewDomainError(
		ErrorTypeMigration,
		"UNSUPPORTED_VERSION",
		"no migration path from the declared preset version",
	)

	// Parse errors
	ErrParse = NewDomainError(
		ErrorTypeParse,
		"PARSE_ERROR",
		"input could not be parsed",
	)

	// Store rejection errors
	ErrDanglingReference = NewDomainError(
		ErrorTypeRejection,
		"DANGLING_REFERENCE",
		"edge references a node that does not exist",
	)

	ErrMultiplicityViolation = NewDomainError(
		ErrorTypeRejection,
		"MULTIPLICITY_VIOLATION",
		"edge would exceed the relationship's declared multiplicity",
	)

	ErrUndeclaredType = NewDomainError(
		ErrorTypeRejection,
		"UNDECLARED_TYPE",
		"type is not declared in the active preset",
	)

	ErrEndpointTypeMismatch = NewDomainError(
		ErrorTypeRejection,
		"ENDPOINT_TYPE_MISMATCH",
		"edge endpoints do not satisfy the relationship's source/target constraints",
	)

	ErrDuplicateID = NewDomainError(
		ErrorTypeConflict,
		"DUPLICATE_ID",
		"an entity with this id already exists",
	)

	ErrNodeNotFound = NewDomainError(
		ErrorTypeNotFound,
		"NODE_NOT_FOUND",
		"the requested node does not exist",
	)

	ErrEdgeNotFound = NewDomainError(
		ErrorTypeNotFound,
		"EDGE_NOT_FOUND",
		"the requested edge does not exist",
	)

	ErrNothingToUndo = NewDomainError(
		ErrorTypeRejection,
		"NOTHING_TO_UNDO",
		"the undo stack is empty",
	)

	ErrNothingToRedo = NewDomainError(
		ErrorTypeRejection,
		"NOTHING_TO_REDO",
		"the redo stack is empty",
	)
)

// IsDomainError checks if an error is a DomainError
func IsDomainError(err error) bool {
	var de *DomainError
	return errors.As(err, &de)
}

// GetDomainError extracts a DomainError from an error chain
func GetDomainError(err error) *DomainError {
	var de *DomainError
	if errors.As(err, &de) {
		return de
	}
	return nil
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	de := GetDomainError(err)
	return de != nil && de.Type == errType
}

// IsRejection checks if an error is a store rejection
func IsRejection(err error) bool {
	return IsType(err, ErrorTypeRejection)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return IsType(err, ErrorTypeValidation)
}
