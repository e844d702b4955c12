package errors

import (
	"fmt"
	"strings"
)

// ValidationErrors aggregates every validation violation found in a single
// pass. Validators collect into this instead of stopping at the first
// failure, so callers can present one complete report.
type ValidationErrors struct {
	Errors []*DomainError `json:"errors"`
}

// NewValidationErrors creates an empty validation errors collection
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]*DomainError, 0),
	}
}

// Add records a violation for a field path
func (v *ValidationErrors) Add(field string, message string) {
	err := NewDomainError(ErrorTypeValidation, "FIELD_VALIDATION_ERROR", message).
		WithDetail("field", field)
	v.Errors = append(v.Errors, err)
}

// Addf records a violation with a formatted message
func (v *ValidationErrors) Addf(field string, format string, args ...interface{}) {
	v.Add(field, fmt.Sprintf(format, args...))
}

// AddError appends a pre-built domain error
func (v *ValidationErrors) AddError(err *DomainError) {
	v.Errors = append(v.Errors, err)
}

// Merge appends all errors from another collection
func (v *ValidationErrors) Merge(other *ValidationErrors) {
	if other == nil {
		return
	}
	v.Errors = append(v.Errors, other.Errors...)
}

// HasErrors returns true if at least one violation was recorded
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Len returns the number of recorded violations
func (v *ValidationErrors) Len() int {
	return len(v.Errors)
}

// Error implements the error interface
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}

	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		if field, ok := err.Details["field"].(string); ok && field != "" {
			messages[i] = field + ": " + err.Message
		} else {
			messages[i] = err.Message
		}
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(messages, "; "))
}

// ToMap converts the collection to a field → messages map for serialization
func (v *ValidationErrors) ToMap() map[string][]string {
	result := make(map[string][]string)

	for _, err := range v.Errors {
		field, ok := err.Details["field"].(string)
		if !ok {
			field = "general"
		}
		result[field] = append(result[field], err.Message)
	}

	return result
}
