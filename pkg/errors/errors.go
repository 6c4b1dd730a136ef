// Package errors provides structured error types for palinor.
// Errors include a stable code, a category, context, causes, and actionable suggestions.
package errors

import (
	"fmt"
	"sort"
	"strings"
)

// Category classifies errors for consistent handling and display.
type Category string

const (
	CategoryConfig        Category = "config"        // Invalid configuration, layer ids, datasets, dimensions
	CategoryDevice        Category = "device"        // Out-of-memory during capture or generation
	CategorySerialization Category = "serialization" // Corrupt or version-incompatible persisted vectors
	CategoryState         Category = "state"         // Operation not valid in the current lifecycle state
	CategoryValidation    Category = "validation"    // Input validation errors
	CategoryCommand       Category = "command"       // Shell and CLI command errors
	CategoryIO            Category = "io"            // File/IO and storage errors
	CategoryInternal      Category = "internal"      // Internal/unexpected errors
)

// PalinorError is a structured error with context and suggestions.
// It implements the error interface and supports error wrapping.
type PalinorError struct {
	// Code is a unique identifier for this error type (e.g., "LAYER_INVALID")
	Code string

	// Category classifies this error for consistent handling
	Category Category

	// Message is the primary error message describing what went wrong
	Message string

	// Context provides additional key-value details about the error
	Context map[string]string

	// Cause is the underlying error that triggered this error
	Cause error

	// Suggestions are actionable remediation steps for the user
	Suggestions []string
}

// Error implements the error interface.
func (e *PalinorError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain inspection.
func (e *PalinorError) Unwrap() error {
	return e.Cause
}

// Is reports whether e matches target for errors.Is() checks.
// Two PalinorErrors match if they have the same Code.
func (e *PalinorError) Is(target error) bool {
	if t, ok := target.(*PalinorError); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a new PalinorError with the given code, category, and message.
func New(code string, category Category, message string) *PalinorError {
	return &PalinorError{
		Code:     code,
		Category: category,
		Message:  message,
		Context:  make(map[string]string),
	}
}

// Wrap wraps an existing error with a PalinorError.
func Wrap(err error, code string, category Category, message string) *PalinorError {
	return New(code, category, message).WithCause(err)
}

// WithContext adds a context key-value pair and returns the error for chaining.
func (e *PalinorError) WithContext(key, value string) *PalinorError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// WithCause wraps an underlying error and returns the error for chaining.
func (e *PalinorError) WithCause(cause error) *PalinorError {
	e.Cause = cause
	return e
}

// WithSuggestion adds a remediation suggestion and returns the error for chaining.
func (e *PalinorError) WithSuggestion(suggestion string) *PalinorError {
	e.Suggestions = append(e.Suggestions, suggestion)
	return e
}

// HasContext returns true if the error has context information.
func (e *PalinorError) HasContext() bool {
	return len(e.Context) > 0
}

// HasSuggestions returns true if the error has suggestions.
func (e *PalinorError) HasSuggestions() bool {
	return len(e.Suggestions) > 0
}

// ContextString returns the context entries as sorted key="value" pairs.
func (e *PalinorError) ContextString() string {
	if len(e.Context) == 0 {
		return ""
	}
	keys := make([]string, 0, len(e.Context))
	for k := range e.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%q", k, e.Context[k]))
	}
	return strings.Join(parts, ", ")
}

// AsPalinorError finds the first PalinorError in err's chain.
func AsPalinorError(err error) (*PalinorError, bool) {
	for err != nil {
		if pe, ok := err.(*PalinorError); ok {
			return pe, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return nil, false
		}
		err = u.Unwrap()
	}
	return nil, false
}

// IsCategory checks if an error is a PalinorError with the given category.
func IsCategory(err error, category Category) bool {
	if pe, ok := AsPalinorError(err); ok {
		return pe.Category == category
	}
	return false
}

// IsCode checks if an error chain contains a PalinorError with the given code.
func IsCode(err error, code string) bool {
	for err != nil {
		pe, ok := AsPalinorError(err)
		if !ok {
			return false
		}
		if pe.Code == code {
			return true
		}
		err = pe.Cause
	}
	return false
}
