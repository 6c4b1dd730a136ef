// Package errors provides smart error constructors that auto-attach suggestions.
package errors

import "fmt"

// -----------------------------------------------------------------------------
// Smart Constructors with Auto-Attached Suggestions
// -----------------------------------------------------------------------------

// Config creates a configuration error with auto-attached suggestions.
// Use for invalid layer ids, empty datasets, dimension mismatches and bad config files.
func Config(code, message string) *PalinorError {
	return AttachSuggestions(New(code, CategoryConfig, message))
}

// Configf creates a configuration error with a formatted message.
func Configf(code, format string, args ...interface{}) *PalinorError {
	return Config(code, fmt.Sprintf(format, args...))
}

// ConfigWrap wraps an error as a configuration error.
func ConfigWrap(cause error, code, message string) *PalinorError {
	return AttachSuggestions(Wrap(cause, code, CategoryConfig, message))
}

// Device creates a device (memory) error.
func Device(code, message string) *PalinorError {
	return AttachSuggestions(New(code, CategoryDevice, message))
}

// Devicef creates a device error with a formatted message.
func Devicef(code, format string, args ...interface{}) *PalinorError {
	return Device(code, fmt.Sprintf(format, args...))
}

// DeviceWrap wraps an error as a device error.
func DeviceWrap(cause error, code, message string) *PalinorError {
	return AttachSuggestions(Wrap(cause, code, CategoryDevice, message))
}

// Serialization creates a serialization error.
func Serialization(code, message string) *PalinorError {
	return AttachSuggestions(New(code, CategorySerialization, message))
}

// Serializationf creates a serialization error with a formatted message.
func Serializationf(code, format string, args ...interface{}) *PalinorError {
	return Serialization(code, fmt.Sprintf(format, args...))
}

// SerializationWrap wraps an error as a serialization error.
func SerializationWrap(cause error, code, message string) *PalinorError {
	return AttachSuggestions(Wrap(cause, code, CategorySerialization, message))
}

// State creates a lifecycle state error.
func State(code, message string) *PalinorError {
	return AttachSuggestions(New(code, CategoryState, message))
}

// Statef creates a state error with a formatted message.
func Statef(code, format string, args ...interface{}) *PalinorError {
	return State(code, fmt.Sprintf(format, args...))
}

// Validation creates a validation error.
func Validation(code, message string) *PalinorError {
	return AttachSuggestions(New(code, CategoryValidation, message))
}

// Validationf creates a validation error with a formatted message.
func Validationf(code, format string, args ...interface{}) *PalinorError {
	return Validation(code, fmt.Sprintf(format, args...))
}

// ValidationWrap wraps an error as a validation error.
func ValidationWrap(cause error, code, message string) *PalinorError {
	return AttachSuggestions(Wrap(cause, code, CategoryValidation, message))
}

// Command creates a shell/CLI command error.
func Command(code, message string) *PalinorError {
	return AttachSuggestions(New(code, CategoryCommand, message))
}

// Commandf creates a command error with a formatted message.
func Commandf(code, format string, args ...interface{}) *PalinorError {
	return Command(code, fmt.Sprintf(format, args...))
}

// IO creates a file/IO error.
func IO(code, message string) *PalinorError {
	return AttachSuggestions(New(code, CategoryIO, message))
}

// IOWrap wraps an error as an IO error.
func IOWrap(cause error, code, message string) *PalinorError {
	return AttachSuggestions(Wrap(cause, code, CategoryIO, message))
}

// InternalWrap wraps an error as an internal error.
func InternalWrap(cause error, code, message string) *PalinorError {
	return AttachSuggestions(Wrap(cause, code, CategoryInternal, message))
}
