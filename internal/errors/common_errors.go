package errors

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrTypeIngestion  ErrorType = "INGESTION"
	ErrTypeConversion ErrorType = "CONVERSION"
	ErrTypeIO         ErrorType = "IO"
	ErrTypeValidation ErrorType = "VALIDATION"
	ErrTypeNotFound   ErrorType = "NOT_FOUND"
	ErrTypeConfig     ErrorType = "CONFIG"
)

// Reason narrows an ErrorType down to a specific failure
type Reason string

const (
	// Ingestion
	ReasonEncodingUnresolved Reason = "EncodingUnresolved"
	ReasonMissingColumn      Reason = "MissingColumn"
	ReasonFileNotFound       Reason = "FileNotFound"
	ReasonMalformedRow       Reason = "MalformedRow"

	// Conversion
	ReasonNoData            Reason = "NoData"
	ReasonNumericDegeneracy Reason = "NumericDegeneracy"

	// IO
	ReasonWriteFailed Reason = "WriteFailed"
)

// AppError represents an application-specific error
type AppError struct {
	Type    ErrorType
	Reason  Reason
	Message string
	Cause   error
	Context map[string]interface{}
	Hints   []string
}

// Error implements the error interface
func (e *AppError) Error() string {
	prefix := string(e.Type)
	if e.Reason != "" {
		prefix = fmt.Sprintf("%s/%s", e.Type, e.Reason)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap allows errors.Is and errors.As to work with AppError
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches another AppError by type and, when the target sets one, reason
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	if t.Type != e.Type {
		return false
	}
	return t.Reason == "" || t.Reason == e.Reason
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithHint appends a remediation hint shown to the user
func (e *AppError) WithHint(hint string) *AppError {
	e.Hints = append(e.Hints, hint)
	return e
}

// Diagnostic renders the error for a human reader, naming the probable
// cause and the remediation hints.
func (e *AppError) Diagnostic() string {
	var b strings.Builder
	switch e.Reason {
	case ReasonEncodingUnresolved:
		b.WriteString("Encoding problem: the file could not be decoded with any supported text encoding.")
	case ReasonMissingColumn:
		b.WriteString("Column problem: the file decoded but required columns are missing.")
	case ReasonMalformedRow:
		b.WriteString("Data problem: the file decoded but contains rows that are not valid numeric samples.")
	case ReasonFileNotFound:
		b.WriteString("File problem: the input file does not exist.")
	case ReasonNoData:
		b.WriteString("Nothing to process: load and convert a file first.")
	case ReasonNumericDegeneracy:
		b.WriteString("Degenerate input: some samples produce non-finite Stokes values.")
	case ReasonWriteFailed:
		b.WriteString("Write problem: the output file could not be written.")
	default:
		b.WriteString(e.Message)
	}
	if e.Reason != "" {
		b.WriteString("\n")
		b.WriteString(e.Message)
		if e.Cause != nil {
			b.WriteString(": ")
			b.WriteString(e.Cause.Error())
		}
	}
	for _, h := range e.Hints {
		b.WriteString("\n  - ")
		b.WriteString(h)
	}
	return b.String()
}

// NewAppError creates a new application error
func NewAppError(errType ErrorType, message string, cause error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

func newReasonError(errType ErrorType, reason Reason, message string, cause error) *AppError {
	e := NewAppError(errType, message, cause)
	e.Reason = reason
	return e
}

// Sentinels for errors.Is matching on type and reason
var (
	ErrIngestion          = &AppError{Type: ErrTypeIngestion}
	ErrEncodingUnresolved = &AppError{Type: ErrTypeIngestion, Reason: ReasonEncodingUnresolved}
	ErrMissingColumn      = &AppError{Type: ErrTypeIngestion, Reason: ReasonMissingColumn}
	ErrFileNotFound       = &AppError{Type: ErrTypeIngestion, Reason: ReasonFileNotFound}
	ErrMalformedRow       = &AppError{Type: ErrTypeIngestion, Reason: ReasonMalformedRow}

	ErrConversion        = &AppError{Type: ErrTypeConversion}
	ErrNoData            = &AppError{Type: ErrTypeConversion, Reason: ReasonNoData}
	ErrNumericDegeneracy = &AppError{Type: ErrTypeConversion, Reason: ReasonNumericDegeneracy}

	ErrWriteFailed = &AppError{Type: ErrTypeIO, Reason: ReasonWriteFailed}
)

// Helper functions for common error types

// NewIngestionError creates an ingestion error with the given reason
func NewIngestionError(reason Reason, message string, cause error) *AppError {
	return newReasonError(ErrTypeIngestion, reason, message, cause)
}

// NewConversionError creates a conversion error with the given reason
func NewConversionError(reason Reason, message string, cause error) *AppError {
	return newReasonError(ErrTypeConversion, reason, message, cause)
}

// NewIOError creates an I/O error with the given reason
func NewIOError(reason Reason, message string, cause error) *AppError {
	return newReasonError(ErrTypeIO, reason, message, cause)
}

// NewAppValidationError creates a validation error for AppError type
func NewAppValidationError(message string) *AppError {
	return NewAppError(ErrTypeValidation, message, nil)
}

// NewNotFoundError creates a not found error
func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrTypeNotFound, fmt.Sprintf("%s not found", resource), nil)
}

// NewConfigError creates a configuration error
func NewConfigError(message string, cause error) *AppError {
	return NewAppError(ErrTypeConfig, message, cause)
}

// ReasonOf returns the reason of the first AppError in err's chain
func ReasonOf(err error) Reason {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Reason
	}
	return ""
}

// Diagnose returns a human-readable message for any error
func Diagnose(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Diagnostic()
	}
	return err.Error()
}
