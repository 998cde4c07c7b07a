package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents different types of errors in the system
type ErrorType string

const (
	// ErrorTypeInvalidInput indicates a malformed or missing required field
	ErrorTypeInvalidInput ErrorType = "INVALID_INPUT"

	// ErrorTypeNotFound indicates a referenced record does not exist
	ErrorTypeNotFound ErrorType = "NOT_FOUND"

	// ErrorTypeContention indicates a transaction could not commit after bounded retries
	ErrorTypeContention ErrorType = "CONTENTION"

	// ErrorTypeForecastUnavailable indicates the demand predictor failed or returned malformed data
	ErrorTypeForecastUnavailable ErrorType = "FORECAST_UNAVAILABLE"

	// ErrorTypeNoCapacity indicates no bed matched after exhausting the fallback search
	ErrorTypeNoCapacity ErrorType = "NO_CAPACITY"

	// ErrorTypeTimeout indicates the caller's deadline expired before commit
	ErrorTypeTimeout ErrorType = "TIMEOUT"

	// ErrorTypeInternal indicates an internal server error
	ErrorTypeInternal ErrorType = "INTERNAL"

	// ErrorTypeExternal indicates an error from external service
	ErrorTypeExternal ErrorType = "EXTERNAL"
)

// AppError represents an application error
type AppError struct {
	Type    ErrorType
	Message string
	Err     error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements the unwrap interface
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewInvalidInputError creates a new invalid input error
func NewInvalidInputError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeInvalidInput,
		Message: message,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNotFound,
		Message: message,
	}
}

// NewContentionError creates a new contention error
func NewContentionError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeContention,
		Message: message,
		Err:     err,
	}
}

// NewForecastUnavailableError creates a new forecast unavailable error
func NewForecastUnavailableError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeForecastUnavailable,
		Message: message,
		Err:     err,
	}
}

// NewNoCapacityError creates a new no capacity error
func NewNoCapacityError(message string) *AppError {
	return &AppError{
		Type:    ErrorTypeNoCapacity,
		Message: message,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeTimeout,
		Message: message,
		Err:     err,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeInternal,
		Message: message,
		Err:     err,
	}
}

// NewExternalError creates a new external service error
func NewExternalError(message string, err error) *AppError {
	return &AppError{
		Type:    ErrorTypeExternal,
		Message: message,
		Err:     err,
	}
}

// TypeOf returns the type of the first AppError in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}

// IsType reports whether err carries an AppError of the given type
func IsType(err error, t ErrorType) bool {
	if err == nil {
		return false
	}
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Type == t
}

// IsNotFound reports whether err is a not found error
func IsNotFound(err error) bool {
	return IsType(err, ErrorTypeNotFound)
}

// IsInvalidInput reports whether err is an invalid input error
func IsInvalidInput(err error) bool {
	return IsType(err, ErrorTypeInvalidInput)
}

// IsContention reports whether err is a contention error
func IsContention(err error) bool {
	return IsType(err, ErrorTypeContention)
}

// IsNoCapacity reports whether err is a no capacity error
func IsNoCapacity(err error) bool {
	return IsType(err, ErrorTypeNoCapacity)
}

// IsForecastUnavailable reports whether err is a forecast unavailable error
func IsForecastUnavailable(err error) bool {
	return IsType(err, ErrorTypeForecastUnavailable)
}
