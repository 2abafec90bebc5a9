package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Common sentinel errors
var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrNotFound          = errors.New("not found")
	ErrAlreadyExists     = errors.New("already exists")
	ErrInternal          = errors.New("internal error")
	ErrUnsupportedFormat = errors.New("unsupported format")
	ErrExtraction        = errors.New("extraction failed")
	ErrProvider          = errors.New("provider error")
	ErrMalformedOutput   = errors.New("malformed model output")
	ErrNotReady          = errors.New("not ready")
	ErrUnavailable       = errors.New("temporarily unavailable")
)

// AppError represents an application-specific error with an HTTP status code.
type AppError struct {
	Code    int
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError.
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Validation wraps ErrInvalidInput with a caller-facing message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Provider wraps a language-model failure so callers can match ErrProvider.
func Provider(err error) error {
	if err == nil || errors.Is(err, ErrProvider) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrProvider, err)
}

// Is and As are re-exported so callers need a single errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target any) bool { return errors.As(err, target) }

// MapError maps a common error to an AppError with an appropriate HTTP status code.
func MapError(err error) *AppError {
	if err == nil {
		return nil
	}

	// Check for existing AppError
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	// Map sentinel errors
	if errors.Is(err, ErrInvalidInput) {
		return NewAppError(http.StatusBadRequest, "Invalid request", err)
	}
	if errors.Is(err, ErrNotFound) {
		return NewAppError(http.StatusNotFound, "Resource not found", err)
	}
	if errors.Is(err, ErrNotReady) {
		return NewAppError(http.StatusNotFound, "Results not found or still processing", err)
	}
	if errors.Is(err, ErrAlreadyExists) {
		return NewAppError(http.StatusConflict, "Resource already exists", err)
	}
	if errors.Is(err, ErrUnsupportedFormat) {
		return NewAppError(http.StatusUnprocessableEntity, "Unsupported document format", err)
	}
	if errors.Is(err, ErrUnavailable) {
		return NewAppError(http.StatusServiceUnavailable, "Server busy, please try again later", err)
	}
	if errors.Is(err, ErrProvider) {
		return NewAppError(http.StatusBadGateway, "Language model unavailable", err)
	}

	// Default to internal server error
	return NewAppError(http.StatusInternalServerError, "Internal server error", err)
}
