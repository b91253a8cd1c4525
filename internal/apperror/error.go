package apperror

import (
	"errors"
	"fmt"
	"time"
)

// AppError is the structured error carried across module boundaries.
type AppError struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Class     Class     `json:"class"`
	Context   string    `json:"context,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	cause     error
}

func (e *AppError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (code: %s, context: %s)", e.Code, e.Message, e.Code, e.Context)
	}
	return fmt.Sprintf("%s: %s (code: %s)", e.Code, e.Message, e.Code)
}

func (e *AppError) Unwrap() error {
	return e.cause
}

// Is matches any AppError with the same code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new AppError with the given code and options
func New(code Code, opts ...Option) *AppError {
	err := &AppError{
		Code:      code,
		Message:   messages[code],
		Class:     ClassOf(code),
		Timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(err)
	}

	if err.Message == "" {
		err.Message = string(code)
	}

	return err
}

// Option is a functional option for AppError
type Option func(*AppError)

// WithContext adds context information
func WithContext(context string) Option {
	return func(e *AppError) {
		e.Context = context
	}
}

// WithClass overrides the default classification
func WithClass(class Class) Option {
	return func(e *AppError) {
		e.Class = class
	}
}

// WithCause wraps an underlying error
func WithCause(cause error) Option {
	return func(e *AppError) {
		e.cause = cause
	}
}

// Wrap wraps a standard error into AppError
func Wrap(err error, code Code, context string) *AppError {
	if err == nil {
		return nil
	}

	// If it's already an AppError, return it
	var appErr *AppError
	if errors.As(err, &appErr) {
		if context != "" && appErr.Context == "" {
			appErr.Context = context
		}
		return appErr
	}

	return New(code, WithContext(context), WithCause(err))
}

// GetCode extracts the error code from an error
func GetCode(err error) Code {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeUnknownError
}

// HasCode reports whether any error in err's chain carries code.
func HasCode(err error, code Code) bool {
	return errors.Is(err, &AppError{Code: code})
}

// GetClass extracts the class from an error. Non-app errors are transient.
func GetClass(err error) Class {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Class
	}
	return ClassTransient
}

// IsPolicy reports whether err is a gating decision rather than a failure.
func IsPolicy(err error) bool {
	return err != nil && GetClass(err) == ClassPolicy
}

// IsRetryable reports whether the operation may be retried.
func IsRetryable(err error) bool {
	return err != nil && GetClass(err) == ClassTransient
}

// LogAttrs returns key/value pairs describing err for structured logging.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	return []any{"error", err.Error(), "code", string(GetCode(err)), "class", GetClass(err).String()}
}
