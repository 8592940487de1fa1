package models

import (
	"errors"
	"fmt"
)

// Error codes carried by AppError. They map one-to-one onto result tags.
const (
	CodeBadRequest    = "BAD_REQUEST"
	CodeInternalError = "INTERNAL_ERROR"
)

// AppError represents a custom application error
type AppError struct {
	Code    string
	Message string
	Err     error
	// Data is an optional payload returned alongside the message.
	Data interface{}
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

// WithData attaches a response payload to the error.
func (e *AppError) WithData(data interface{}) *AppError {
	e.Data = data
	return e
}

// NewBadRequestError reports a caller mistake; message is shown verbatim.
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    CodeBadRequest,
		Message: message,
	}
}

// NewBadRequestErrorf is NewBadRequestError with formatting.
func NewBadRequestErrorf(format string, args ...any) *AppError {
	return NewBadRequestError(fmt.Sprintf(format, args...))
}

// NewInternalError wraps err behind a caller-visible message.
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    CodeInternalError,
		Message: message,
		Err:     err,
	}
}

// AsAppError extracts an AppError from err. Anything else is reported as an
// internal error with a generic message.
func AsAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error", err)
}
