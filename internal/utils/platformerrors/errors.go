package platformerrors

import (
	"errors"
	"fmt"
)

// ErrorType represents the category of error
type ErrorType string

const (
	ErrorTypeConnectionUnavailable ErrorType = "CONNECTION_UNAVAILABLE"
	ErrorTypeStoreUnavailable      ErrorType = "STORE_UNAVAILABLE"
	ErrorTypeUpload                ErrorType = "UPLOAD_ERROR"
	ErrorTypeFileTooLarge          ErrorType = "FILE_TOO_LARGE"
	ErrorTypeDeliveryTimeout       ErrorType = "DELIVERY_TIMEOUT"
	ErrorTypeValidation            ErrorType = "VALIDATION"
	ErrorTypeNotFound              ErrorType = "NOT_FOUND"
	ErrorTypeInternal              ErrorType = "INTERNAL"
)

// Layer represents the component where the error occurred
type Layer string

const (
	LayerDomain   Layer = "domain"
	LayerChannel  Layer = "channel"
	LayerGateway  Layer = "gateway"
	LayerUploader Layer = "uploader"
	LayerCache    Layer = "cache"
)

// Sentinels for errors.Is matching. Any PlatformError of the same type matches.
var (
	ErrConnectionUnavailable = &PlatformError{Type: ErrorTypeConnectionUnavailable, Message: "realtime channel not connected"}
	ErrStoreUnavailable      = &PlatformError{Type: ErrorTypeStoreUnavailable, Message: "conversation store unavailable"}
	ErrUpload                = &PlatformError{Type: ErrorTypeUpload, Message: "attachment upload failed"}
	ErrFileTooLarge          = &PlatformError{Type: ErrorTypeFileTooLarge, Message: "attachment exceeds size limit"}
	ErrDeliveryTimeout       = &PlatformError{Type: ErrorTypeDeliveryTimeout, Message: "delivery acknowledgment timed out"}
	ErrValidation            = &PlatformError{Type: ErrorTypeValidation, Message: "invalid input"}
	ErrNotFound              = &PlatformError{Type: ErrorTypeNotFound, Message: "not found"}
)

// PlatformError represents an error with context and metadata
type PlatformError struct {
	Type    ErrorType
	Layer   Layer
	Message string
	Err     error
	Context map[string]any
}

// Error implements the error interface
func (e *PlatformError) Error() string {
	prefix := string(e.Type)
	if e.Layer != "" {
		prefix = fmt.Sprintf("%s][%s", e.Layer, e.Type)
	}
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", prefix, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", prefix, e.Message)
}

// Unwrap returns the underlying error
func (e *PlatformError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a PlatformError of the same type.
func (e *PlatformError) Is(target error) bool {
	var other *PlatformError
	if !errors.As(target, &other) {
		return false
	}
	return other.Type == e.Type
}

// NewError creates a new PlatformError.
func NewError(layer Layer, errorType ErrorType, message string, err error) *PlatformError {
	return &PlatformError{
		Type:    errorType,
		Layer:   layer,
		Message: message,
		Err:     err,
	}
}

// WithContext attaches a key/value pair and returns the same error.
func (e *PlatformError) WithContext(key string, value any) *PlatformError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// TypeOf returns the ErrorType carried by err, or ErrorTypeInternal.
func TypeOf(err error) ErrorType {
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Type
	}
	return ErrorTypeInternal
}

// IsPlatformError reports whether err wraps a PlatformError.
func IsPlatformError(err error) bool {
	var platformErr *PlatformError
	return errors.As(err, &platformErr)
}
