package errors

import (
	"fmt"
	"time"
)

// ErrorType classifies a connection-layer error
type ErrorType string

const (
	// ErrorTypeFatal covers everything that is not a recognized failover
	// condition: syntax errors, constraint violations, permission errors.
	ErrorTypeFatal ErrorType = "fatal"
	// ErrorTypeReadOnlyFailover marks writes rejected because the endpoint
	// currently points at a read-only replica.
	ErrorTypeReadOnlyFailover ErrorType = "read_only_failover"
	// ErrorTypeConnectionLost marks a dropped or unreachable connection.
	ErrorTypeConnectionLost ErrorType = "connection_lost"
	// ErrorTypeStillReadOnly is internal to the reconnection protocol: the
	// replacement connection came up but the endpoint has not been promoted
	// to writable yet. It never reaches callers.
	ErrorTypeStillReadOnly ErrorType = "still_read_only"
	// ErrorTypeConfig marks invalid client or adapter configuration.
	ErrorTypeConfig ErrorType = "config"
	// ErrorTypeConnect marks a failed attempt to establish a connection.
	ErrorTypeConnect ErrorType = "connect"
)

// ConnError represents a connection-layer error with context
type ConnError struct {
	Type         ErrorType         `json:"type"`
	Code         string            `json:"code"`
	Message      string            `json:"message"`
	Details      map[string]string `json:"details,omitempty"`
	ConnectionID string            `json:"connection_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
	Cause        error             `json:"-"`
}

// Error implements the error interface
func (e *ConnError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *ConnError) Unwrap() error {
	return e.Cause
}

// NewConnError creates a new connection-layer error
func NewConnError(errorType ErrorType, code, message string) *ConnError {
	return &ConnError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *ConnError) WithCause(cause error) *ConnError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *ConnError) WithDetail(key, value string) *ConnError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithConnectionID tags the error with the handle it originated from
func (e *ConnError) WithConnectionID(id string) *ConnError {
	e.ConnectionID = id
	return e
}

// Common error constructors
func NewFatalError(message string) *ConnError {
	return NewConnError(ErrorTypeFatal, "FATAL_ERROR", message)
}

func NewReadOnlyFailoverError(message string) *ConnError {
	return NewConnError(ErrorTypeReadOnlyFailover, "READ_ONLY_FAILOVER", message)
}

func NewConnectionLostError(message string) *ConnError {
	return NewConnError(ErrorTypeConnectionLost, "CONNECTION_LOST", message)
}

func NewStillReadOnlyError(value string) *ConnError {
	return NewConnError(ErrorTypeStillReadOnly, "STILL_READ_ONLY",
		fmt.Sprintf("endpoint still reports read-only status %q", value))
}

func NewConfigError(message string) *ConnError {
	return NewConnError(ErrorTypeConfig, "CONFIG_ERROR", message)
}

func NewConnectError(driver, message string) *ConnError {
	return NewConnError(ErrorTypeConnect, "CONNECT_FAILED", message).
		WithDetail("driver", driver)
}

func NewVerificationError(message string) *ConnError {
	return NewConnError(ErrorTypeConnectionLost, "VERIFICATION_FAILED", message)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	if connErr, ok := err.(*ConnError); ok {
		return connErr.Type == errorType
	}
	return false
}

// IsTransient reports whether the error denotes a recoverable failover
// condition rather than a permanent failure.
func IsTransient(err error) bool {
	if connErr, ok := err.(*ConnError); ok {
		switch connErr.Type {
		case ErrorTypeReadOnlyFailover, ErrorTypeConnectionLost, ErrorTypeStillReadOnly:
			return true
		}
	}
	return false
}

// GetCode returns the error code if it's a ConnError
func GetCode(err error) string {
	if connErr, ok := err.(*ConnError); ok {
		return connErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's a ConnError
func GetType(err error) ErrorType {
	if connErr, ok := err.(*ConnError); ok {
		return connErr.Type
	}
	return ErrorTypeFatal
}
