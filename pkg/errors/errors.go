// Package errors defines the error taxonomy shared by the pairing, registry
// and bridge layers, so that HTTP handlers can map failures to status codes
// without inspecting error strings.
package errors

import (
	"fmt"
)

// Error types
const (
	// ErrInvalidArgument is returned when an invalid argument is provided
	ErrInvalidArgument = "invalid_argument"

	// ErrCodeInvalidOrExpired is returned when a pairing code does not exist,
	// already expired, or was already redeemed
	ErrCodeInvalidOrExpired = "pairing_code_invalid_or_expired"

	// ErrRateLimited is returned when a caller exceeded the pairing failure budget
	ErrRateLimited = "pairing_rate_limited"

	// ErrDeviceNotConnected is returned when the target device has no live connection
	ErrDeviceNotConnected = "device_not_connected"

	// ErrRequestTimeout is returned when a bridged call did not complete in time
	ErrRequestTimeout = "request_timeout"

	// ErrDeviceDisconnected is returned when the device connection dropped
	// while a bridged call was in flight
	ErrDeviceDisconnected = "device_disconnected"

	// ErrRemote is returned when the device answered a bridged call with a
	// JSON-RPC error object
	ErrRemote = "remote_error"

	// ErrProtocol is returned when the device sent a malformed or
	// uncorrelatable frame
	ErrProtocol = "protocol_error"

	// ErrInternal is returned when there is an internal error
	ErrInternal = "internal"
)

// Error represents an error in the application
type Error struct {
	// Type is the error type
	Type string

	// Message is the error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new error
func NewError(errorType, message string, cause error) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
		Cause:   cause,
	}
}

// NewInvalidArgumentError creates a new invalid argument error
func NewInvalidArgumentError(message string, cause error) *Error {
	return NewError(ErrInvalidArgument, message, cause)
}

// NewCodeInvalidOrExpiredError creates a new pairing code invalid or expired error
func NewCodeInvalidOrExpiredError(message string, cause error) *Error {
	return NewError(ErrCodeInvalidOrExpired, message, cause)
}

// NewRateLimitedError creates a new pairing rate limited error
func NewRateLimitedError(message string, cause error) *Error {
	return NewError(ErrRateLimited, message, cause)
}

// NewDeviceNotConnectedError creates a new device not connected error
func NewDeviceNotConnectedError(message string, cause error) *Error {
	return NewError(ErrDeviceNotConnected, message, cause)
}

// NewRequestTimeoutError creates a new request timeout error
func NewRequestTimeoutError(message string, cause error) *Error {
	return NewError(ErrRequestTimeout, message, cause)
}

// NewDeviceDisconnectedError creates a new device disconnected error
func NewDeviceDisconnectedError(message string, cause error) *Error {
	return NewError(ErrDeviceDisconnected, message, cause)
}

// NewRemoteError creates a new remote error
func NewRemoteError(message string, cause error) *Error {
	return NewError(ErrRemote, message, cause)
}

// NewProtocolError creates a new protocol error
func NewProtocolError(message string, cause error) *Error {
	return NewError(ErrProtocol, message, cause)
}

// NewInternalError creates a new internal error
func NewInternalError(message string, cause error) *Error {
	return NewError(ErrInternal, message, cause)
}

// IsInvalidArgument checks if the error is an invalid argument error
func IsInvalidArgument(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrInvalidArgument
}

// IsCodeInvalidOrExpired checks if the error is a pairing code invalid or expired error
func IsCodeInvalidOrExpired(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrCodeInvalidOrExpired
}

// IsRateLimited checks if the error is a pairing rate limited error
func IsRateLimited(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrRateLimited
}

// IsDeviceNotConnected checks if the error is a device not connected error
func IsDeviceNotConnected(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrDeviceNotConnected
}

// IsRequestTimeout checks if the error is a request timeout error
func IsRequestTimeout(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrRequestTimeout
}

// IsDeviceDisconnected checks if the error is a device disconnected error
func IsDeviceDisconnected(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrDeviceDisconnected
}

// IsRemote checks if the error is a remote error
func IsRemote(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrRemote
}

// IsProtocol checks if the error is a protocol error
func IsProtocol(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrProtocol
}

// IsInternal checks if the error is an internal error
func IsInternal(err error) bool {
	e, ok := err.(*Error)
	return ok && e.Type == ErrInternal
}
