// Package errors provides structured error handling for ospd.
// It defines error codes and the error types raised by the protocol layer,
// the scan registry and configuration loading, along with helpers to
// classify them.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeTimeout       ErrorCode = "TIMEOUT"
	CodeFatal         ErrorCode = "FATAL"

	// Protocol errors, surfaced to clients as error responses.
	CodeMalformedRequest ErrorCode = "MALFORMED_REQUEST"
	CodeUnknownCommand   ErrorCode = "UNKNOWN_COMMAND"
	CodeMissingAttribute ErrorCode = "MISSING_ATTRIBUTE"
	CodeMissingElement   ErrorCode = "MISSING_ELEMENT"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeConflict         ErrorCode = "CONFLICT"

	// Scan registry errors.
	CodeScanTerminal ErrorCode = "SCAN_TERMINAL"

	// Transport errors.
	CodeConnection ErrorCode = "CONNECTION"
	CodeHandshake  ErrorCode = "HANDSHAKE"
)

// OSP status codes used in response envelopes.
const (
	StatusOK         = 200
	StatusBadRequest = 400
	StatusNotFound   = 404
)

// DefaultCommand is the command name used for errors raised before a
// command could be identified.
const DefaultCommand = "osp"

// ProtocolError is an error that results in an error response to the client.
type ProtocolError struct {
	Code    ErrorCode
	Command string
	Status  int
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ProtocolError) Error() string {
	return fmt.Sprintf("[%s] %s (command: %s, status: %d)", e.Code, e.Message, e.Command, e.Status)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProtocolError) Unwrap() error {
	return e.Cause
}

// NewProtocolError creates a protocol error. An empty command falls back to
// the generic "osp" envelope and a zero status to 400.
func NewProtocolError(code ErrorCode, command string, status int, message string) *ProtocolError {
	if command == "" {
		command = DefaultCommand
	}
	if status == 0 {
		status = StatusBadRequest
	}
	return &ProtocolError{
		Code:    code,
		Command: command,
		Status:  status,
		Message: message,
	}
}

// WrapProtocolError wraps an existing error as a protocol error.
func WrapProtocolError(code ErrorCode, command string, status int, message string, err error) *ProtocolError {
	pe := NewProtocolError(code, command, status, message)
	pe.Cause = err
	return pe
}

// ScanError represents an error raised by scan registry or lifecycle operations.
type ScanError struct {
	Code   ErrorCode
	ScanID string
	Op     string
	Cause  error
}

// Error implements the error interface.
func (e *ScanError) Error() string {
	msg := fmt.Sprintf("[%s] %s failed", e.Code, e.Op)
	if e.ScanID != "" {
		msg = fmt.Sprintf("%s (scan: %s)", msg, e.ScanID)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ScanError) Unwrap() error {
	return e.Cause
}

// NewScanError creates a new scan error.
func NewScanError(code ErrorCode, op, scanID string) *ScanError {
	return &ScanError{
		Code:   code,
		ScanID: scanID,
		Op:     op,
	}
}

// WrapScanError wraps an existing error as a scan error.
func WrapScanError(code ErrorCode, op, scanID string, err error) *ScanError {
	return &ScanError{
		Code:   code,
		ScanID: scanID,
		Op:     op,
		Cause:  err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// ConnectionError is a transport failure on a client connection. The
// connection is dropped without a response.
type ConnectionError struct {
	Code   ErrorCode
	Op     string
	Remote string
	Cause  error
}

// Error implements the error interface.
func (e *ConnectionError) Error() string {
	msg := fmt.Sprintf("[%s] %s failed", e.Code, e.Op)
	if e.Remote != "" {
		msg = fmt.Sprintf("%s (remote: %s)", msg, e.Remote)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *ConnectionError) Unwrap() error {
	return e.Cause
}

// WrapConnectionError wraps a transport error of op on the connection from
// remote.
func WrapConnectionError(code ErrorCode, op, remote string, err error) *ConnectionError {
	return &ConnectionError{
		Code:   code,
		Op:     op,
		Remote: remote,
		Cause:  err,
	}
}

// Utility functions for common error operations

// GetCode extracts the error code from an error chain if it has one.
func GetCode(err error) ErrorCode {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe.Code
	}
	var se *ScanError
	if errors.As(err, &se) {
		return se.Code
	}
	var ce *ConfigError
	if errors.As(err, &ce) {
		return ce.Code
	}
	var conn *ConnectionError
	if errors.As(err, &conn) {
		return conn.Code
	}
	return CodeUnknown
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return err != nil && GetCode(err) == code
}

// IsFatal determines if an error indicates a condition that must abort the
// offending operation rather than be answered per request.
func IsFatal(err error) bool {
	switch GetCode(err) {
	case CodeFatal, CodeConfiguration:
		return true
	default:
		return false
	}
}

// AsProtocolError returns the protocol error in err's chain, if any.
func AsProtocolError(err error) (*ProtocolError, bool) {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// Common error creation functions

// ErrMalformedRequest creates the error for unparsable requests.
func ErrMalformedRequest(err error) *ProtocolError {
	return WrapProtocolError(CodeMalformedRequest, DefaultCommand, StatusBadRequest, "Invalid data", err)
}

// ErrUnknownCommand creates the error for root tags missing from the command table.
func ErrUnknownCommand(name string) *ProtocolError {
	pe := NewProtocolError(CodeUnknownCommand, DefaultCommand, StatusBadRequest, "Bogus command name")
	pe.Cause = fmt.Errorf("unknown command %q", name)
	return pe
}

// ErrMissingAttribute creates the error for a required attribute that is absent.
func ErrMissingAttribute(command, attribute string) *ProtocolError {
	return NewProtocolError(CodeMissingAttribute, command, StatusBadRequest,
		fmt.Sprintf("No %s attribute", attribute))
}

// ErrMissingElement creates the error for a required element that is absent.
func ErrMissingElement(command, element string) *ProtocolError {
	return NewProtocolError(CodeMissingElement, command, StatusBadRequest,
		fmt.Sprintf("No %s element", element))
}

// ErrScanNotFound creates the error for an unknown scan id.
func ErrScanNotFound(command, scanID string) *ProtocolError {
	return NewProtocolError(CodeNotFound, command, StatusNotFound,
		fmt.Sprintf("Failed to find scan '%s'", scanID))
}

// ErrScanInProgress creates the error for deleting a scan that is not terminal.
func ErrScanInProgress(command string) *ProtocolError {
	return NewProtocolError(CodeConflict, command, StatusBadRequest, "Scan in progress")
}

// ErrInvalidValue creates the error for an attribute carrying an unsupported value.
func ErrInvalidValue(command, message string) *ProtocolError {
	return NewProtocolError(CodeValidation, command, StatusBadRequest, message)
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
