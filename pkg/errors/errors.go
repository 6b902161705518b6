// Package errors provides the typed error taxonomy used across Loom.
package errors

import (
	"encoding/json"
	"fmt"
)

// Code classifies Loom errors for retry decisions and front-end mapping.
type Code string

const (
	// CodeInternal indicates an unclassified internal failure.
	CodeInternal Code = "INTERNAL"

	// CodeNotFound indicates a missing Context key, cache entry or stored node.
	CodeNotFound Code = "NOT_FOUND"

	// CodeMissingInput indicates a required op parameter was absent from the Context.
	CodeMissingInput Code = "MISSING_INPUT"

	// CodeInvalidArguments indicates malformed structured tool-call arguments.
	CodeInvalidArguments Code = "INVALID_ARGUMENTS"

	// CodeBackendFailure indicates an LLM, embedding or vector-store call
	// exhausted its retries.
	CodeBackendFailure Code = "BACKEND_FAILURE"

	// CodeCompactionFailure indicates the compact stage could not offload a message.
	CodeCompactionFailure Code = "COMPACTION_FAILURE"

	// CodeCompressionFailure indicates the compress stage could not produce a summary.
	CodeCompressionFailure Code = "COMPRESSION_FAILURE"

	// CodeConfiguration indicates a construction-time misuse: mixing execution
	// modes in one graph, calling a flow in the wrong mode, or touching a
	// disabled cache.
	CodeConfiguration Code = "CONFIGURATION_ERROR"
)

// LoomError is a typed error carrying structured context. It implements the
// error interface and unwraps to its cause.
type LoomError struct {
	Code        Code
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
}

// Error implements the error interface.
func (e *LoomError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause for errors.Is / errors.As traversal.
func (e *LoomError) Unwrap() error { return e.Err }

// MarshalJSON renders the error for structured responses and logs.
func (e *LoomError) MarshalJSON() ([]byte, error) {
	out := struct {
		Code        string         `json:"code"`
		Message     string         `json:"message"`
		Cause       string         `json:"cause,omitempty"`
		Context     map[string]any `json:"context,omitempty"`
		Recoverable bool           `json:"recoverable"`
	}{
		Code:        string(e.Code),
		Message:     e.Message,
		Context:     e.Context,
		Recoverable: e.Recoverable,
	}
	if e.Err != nil {
		out.Cause = e.Err.Error()
	}
	return json.Marshal(out)
}

// New creates a LoomError with the given code, message and cause (may be nil).
func New(code Code, msg string, cause error) *LoomError {
	return &LoomError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Recoverable: recoverableByDefault(code),
	}
}

// Newf creates a LoomError with a formatted message and no cause.
func Newf(code Code, format string, args ...any) *LoomError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithContext attaches a key/value pair to the error for diagnostics.
func (e *LoomError) WithContext(key string, value any) *LoomError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides the default retry classification.
func (e *LoomError) WithRecoverable(recoverable bool) *LoomError {
	e.Recoverable = recoverable
	return e
}

// CodeOf returns the code of err if it is (or wraps) a LoomError,
// CodeInternal otherwise.
func CodeOf(err error) Code {
	if le := AsLoomError(err); le != nil {
		return le.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	le, ok := err.(*LoomError)
	if !ok {
		return false
	}
	return le.Code == code
}

// AsLoomError converts err into a *LoomError, wrapping unknown errors as
// internal. Returns nil for a nil error.
func AsLoomError(err error) *LoomError {
	if err == nil {
		return nil
	}
	if le, ok := err.(*LoomError); ok {
		return le
	}
	return New(CodeInternal, "wrapped error", err)
}

// HTTPStatus maps the error code to an HTTP status for front-ends.
func (e *LoomError) HTTPStatus() int {
	switch e.Code {
	case CodeNotFound:
		return 404
	case CodeMissingInput, CodeInvalidArguments, CodeConfiguration:
		return 400
	case CodeBackendFailure:
		return 502
	default:
		return 500
	}
}

// recoverableByDefault marks only transient classes as retryable.
func recoverableByDefault(code Code) bool {
	switch code {
	case CodeBackendFailure, CodeInternal:
		return true
	default:
		return false
	}
}
