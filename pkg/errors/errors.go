// SPDX-License-Identifier: Apache-2.0
// Package errors provides typed error handling for the Kirox memory core.
// Every failure the pipeline can surface is classified by an ErrorCode so
// callers (and transports built on top) can decide between retrying,
// backing off, or reporting a bug.
package errors

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrorCode classifies memory-core errors for monitoring and recovery.
type ErrorCode string

const (
	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeEngineUnavailable indicates the embedding backend is unreachable
	// or returned a hard failure. Not retryable within the call; callers
	// may retry later.
	CodeEngineUnavailable ErrorCode = "ENGINE_UNAVAILABLE"

	// CodeOverloaded indicates the embedding queue is full. Backpressure
	// signal: callers should retry with delay or shed load.
	CodeOverloaded ErrorCode = "OVERLOADED"

	// CodeSchemaMismatch indicates a collection exists with an incompatible
	// dimension or metric. Fatal for that collection name; never
	// auto-resolved.
	CodeSchemaMismatch ErrorCode = "SCHEMA_MISMATCH"

	// CodeInvalidQuery indicates a malformed request (bad top_k, empty
	// text, wrong query dimension). Caller bug, not retried.
	CodeInvalidQuery ErrorCode = "INVALID_QUERY"

	// CodeNotFound indicates a get on an absent id. Deletes of absent ids
	// are idempotent and do not produce this code.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeTimeout indicates a bounded wait was exceeded or the caller
	// abandoned the request. In-flight work may still complete; duplicate
	// visible writes cannot result because inserts are id-keyed.
	CodeTimeout ErrorCode = "TIMEOUT"
)

// MemoryError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type MemoryError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Recoverable bool
	StatusCode  int // for transports mapping codes to HTTP/gRPC statuses
}

// Error implements the error interface.
func (e *MemoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *MemoryError) MarshalJSON() ([]byte, error) {
	out := map[string]interface{}{
		"message":     e.Error(),
		"code":        string(e.Code),
		"recoverable": e.Recoverable,
	}
	if e.Err != nil {
		out["error"] = e.Err.Error()
	}
	if len(e.Context) > 0 {
		out["context"] = e.Context
	}
	return json.Marshal(out)
}

// New creates a new MemoryError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *MemoryError {
	return &MemoryError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Recoverable: defaultRecoverable(code),
		StatusCode:  codeToStatusCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *MemoryError) WithContext(key string, value interface{}) *MemoryError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithRecoverable overrides whether the error can be recovered from.
func (e *MemoryError) WithRecoverable(recoverable bool) *MemoryError {
	e.Recoverable = recoverable
	return e
}

// CodeOf returns the ErrorCode of err, walking the unwrap chain.
// Unclassified errors report CodeInternal; nil reports the empty code.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ""
	}
	var me *MemoryError
	if errors.As(err, &me) {
		return me.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// AsMemoryError converts err to a MemoryError, wrapping unknown errors as
// CodeInternal. Returns nil for nil input.
func AsMemoryError(err error) *MemoryError {
	if err == nil {
		return nil
	}
	var me *MemoryError
	if errors.As(err, &me) {
		return me
	}
	return New(CodeInternal, "wrapped error", err)
}

func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeEngineUnavailable, CodeOverloaded, CodeTimeout:
		return true
	default:
		return false
	}
}

// codeToStatusCode maps error codes to HTTP-style status codes for
// transports layered on the core.
func codeToStatusCode(code ErrorCode) int {
	switch code {
	case CodeNotFound:
		return 404
	case CodeInvalidQuery:
		return 400
	case CodeTimeout:
		return 408
	case CodeOverloaded:
		return 429
	case CodeSchemaMismatch:
		return 409
	case CodeEngineUnavailable:
		return 503
	default:
		return 500
	}
}
