// Package api
// Author: momentics <momentics@gmail.com>
//
// Outcome taxonomy and structured errors shared by every blocking operation
// of the fiber runtime.

package api

import (
	"errors"
	"fmt"
	"syscall"
)

// ErrorCode is the outcome of a suspension or blocking call.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeTimeout
	ErrCodeOverload
	ErrCodeCancelled
	ErrCodeIllegalCall
	ErrCodeSystem
	ErrCodeInternal
)

// String returns the short name of the code.
func (c ErrorCode) String() string {
	switch c {
	case ErrCodeOK:
		return "ok"
	case ErrCodeTimeout:
		return "timeout"
	case ErrCodeOverload:
		return "overload"
	case ErrCodeCancelled:
		return "cancelled"
	case ErrCodeIllegalCall:
		return "illegal call"
	case ErrCodeSystem:
		return "system error"
	case ErrCodeInternal:
		return "internal error"
	default:
		return fmt.Sprintf("code(%d)", int(c))
	}
}

// Sentinel errors, matched with errors.Is against any *Error of the same code.
var (
	ErrTimeout     = &Error{Code: ErrCodeTimeout, Message: "deadline elapsed"}
	ErrOverload    = &Error{Code: ErrCodeOverload, Message: "admission refused"}
	ErrCancelled   = &Error{Code: ErrCodeCancelled, Message: "cancelled"}
	ErrIllegalCall = &Error{Code: ErrCodeIllegalCall, Message: "illegal call"}
)

// Error represents a structured error with code and context.
// Errno carries the underlying OS error number for ErrCodeSystem failures.
type Error struct {
	Code    ErrorCode
	Op      string
	Message string
	Errno   syscall.Errno
	Context map[string]any
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.String()
	}
	if e.Errno != 0 {
		msg = fmt.Sprintf("%s: %v", msg, e.Errno)
	}
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if len(e.Context) == 0 {
		return msg
	}
	return fmt.Sprintf("%s (context: %+v)", msg, e.Context)
}

// Is reports code equality, so errors.Is(err, api.ErrTimeout) matches any timeout.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// Unwrap exposes the OS error number, if any.
func (e *Error) Unwrap() error {
	if e.Errno == 0 {
		return nil
	}
	return e.Errno
}

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// OpError wraps a non-OK code for the named operation, nil for ErrCodeOK.
func OpError(op string, code ErrorCode) error {
	if code == ErrCodeOK {
		return nil
	}
	return &Error{Code: code, Op: op}
}

// SystemError wraps an OS error number surfaced by a wrapped call.
func SystemError(op string, errno syscall.Errno) error {
	return &Error{Code: ErrCodeSystem, Op: op, Errno: errno}
}

// CodeOf extracts the ErrorCode from err: ErrCodeOK for nil, ErrCodeInternal
// for foreign errors.
func CodeOf(err error) ErrorCode {
	if err == nil {
		return ErrCodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// FatalError is raised (as a panic) on internal invariant violations. It is
// never recovered by the runtime: the process must not continue from a
// possibly corrupt scheduler state.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err != nil {
		return "fatal: " + e.Reason + ": " + e.Err.Error()
	}
	return "fatal: " + e.Reason
}

func (e *FatalError) Unwrap() error { return e.Err }
