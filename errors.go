package usbtmc

import (
	"errors"
	"fmt"
)

// ErrorCode is a high-level error category, matching the error kinds
// enumerated for this driver's failure policy.
type ErrorCode string

const (
	CodeInvalidArgument ErrorCode = "invalid-argument"
	CodeNoMemory        ErrorCode = "no-memory"
	CodeNoDevice        ErrorCode = "no-device"
	CodeTimedOut        ErrorCode = "timed-out"
	CodeWouldBlock      ErrorCode = "would-block"
	CodeCanceled        ErrorCode = "canceled"
	CodePipeHalted      ErrorCode = "pipe-halted"
	CodeProtocolError   ErrorCode = "protocol-error"
	CodeDenied          ErrorCode = "denied"
	CodeIOError         ErrorCode = "io-error"
)

// Error is the structured error type returned by every operation in this
// package. Op names the failing operation; Code classifies the failure;
// Inner, if non-nil, is the underlying cause.
type Error struct {
	Op    string
	Code  ErrorCode
	Msg   string
	Inner error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" && e.Inner != nil {
		msg = e.Inner.Error()
	}
	if msg == "" {
		msg = string(e.Code)
	}
	if e.Op != "" {
		return fmt.Sprintf("usbtmc: %s: %s (%s)", e.Op, msg, e.Code)
	}
	return fmt.Sprintf("usbtmc: %s (%s)", msg, e.Code)
}

// Unwrap supports errors.Is/As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Inner
}

// Is supports errors.Is(err, ErrTimedOut)-style sentinel comparisons by code.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return e.Code == te.Code
	}
	return false
}

func newError(op string, code ErrorCode, msg string) *Error {
	return &Error{Op: op, Code: code, Msg: msg}
}

func newErrorf(op string, code ErrorCode, format string, args ...interface{}) *Error {
	return &Error{Op: op, Code: code, Msg: fmt.Sprintf(format, args...)}
}

func wrapError(op string, code ErrorCode, inner error) *Error {
	if inner == nil {
		return nil
	}
	return &Error{Op: op, Code: code, Msg: inner.Error(), Inner: inner}
}

// Sentinel errors for use with errors.Is. Only Code is compared, so any
// *Error constructed with a matching code satisfies these.
var (
	ErrInvalidArgument = &Error{Code: CodeInvalidArgument}
	ErrNoMemory        = &Error{Code: CodeNoMemory}
	ErrNoDevice        = &Error{Code: CodeNoDevice}
	ErrTimedOut        = &Error{Code: CodeTimedOut}
	ErrWouldBlock      = &Error{Code: CodeWouldBlock}
	ErrCanceled        = &Error{Code: CodeCanceled}
	ErrPipeHalted      = &Error{Code: CodePipeHalted}
	ErrProtocolError   = &Error{Code: CodeProtocolError}
	ErrDenied          = &Error{Code: CodeDenied}
	ErrIOError         = &Error{Code: CodeIOError}
)

// CodeOf extracts the ErrorCode from err, returning "" if err is not (or
// does not wrap) a *Error.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// autoAbortEligible reports whether err should trigger the AutoAbort
// sequence: a canceled operation or a gone device must propagate as-is
// instead of issuing a further control request against a pipe that is
// either intentionally unwound or no longer there.
func autoAbortEligible(err error) bool {
	switch CodeOf(err) {
	case CodeCanceled, CodeNoDevice:
		return false
	default:
		return true
	}
}
