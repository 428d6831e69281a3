// Package barcerr defines the structured error type used across the core:
// every fallible operation returns a numeric code stable across versions,
// an optional subcode, and a formatted human-readable message.
package barcerr

import (
	"errors"
	"fmt"
)

// Code identifies an error family. Values are stable across versions —
// never renumber an existing constant, only append.
type Code int

const (
	// Transport family.
	CodeConnectFail Code = iota + 1
	CodeNetworkTimeoutSend
	CodeNetworkTimeoutReceive
	CodeDisconnected
	CodeInvalidResponse
	CodeInvalidEncoding

	// Crypto/session family.
	CodeInitCrypt
	CodeInvalidKey
	CodeFunctionNotSupported
	CodeAuthorization

	// Config family.
	CodeParse
	CodeExpectedParameter
	CodeUnknownValue

	// Job family.
	CodeTestCode
	CodeJobAborted
	CodeJobInProgress

	// Storage/archive family — surfaced verbatim from the pipeline.
	CodeStorage

	// CodeNone means "no error" — used as the zero value of RunningInfo.Error.
	CodeNone Code = 0
)

var names = map[Code]string{
	CodeConnectFail:           "CONNECT_FAIL",
	CodeNetworkTimeoutSend:    "NETWORK_TIMEOUT_SEND",
	CodeNetworkTimeoutReceive: "NETWORK_TIMEOUT_RECEIVE",
	CodeDisconnected:          "DISCONNECTED",
	CodeInvalidResponse:       "INVALID_RESPONSE",
	CodeInvalidEncoding:       "INVALID_ENCODING",
	CodeInitCrypt:             "INIT_CRYPT",
	CodeInvalidKey:            "INVALID_KEY",
	CodeFunctionNotSupported:  "FUNCTION_NOT_SUPPORTED",
	CodeAuthorization:         "AUTHORIZATION",
	CodeParse:                 "PARSE",
	CodeExpectedParameter:     "EXPECTED_PARAMETER",
	CodeUnknownValue:          "UNKNOWN_VALUE",
	CodeTestCode:              "TESTCODE",
	CodeJobAborted:            "JOB_ABORTED",
	CodeJobInProgress:         "JOB_IN_PROGRESS",
	CodeStorage:               "STORAGE",
	CodeNone:                  "NONE",
}

// String renders the stable wire name for the code, e.g. "DISCONNECTED".
func (c Code) String() string {
	if s, ok := names[c]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(c))
}

// Error is the structured error type returned by every fallible operation
// in the core. It carries a stable numeric Code, an optional Subcode for
// finer-grained diagnostics within a family, and a human-readable Message.
type Error struct {
	Code    Code
	Subcode int
	Message string

	// wrapped is the underlying cause, if any, preserved for errors.Is/As.
	wrapped error
}

// New creates an Error with no subcode and no wrapped cause.
func New(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates an Error that wraps an existing error, preserving it for
// errors.Is/errors.As while attaching the stable code and a message.
func Wrap(code Code, err error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), wrapped: err}
}

// WithSubcode returns a copy of e with Subcode set, for chaining at the
// call site: barcerr.New(barcerr.CodeParse, "bad line").WithSubcode(3).
func (e *Error) WithSubcode(sub int) *Error {
	cp := *e
	cp.Subcode = sub
	return &cp
}

func (e *Error) Error() string {
	if e.Subcode != 0 {
		return fmt.Sprintf("%s(%d): %s", e.Code, e.Subcode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.wrapped }

// Is reports whether target is a *Error with the same Code, so callers can
// write errors.Is(err, barcerr.New(barcerr.CodeDisconnected, "")) style
// checks, or more idiomatically barcerr.Has(err, barcerr.CodeDisconnected).
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// Has reports whether err is, or wraps, a *Error with the given code.
func Has(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf extracts the Code from err, or CodeNone if err is nil or not a
// *Error. Used by the runner to classify a worker's terminal error into
// an end-state.
func CodeOf(err error) Code {
	if err == nil {
		return CodeNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeNone
}
