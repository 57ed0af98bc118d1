// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package api defines the response envelope shared by every CRAM operation.
//
// Every operation answers with an Envelope. Success carries Data, failure
// carries an ErrorInfo whose Code is one of the constants below. Operations
// never let a Go error or panic reach the transport: Do converts both.
package api

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/ARUOHTA/cram-books-mcp/services/cram/confirm"
	"github.com/ARUOHTA/cram-books-mcp/services/cram/sheets"
)

// Error codes reported in ErrorInfo.Code.
const (
	CodeBadRequest            = "BAD_REQUEST"
	CodeNotFound              = "NOT_FOUND"
	CodeBadHeader             = "BAD_HEADER"
	CodeEmpty                 = "EMPTY"
	CodeError                 = "ERROR"
	CodeUncaught              = "UNCAUGHT"
	CodeUnknownOp             = "UNKNOWN_OP"
	CodeDisabled              = "DISABLED"
	CodeConfirmExpired        = "CONFIRM_EXPIRED"
	CodeConfirmMismatch       = "CONFIRM_MISMATCH"
	CodeConfirmParse          = "CONFIRM_PARSE"
	CodeBadDate               = "BAD_DATE"
	CodeTooLong               = "TOO_LONG"
	CodeRowNotFound           = "ROW_NOT_FOUND"
	CodePreconditionAEmpty    = "PRECONDITION_A_EMPTY"
	CodePreconditionTimeEmpty = "PRECONDITION_TIME_EMPTY"
	CodeAlreadyExists         = "ALREADY_EXISTS"
	CodeUnauthorized          = "UNAUTHORIZED"
	CodeRateLimited           = "RATE_LIMITED"
)

// Meta carries response metadata for successful envelopes.
type Meta struct {
	TS string `json:"ts"`
}

// ErrorInfo is the error payload of a failed envelope.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Envelope is the response shape of every operation.
type Envelope struct {
	OK    bool       `json:"ok"`
	Op    string     `json:"op"`
	Meta  *Meta      `json:"meta,omitempty"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorInfo `json:"error,omitempty"`
}

// now is swapped in tests.
var now = time.Now

// OK builds a success envelope.
func OK(op string, data any) Envelope {
	return Envelope{
		OK:   true,
		Op:   op,
		Meta: &Meta{TS: now().UTC().Format(time.RFC3339Nano)},
		Data: data,
	}
}

// NG builds a failure envelope.
func NG(op, code, message string, details any) Envelope {
	return Envelope{
		OK:    false,
		Op:    op,
		Error: &ErrorInfo{Code: code, Message: message, Details: details},
	}
}

// Error is a typed operation failure carrying an envelope code.
//
// Lower layers return *Error when they know which code applies; anything else
// is reported as CodeError with the underlying message.
type Error struct {
	Code    string
	Message string
	Details any
	Err     error
}

// Error implements error.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an *Error with a formatted message.
func Errorf(code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches details and returns the same error.
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// Wrap builds an *Error around a cause.
func Wrap(code string, err error, message string) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// BadRequest is shorthand for a CodeBadRequest error.
func BadRequest(format string, args ...any) *Error {
	return Errorf(CodeBadRequest, format, args...)
}

// NotFound is shorthand for a CodeNotFound error.
func NotFound(format string, args ...any) *Error {
	return Errorf(CodeNotFound, format, args...)
}

// FromError converts any error into a failure envelope.
//
// *Error keeps its code. Known sentinels of the sheets and confirm packages
// map to their codes. Everything else is CodeError. Messages of untyped
// errors are passed through Redact.
func FromError(op string, err error) Envelope {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return NG(op, apiErr.Code, apiErr.Message, apiErr.Details)
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			return NG(op, s.code, Redact(err.Error()), nil)
		}
	}
	return NG(op, CodeError, Redact(err.Error()), nil)
}

// CodeOf returns the envelope code err would be reported with.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return FromError("", err).Error.Code
}

// sentinels maps lower-layer errors to envelope codes, first match wins.
var sentinels = []struct {
	err  error
	code string
}{
	{sheets.ErrSpreadsheetNotFound, CodeNotFound},
	{sheets.ErrSheetNotFound, CodeNotFound},
	{confirm.ErrExpired, CodeConfirmExpired},
	{confirm.ErrMismatch, CodeConfirmMismatch},
	{confirm.ErrCorrupt, CodeConfirmParse},
}

// Do runs fn and converts its outcome into an Envelope.
//
// Description:
//
//	Success wraps the returned data with OK. A returned error is converted
//	with FromError. A panic is recovered and reported as CodeUncaught, so
//	no failure ever escapes to the caller. The stack goes to the log only.
//
// Inputs:
//
//	op - Operation name echoed in the envelope.
//	fn - Operation body.
//
// Outputs:
//
//	Envelope - Never a zero value.
//
// Thread Safety: Safe for concurrent use.
func Do(op string, fn func() (any, error)) (env Envelope) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("operation panicked",
				slog.String("op", op),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			env = NG(op, CodeUncaught, fmt.Sprint(r), nil)
		}
	}()

	data, err := fn()
	if err != nil {
		return FromError(op, err)
	}
	return OK(op, data)
}
