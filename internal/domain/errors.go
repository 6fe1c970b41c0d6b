// SPDX-License-Identifier: MIT

package domain

import (
	"errors"
	"fmt"
)

// Code is the wire-level error classification.
type Code string

const (
	CodeInvalidArgument    Code = "INVALID_ARGUMENT"
	CodeNotFound           Code = "NOT_FOUND"
	CodeAlreadyExists      Code = "ALREADY_EXISTS"
	CodePermissionDenied   Code = "PERMISSION_DENIED"
	CodeFailedPrecondition Code = "FAILED_PRECONDITION"
	CodeDeadlineExceeded   Code = "DEADLINE_EXCEEDED"
	CodeUnavailable        Code = "UNAVAILABLE"
	CodeInternal           Code = "INTERNAL"
)

// Sentinels usable with errors.Is regardless of the concrete *Error value.
var (
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrNotFound           = errors.New("not found")
	ErrAlreadyExists      = errors.New("already exists")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrFailedPrecondition = errors.New("failed precondition")
	ErrDeadlineExceeded   = errors.New("deadline exceeded")
	ErrUnavailable        = errors.New("unavailable")
	ErrInternal           = errors.New("internal error")
)

// Well-known precondition reasons.
const (
	ReasonAgreementInactive = "AGREEMENT_INACTIVE"
	ReasonIllegalTransition = "ILLEGAL_TRANSITION"
)

var sentinelByCode = map[Code]error{
	CodeInvalidArgument:    ErrInvalidArgument,
	CodeNotFound:           ErrNotFound,
	CodeAlreadyExists:      ErrAlreadyExists,
	CodePermissionDenied:   ErrPermissionDenied,
	CodeFailedPrecondition: ErrFailedPrecondition,
	CodeDeadlineExceeded:   ErrDeadlineExceeded,
	CodeUnavailable:        ErrUnavailable,
	CodeInternal:           ErrInternal,
}

// Error carries a classification code, an optional machine-readable reason
// and an optional cause.
type Error struct {
	Code    Code
	Reason  string
	Message string
	cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return sentinelByCode[e.Code]
}

// Is matches both the code sentinel and other *Error values with the same code.
func (e *Error) Is(target error) bool {
	if s, ok := sentinelByCode[e.Code]; ok && target == s {
		return true
	}
	var de *Error
	if errors.As(target, &de) {
		return de.Code == e.Code && (de.Reason == "" || de.Reason == e.Reason)
	}
	return false
}

// E constructs a classified error.
func E(code Code, reason, format string, args ...any) *Error {
	return &Error{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...)}
}

// WrapE wraps a cause with a classification.
func WrapE(code Code, reason string, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Reason: reason, Message: fmt.Sprintf(format, args...), cause: cause}
}

// CodeOf extracts the classification of err, defaulting to INTERNAL.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	switch {
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrFailedPrecondition):
		return CodeFailedPrecondition
	case errors.Is(err, ErrDeadlineExceeded):
		return CodeDeadlineExceeded
	case errors.Is(err, ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

// ReasonOf extracts the machine-readable reason, if any.
func ReasonOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Reason
	}
	return ""
}
