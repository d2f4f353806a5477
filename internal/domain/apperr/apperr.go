// Package apperr defines the error taxonomy shared by domain services and the
// HTTP layer. Services return *Error values; handlers map the Kind to a status.
package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindValidation          Kind = "validation"
	KindNotFound            Kind = "not_found"
	KindConflict            Kind = "conflict"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindUpstreamUnavailable Kind = "upstream_unavailable"
	KindAuthorization       Kind = "authorization"
	KindInternal            Kind = "internal"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports a match against the kind sentinels below, so callers can write
// errors.Is(err, apperr.ErrNotFound) without caring about the code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code == "" {
		return e.Kind == t.Kind
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

var (
	ErrValidation          = &Error{Kind: KindValidation}
	ErrNotFound            = &Error{Kind: KindNotFound}
	ErrConflict            = &Error{Kind: KindConflict}
	ErrInsufficientBalance = &Error{Kind: KindInsufficientBalance}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
	ErrAuthorization       = &Error{Kind: KindAuthorization}
)

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Wrap(err error, kind Kind, code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

func Authorization(code, message string) *Error {
	return New(KindAuthorization, code, message)
}

func UpstreamUnavailable(source string, err error) *Error {
	return Wrap(err, KindUpstreamUnavailable, "upstream_unavailable", source+" unavailable").WithDetail("source", source)
}

// InsufficientBalance carries the numbers that caused the rejection. The
// values are passed as strings so the package stays free of decimal types.
func InsufficientBalance(available, requested string) *Error {
	return New(KindInsufficientBalance, "insufficient_balance", "insufficient leave balance").
		WithDetail("available", available).
		WithDetail("requested", requested)
}

// KindOf returns the kind of the first *Error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindInternal
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsClientError is true for kinds the caller can fix by changing the request.
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindInsufficientBalance, KindAuthorization:
		return true
	default:
		return false
	}
}
