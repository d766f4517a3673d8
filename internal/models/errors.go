package models

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes failures surfaced to clients. Kinds are stable
// protocol strings; handlers map them onto HTTP statuses and socket
// `*:error` payloads.
type ErrorKind string

const (
	ErrInvalidArgument        ErrorKind = "InvalidArgument"
	ErrNotFound               ErrorKind = "NotFound"
	ErrConflict               ErrorKind = "Conflict"
	ErrMultiplexerUnavailable ErrorKind = "MultiplexerUnavailable"
	ErrGatewayUnavailable     ErrorKind = "GatewayUnavailable"
	ErrGatewayStartFailed     ErrorKind = "GatewayStartFailed"
	ErrTunnelStartFailed      ErrorKind = "TunnelStartFailed"
	ErrNoFreePort             ErrorKind = "NoFreePort"
	ErrUpstreamUnreachable    ErrorKind = "UpstreamUnreachable"
	ErrUnauthorized           ErrorKind = "Unauthorized"
	ErrInternal               ErrorKind = "Internal"
)

// AppError is the single error type that crosses the service boundary.
// The message is short and human readable; stack traces never leave the
// server.
type AppError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
	cause   error
}

func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.cause }

// NewAppError builds an AppError with an optional wrapped cause.
func NewAppError(kind ErrorKind, message string, cause error) *AppError {
	return &AppError{Kind: kind, Message: message, cause: cause}
}

// Errorf builds an AppError with a formatted message and no cause.
func Errorf(kind ErrorKind, format string, args ...interface{}) *AppError {
	return &AppError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to Internal for
// anything that is not an AppError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ErrInternal
}

// MessageOf returns the client-safe message for err. Untyped errors get a
// generic message so internals are never leaked.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}
