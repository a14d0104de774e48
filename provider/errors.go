// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"time"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Kind categorizes provider errors for handling.
type Kind int

const (
	// KindUnknown is the fallback for backend codes no table maps.
	KindUnknown Kind = iota

	// KindInvalidInput indicates a model identifier or content the
	// provider cannot handle (wrong namespace, unsupported part type).
	KindInvalidInput

	// KindAuthentication indicates a missing or invalid credential.
	KindAuthentication

	// KindRateLimited indicates the backend signaled throttling.
	KindRateLimited

	// KindTimeout indicates a bounded wait was exceeded.
	KindTimeout

	// KindNetwork indicates a transport-level failure.
	KindNetwork

	// KindServer indicates a backend-side HTTP error not otherwise
	// classified.
	KindServer

	// KindGenerationFailed indicates a decode failure, malformed response
	// body, or other processing error not classified above.
	KindGenerationFailed

	// KindUnavailable indicates a device/platform/credential precondition
	// is not met.
	KindUnavailable

	// KindOperationInProgress indicates a second concurrent generation was
	// attempted on a single-request-at-a-time session or provider.
	KindOperationInProgress

	// KindCancelled indicates the generation was cooperatively cancelled.
	KindCancelled
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindAuthentication:
		return "authentication_failed"
	case KindRateLimited:
		return "rate_limited"
	case KindTimeout:
		return "timeout"
	case KindNetwork:
		return "network_error"
	case KindServer:
		return "server_error"
	case KindGenerationFailed:
		return "generation_failed"
	case KindUnavailable:
		return "provider_unavailable"
	case KindOperationInProgress:
		return "operation_in_progress"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// =============================================================================
// ERROR TYPE
// =============================================================================

// Error is the unified error type all backend-specific failures map into.
type Error struct {
	Kind    Kind
	Message string

	// StatusCode carries the HTTP status for KindServer errors.
	StatusCode int

	// RetryAfter carries the backend's throttle hint for KindRateLimited.
	RetryAfter time.Duration

	Cause error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return msg + ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches against the package sentinels by kind, so
// errors.Is(err, provider.ErrCancelled) works for any KindCancelled error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind
	}
	return false
}

// Sentinel errors for easy checking.
var (
	ErrOperationInProgress = &Error{Kind: KindOperationInProgress, Message: "a generation is already in progress"}
	ErrCancelled           = &Error{Kind: KindCancelled, Message: "generation cancelled"}
	ErrUnavailable         = &Error{Kind: KindUnavailable, Message: "provider unavailable"}
)

// =============================================================================
// CONSTRUCTORS
// =============================================================================

// NewError creates an error of the given kind.
func NewError(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// InvalidInput creates a KindInvalidInput error.
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Message: message}
}

// AuthenticationFailed creates a KindAuthentication error.
func AuthenticationFailed(message string) *Error {
	return &Error{Kind: KindAuthentication, Message: message}
}

// RateLimited creates a KindRateLimited error with a retry hint.
// A zero retryAfter means the backend gave no hint.
func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// Timeout creates a KindTimeout error recording the bounded wait.
func Timeout(waited time.Duration) *Error {
	return &Error{Kind: KindTimeout, Message: "request timed out after " + waited.String()}
}

// NetworkError wraps a transport-level failure.
func NetworkError(cause error) *Error {
	return &Error{Kind: KindNetwork, Message: "network error", Cause: cause}
}

// ServerError creates a KindServer error for an HTTP status.
func ServerError(statusCode int, message string) *Error {
	return &Error{Kind: KindServer, StatusCode: statusCode, Message: message}
}

// GenerationFailed wraps a processing failure.
func GenerationFailed(cause error) *Error {
	return &Error{Kind: KindGenerationFailed, Message: "generation failed", Cause: cause}
}

// Unavailable creates a KindUnavailable error with a reason.
func Unavailable(reason string) *Error {
	return &Error{Kind: KindUnavailable, Message: reason}
}

// UnknownProviderError preserves an unmapped backend code and message.
// Never dropped, never a crash: diagnostics keep the original text.
func UnknownProviderError(code, message string) *Error {
	msg := message
	if code != "" {
		msg = code + ": " + message
	}
	return &Error{Kind: KindUnknown, Message: msg}
}

// =============================================================================
// INSPECTION HELPERS
// =============================================================================

// KindOf extracts the kind from an error chain.
// Non-provider errors report KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsKind reports whether the error chain contains a provider error of the
// given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// AsError extracts the *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsCancelled reports whether the error indicates cooperative cancellation.
func IsCancelled(err error) bool {
	return IsKind(err, KindCancelled)
}

// IsRetryable reports whether a request that failed with this error may be
// retried without changing the input.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimited, KindNetwork, KindTimeout:
		return true
	case KindServer:
		e, _ := AsError(err)
		return e != nil && e.StatusCode >= 500
	}
	return false
}
