package resource

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind discriminates the shared provider error taxonomy.
type ErrorKind string

const (
	KindProviderError     ErrorKind = "provider-error"
	KindTimeout           ErrorKind = "timeout"
	KindUnavailable       ErrorKind = "unavailable"
	KindNotFound          ErrorKind = "not-found"
	KindAuthFailed        ErrorKind = "auth-failed"
	KindRateLimit         ErrorKind = "rate-limit"
	KindInvalidURI        ErrorKind = "invalid-uri"
	KindUnknownProvider   ErrorKind = "unknown-provider"
	KindAlreadyRegistered ErrorKind = "already-registered"
)

// Error is the typed error surfaced by providers and the registry.
type Error struct {
	Kind       ErrorKind
	Provider   string
	Message    string
	StatusCode int
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("%s: %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches two Errors by kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Kind == t.Kind
}

// NewError builds a typed provider error.
func NewError(kind ErrorKind, provider, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a typed provider error wrapping a cause.
func WrapError(kind ErrorKind, provider string, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Provider: provider, Message: fmt.Sprintf(format, args...), Err: err}
}

// RateLimitError builds a rate-limit error carrying the retry-after hint.
func RateLimitError(provider string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimit,
		Provider:   provider,
		Message:    fmt.Sprintf("rate limited, retry after %s", retryAfter),
		RetryAfter: retryAfter,
	}
}

// KindOf returns the kind of a typed error, or KindProviderError for
// anything else (nil returns the empty kind).
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindProviderError
}

// IsKind reports whether err is a typed error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether an error represents a transient failure that
// may be retried. NotFound, RateLimit, AuthFailed and InvalidURI never are.
func Retryable(err error) bool {
	var e *Error
	if !errors.As(err, &e) {
		return true
	}
	switch e.Kind {
	case KindNotFound, KindRateLimit, KindAuthFailed, KindInvalidURI,
		KindUnknownProvider, KindAlreadyRegistered:
		return false
	}
	return true
}
