package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Error is a provider-neutral LLM error. Provider clients convert SDK errors
// into this type so retry predicates can classify them without importing SDKs.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	ProviderErr error // Original provider-specific error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeRequestTooLarge ErrorType = "request_too_large"
	ErrorTypeInvalidRequest  ErrorType = "invalid_request"
	ErrorTypeAuthentication  ErrorType = "authentication"
	ErrorTypeProvider        ErrorType = "provider"
	ErrorTypeNetwork         ErrorType = "network"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeUnknown         ErrorType = "unknown"
)

// StatusOverloaded is the non-standard status Anthropic returns when the API is overloaded.
const StatusOverloaded = 529

// DefaultRetryAfter is used for rate limit responses that carry no Retry-After header.
const DefaultRetryAfter = 60 * time.Second

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying provider error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

func asError(err error) (*Error, bool) {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr, true
	}
	return nil, false
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	e, ok := asError(err)
	return ok && e.Type == ErrorTypeRateLimit
}

// IsOverloadedError checks if an error reports an overloaded backend.
func IsOverloadedError(err error) bool {
	e, ok := asError(err)
	return ok && e.Type == ErrorTypeOverloaded
}

// IsRequestTooLargeError checks if an error is a request too large error.
func IsRequestTooLargeError(err error) bool {
	e, ok := asError(err)
	return ok && e.Type == ErrorTypeRequestTooLarge
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	e, ok := asError(err)
	return ok && e.Retryable
}

// StatusCode returns the HTTP status attached to err, or 0.
func StatusCode(err error) int {
	if e, ok := asError(err); ok {
		return e.StatusCode
	}
	return 0
}

// ExtractRetryAfter extracts the retry-after duration from an error.
func ExtractRetryAfter(err error) *time.Duration {
	if e, ok := asError(err); ok {
		return e.RetryAfter
	}
	return nil
}

// ParseRetryAfter parses a Retry-After header value given either as seconds
// or as an HTTP date. It returns nil when the value is absent or unusable.
func ParseRetryAfter(value string, now time.Time) *time.Duration {
	if value == "" {
		return nil
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds >= 0 {
		d := time.Duration(seconds) * time.Second
		return &d
	}
	if at, err := http.ParseTime(value); err == nil && at.After(now) {
		d := at.Sub(now)
		return &d
	}
	return nil
}

// FromStatus classifies an HTTP failure into an Error.
func FromStatus(status int, retryAfter *time.Duration, providerErr error) *Error {
	e := &Error{StatusCode: status, ProviderErr: providerErr}
	switch {
	case status == http.StatusTooManyRequests:
		e.Type = ErrorTypeRateLimit
		e.Message = "rate limit exceeded"
		e.Retryable = true
		if retryAfter == nil {
			d := DefaultRetryAfter
			retryAfter = &d
		}
		e.RetryAfter = retryAfter
	case status == StatusOverloaded:
		e.Type = ErrorTypeOverloaded
		e.Message = "provider overloaded"
		e.Retryable = true
		e.RetryAfter = retryAfter
	case status == http.StatusRequestEntityTooLarge:
		e.Type = ErrorTypeRequestTooLarge
		e.Message = "request too large"
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e.Type = ErrorTypeAuthentication
		e.Message = "authentication failed"
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		e.Type = ErrorTypeTimeout
		e.Message = "request timed out"
		e.Retryable = true
	case status >= 500:
		e.Type = ErrorTypeProvider
		e.Message = fmt.Sprintf("provider error (status %d)", status)
		e.Retryable = true
	case status >= 400:
		e.Type = ErrorTypeInvalidRequest
		e.Message = fmt.Sprintf("invalid request (status %d)", status)
	default:
		e.Type = ErrorTypeUnknown
		e.Message = fmt.Sprintf("unexpected status %d", status)
	}
	return e
}

// NewRateLimitError creates a new rate limit error.
func NewRateLimitError(message string, retryAfter *time.Duration, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRateLimit,
		Message:     message,
		Retryable:   true,
		RetryAfter:  retryAfter,
		StatusCode:  http.StatusTooManyRequests,
		ProviderErr: providerErr,
	}
}

// NewRequestTooLargeError creates a new request too large error.
func NewRequestTooLargeError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeRequestTooLarge,
		Message:     message,
		StatusCode:  http.StatusRequestEntityTooLarge,
		ProviderErr: providerErr,
	}
}

// NewNetworkError wraps a transport failure. Network errors are retryable.
func NewNetworkError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}

// NewProviderError creates a new provider error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeProvider,
		Message:     message,
		Retryable:   false,
		ProviderErr: providerErr,
	}
}
