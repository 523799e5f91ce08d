// Package core provides the shared types, interfaces, and error taxonomy
// for the recommendation service core.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a provider failure for retry and surfacing decisions.
type ErrorKind string

const (
	// KindTransport indicates a network-level failure with no HTTP status
	// (connect refused, timeout, reset). Retryable.
	KindTransport ErrorKind = "transport"
	// KindRateLimit indicates an explicit rate-limit signal (429). Retryable
	// with backoff.
	KindRateLimit ErrorKind = "rate_limit"
	// KindAuth indicates an authentication/authorization failure (401/403).
	// Never retried: a retry cannot succeed without caller intervention.
	KindAuth ErrorKind = "auth"
	// KindReauthRequired indicates an expired upstream credential. Never
	// retried; the consuming layer maps it to "needs re-authentication".
	KindReauthRequired ErrorKind = "reauth_required"
	// KindInvalidRequest indicates a malformed request (other 4xx). Never
	// retried.
	KindInvalidRequest ErrorKind = "invalid_request"
	// KindUnavailable indicates an upstream 5xx or an exhausted retry
	// sequence. Retryable.
	KindUnavailable ErrorKind = "unavailable"
)

// ProviderError is the error type for all external provider failures.
type ProviderError struct {
	Kind       ErrorKind `json:"kind"`
	Provider   string    `json:"provider,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
	Message    string    `json:"message"`
	// Original error for debugging (not exposed to clients)
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Provider != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Provider, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements the error unwrapping interface.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewTransportError wraps a network-level failure that never produced an
// HTTP status code.
func NewTransportError(provider string, err error) *ProviderError {
	return &ProviderError{
		Kind:     KindTransport,
		Provider: provider,
		Message:  err.Error(),
		Err:      err,
	}
}

// NewRateLimitError reports an explicit rate-limit signal.
func NewRateLimitError(provider, message string) *ProviderError {
	return &ProviderError{
		Kind:       KindRateLimit,
		Provider:   provider,
		StatusCode: http.StatusTooManyRequests,
		Message:    message,
	}
}

// NewAuthError reports an authentication or authorization failure.
func NewAuthError(provider string, statusCode int, message string) *ProviderError {
	return &ProviderError{
		Kind:       KindAuth,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewReauthRequiredError reports an expired upstream credential.
func NewReauthRequiredError(provider, message string) *ProviderError {
	return &ProviderError{
		Kind:       KindReauthRequired,
		Provider:   provider,
		StatusCode: http.StatusUnauthorized,
		Message:    message,
	}
}

// NewInvalidRequestError reports a malformed-request failure.
func NewInvalidRequestError(provider string, statusCode int, message string) *ProviderError {
	return &ProviderError{
		Kind:       KindInvalidRequest,
		Provider:   provider,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewUnavailableError reports an upstream server failure or an operation
// whose retries are exhausted.
func NewUnavailableError(provider, message string, err error) *ProviderError {
	return &ProviderError{
		Kind:     KindUnavailable,
		Provider: provider,
		Message:  message,
		Err:      err,
	}
}

// ParseProviderError maps an HTTP error response from a provider onto the
// taxonomy. The body is inspected for a conventional {"error":{"message"}}
// envelope; otherwise it is used verbatim.
func ParseProviderError(provider string, statusCode int, body []byte) *ProviderError {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	code := ""
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
		code = envelope.Error.Code
	}

	switch {
	case statusCode == http.StatusUnauthorized && code == "invalid_grant":
		return NewReauthRequiredError(provider, message)
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return NewAuthError(provider, statusCode, message)
	case statusCode == http.StatusTooManyRequests:
		return NewRateLimitError(provider, message)
	case statusCode >= 400 && statusCode < 500:
		return NewInvalidRequestError(provider, statusCode, message)
	default:
		e := NewUnavailableError(provider, message, nil)
		e.StatusCode = statusCode
		return e
	}
}

// Retryable is the default retry classification: transport failures,
// server-side failures, and rate-limit signals are retryable; auth,
// re-auth, and malformed-request failures are not. Errors outside the
// taxonomy are treated as transport failures and retried.
func Retryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return true
	}
	switch pe.Kind {
	case KindTransport, KindRateLimit, KindUnavailable:
		return true
	default:
		return false
	}
}

// IsReauthRequired reports whether err carries the expired-credential
// signal, so callers can surface "needs re-authentication" distinctly.
func IsReauthRequired(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Kind == KindReauthRequired
}
