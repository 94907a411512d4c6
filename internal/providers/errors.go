package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrorKind categorizes why a provider request failed.
type ErrorKind string

const (
	// KindConnection indicates the backend could not be reached at all.
	KindConnection ErrorKind = "connection"

	// KindAuthentication indicates credential or entitlement failure
	// (HTTP 401, 402, 403).
	KindAuthentication ErrorKind = "authentication"

	// KindRateLimit indicates rate limiting (HTTP 429).
	KindRateLimit ErrorKind = "rate_limit"

	// KindTimeout indicates the request exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindServer indicates server-side issues (HTTP 5xx).
	KindServer ErrorKind = "server"

	// KindInvalidRequest indicates a malformed or rejected request (HTTP 4xx).
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindModelUnavailable indicates the requested model does not exist
	// or is not served by this provider.
	KindModelUnavailable ErrorKind = "model_unavailable"

	// KindContentFilter indicates content was blocked by safety filters.
	KindContentFilter ErrorKind = "content_filter"

	// KindUnknown indicates an unclassified error.
	KindUnknown ErrorKind = "unknown"
)

// Retryable reports whether a retry of the same request may succeed.
// Authentication, invalid-request, model, and content-filter failures
// are terminal for the request regardless of retries.
func (k ErrorKind) Retryable() bool {
	switch k {
	case KindConnection, KindRateLimit, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider. It carries
// the context the retry loop and the router need to act on a failure.
type ProviderError struct {
	// Kind categorizes the error for retry and fallback decisions.
	Kind ErrorKind

	// Provider is the provider name (e.g. "anthropic", "local").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request ID for debugging.
	RequestID string

	// RetryAfter is the server-requested wait before retrying,
	// populated from rate-limit responses. Zero means unspecified.
	RetryAfter time.Duration

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Kind))

	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the retry loop may attempt this request again.
func (e *ProviderError) Retryable() bool {
	return e.Kind.Retryable()
}

// RetryAfterHint returns the server-requested retry delay when one was
// provided. The backoff package consults this to extend its computed delay.
func (e *ProviderError) RetryAfterHint() (time.Duration, bool) {
	if e.RetryAfter > 0 {
		return e.RetryAfter, true
	}
	return 0, false
}

// NewError creates a ProviderError classified from its cause.
func NewError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Kind:     KindUnknown,
	}

	if cause != nil {
		err.Message = cause.Error()
		err.Kind = ClassifyError(cause)
	}

	return err
}

// WithStatus adds the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	if kind := classifyStatusCode(status); kind != KindUnknown {
		e.Kind = kind
	}
	return e
}

// WithCode adds a provider-specific error code and reclassifies when
// the code is recognized.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if kind := classifyErrorCode(code); kind != KindUnknown {
		e.Kind = kind
	}
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// WithRetryAfter records the server-requested retry delay.
func (e *ProviderError) WithRetryAfter(d time.Duration) *ProviderError {
	if d > 0 {
		e.RetryAfter = d
	}
	return e
}

// WithKind overrides the classified kind.
func (e *ProviderError) WithKind(kind ErrorKind) *ProviderError {
	e.Kind = kind
	return e
}

// ClassifyError inspects an error and returns the matching ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") ||
		strings.Contains(errStr, "etimedout") {
		return KindTimeout
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "dial tcp") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "unexpected eof") {
		return KindConnection
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return KindRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return KindAuthentication
	}

	if strings.Contains(errStr, "content_filter") ||
		strings.Contains(errStr, "content policy") ||
		strings.Contains(errStr, "safety") ||
		strings.Contains(errStr, "blocked") {
		return KindContentFilter
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return KindModelUnavailable
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "overloaded") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return KindServer
	}

	return KindUnknown
}

// classifyStatusCode maps an HTTP status to an ErrorKind.
// 402 and 403 land with authentication: all three mean the account,
// not the request, is the problem.
func classifyStatusCode(status int) ErrorKind {
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusPaymentRequired,
		status == http.StatusForbidden:
		return KindAuthentication
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusNotFound:
		return KindModelUnavailable
	case status == http.StatusRequestTimeout:
		return KindTimeout
	case status >= 500:
		return KindServer
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindUnknown
	}
}

// classifyErrorCode maps provider-specific error codes to an ErrorKind.
func classifyErrorCode(code string) ErrorKind {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return KindRateLimit
	case "authentication_error", "invalid_api_key", "insufficient_quota", "billing_error":
		return KindAuthentication
	case "model_not_found", "model_not_available":
		return KindModelUnavailable
	case "content_policy_violation", "content_filter":
		return KindContentFilter
	case "server_error", "internal_error", "overloaded_error":
		return KindServer
	case "invalid_request_error":
		return KindInvalidRequest
	case "timeout_error":
		return KindTimeout
	default:
		return KindUnknown
	}
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var providerErr *ProviderError
	if errors.As(err, &providerErr) {
		return providerErr, true
	}
	return nil, false
}

// IsRetryable reports whether an error should be retried. Raw errors
// are classified on the fly.
func IsRetryable(err error) bool {
	if providerErr, ok := AsProviderError(err); ok {
		return providerErr.Retryable()
	}
	return ClassifyError(err).Retryable()
}

// retryAfterFromHeader parses a Retry-After header value, accepting
// both delta-seconds and HTTP-date forms.
func retryAfterFromHeader(h http.Header) time.Duration {
	value := strings.TrimSpace(h.Get("Retry-After"))
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
