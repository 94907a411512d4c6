package backoff

import (
	"context"
	"errors"
	"time"
)

// ErrMaxAttemptsExhausted is returned when all retry attempts have been exhausted.
var ErrMaxAttemptsExhausted = errors.New("max retry attempts exhausted")

// DelayHinter lets an error dictate the minimum delay before the next
// attempt. Rate-limit errors carrying a retry-after value implement it.
type DelayHinter interface {
	RetryAfterHint() (time.Duration, bool)
}

// RetryResult holds the result of a retry operation.
type RetryResult[T any] struct {
	// Value is the successful result value.
	Value T
	// Attempts is the number of attempts made (1-indexed).
	Attempts int
	// LastError is the last error encountered, if any.
	LastError error
}

// RetryWithBackoff executes fn with exponential backoff retry logic.
// It retries up to maxAttempts times, sleeping between attempts
// according to the policy, and returns ErrMaxAttemptsExhausted once
// attempts run out. Context cancellation is checked between attempts.
func RetryWithBackoff[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	return retry(ctx, policy, maxAttempts, nil, fn)
}

// RetryIf is RetryWithBackoff with a retryability predicate. A failure
// the predicate rejects is returned immediately; when attempts run out
// the last error itself is returned so callers keep its type.
//
// Errors implementing DelayHinter extend the computed backoff to at
// least the hinted delay.
func RetryIf[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	result, err := retry(ctx, policy, maxAttempts, retryable, fn)
	if errors.Is(err, ErrMaxAttemptsExhausted) && result.LastError != nil {
		return result, result.LastError
	}
	return result, err
}

func retry[T any](
	ctx context.Context,
	policy BackoffPolicy,
	maxAttempts int,
	retryable func(error) bool,
	fn func(attempt int) (T, error),
) (RetryResult[T], error) {
	var result RetryResult[T]
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		result.Attempts = attempt

		if err := ctx.Err(); err != nil {
			result.LastError = lastErr
			return result, err
		}

		value, err := fn(attempt)
		if err == nil {
			result.Value = value
			return result, nil
		}

		lastErr = err
		result.LastError = err

		if retryable != nil && !retryable(err) {
			return result, err
		}

		// Don't sleep after the last attempt
		if attempt < maxAttempts {
			delay := ComputeBackoff(policy, attempt)
			var hinter DelayHinter
			if errors.As(err, &hinter) {
				if hint, ok := hinter.RetryAfterHint(); ok && hint > delay {
					delay = hint
				}
			}
			if err := SleepWithContext(ctx, delay); err != nil {
				return result, err
			}
		}
	}

	return result, ErrMaxAttemptsExhausted
}

// RetrySimple is a convenience wrapper for simple retry cases without
// return values, using the default policy.
func RetrySimple(
	ctx context.Context,
	maxAttempts int,
	fn func() error,
) error {
	_, err := RetryWithBackoff(ctx, DefaultPolicy(), maxAttempts, func(_ int) (struct{}, error) {
		return struct{}{}, fn()
	})
	return err
}
