package backoff

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

var errTemporary = errors.New("temporary error")

// hintedError carries a retry-after delay, like a rate-limit response.
type hintedError struct {
	after time.Duration
}

func (e *hintedError) Error() string { return "rate limited" }

func (e *hintedError) RetryAfterHint() (time.Duration, bool) { return e.after, true }

func fastPolicy() BackoffPolicy {
	return BackoffPolicy{InitialMs: 5, MaxMs: 100, Factor: 2, Jitter: 0}
}

func TestRetryWithBackoff_SucceedsFirstAttempt(t *testing.T) {
	var attempts int32
	result, err := RetryWithBackoff(context.Background(), fastPolicy(), 3, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "success", nil
	})

	if err != nil {
		t.Errorf("RetryWithBackoff() error = %v, want nil", err)
	}
	if result.Value != "success" {
		t.Errorf("RetryWithBackoff() value = %v, want success", result.Value)
	}
	if result.Attempts != 1 {
		t.Errorf("RetryWithBackoff() attempts = %v, want 1", result.Attempts)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %v times, want 1", attempts)
	}
}

func TestRetryWithBackoff_SucceedsAfterRetries(t *testing.T) {
	var attempts int32
	result, err := RetryWithBackoff(context.Background(), fastPolicy(), 5, func(attempt int) (int, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return 0, errTemporary
		}
		return int(n), nil
	})

	if err != nil {
		t.Errorf("RetryWithBackoff() error = %v, want nil", err)
	}
	if result.Value != 3 {
		t.Errorf("RetryWithBackoff() value = %v, want 3", result.Value)
	}
	if result.Attempts != 3 {
		t.Errorf("RetryWithBackoff() attempts = %v, want 3", result.Attempts)
	}
}

func TestRetryWithBackoff_AllAttemptsFail(t *testing.T) {
	var attempts int32
	result, err := RetryWithBackoff(context.Background(), fastPolicy(), 3, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "", errTemporary
	})

	if !errors.Is(err, ErrMaxAttemptsExhausted) {
		t.Errorf("RetryWithBackoff() error = %v, want ErrMaxAttemptsExhausted", err)
	}
	if result.LastError != errTemporary {
		t.Errorf("RetryWithBackoff() LastError = %v, want errTemporary", result.LastError)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("function called %v times, want 3", attempts)
	}
}

func TestRetryWithBackoff_ContextAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var attempts int32
	_, err := RetryWithBackoff(ctx, fastPolicy(), 5, func(attempt int) (string, error) {
		atomic.AddInt32(&attempts, 1)
		return "success", nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("RetryWithBackoff() error = %v, want context.Canceled", err)
	}
	if atomic.LoadInt32(&attempts) != 0 {
		t.Errorf("function called %v times, want 0", attempts)
	}
}

func TestRetryIf_NonRetryableStopsImmediately(t *testing.T) {
	fatal := errors.New("authentication failed")

	var attempts int32
	_, err := RetryIf(context.Background(), fastPolicy(), 5,
		func(err error) bool { return !errors.Is(err, fatal) },
		func(attempt int) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", fatal
		})

	if !errors.Is(err, fatal) {
		t.Errorf("RetryIf() error = %v, want the fatal error", err)
	}
	if atomic.LoadInt32(&attempts) != 1 {
		t.Errorf("function called %v times, want 1", attempts)
	}
}

func TestRetryIf_ExhaustionReturnsLastError(t *testing.T) {
	var attempts int32
	_, err := RetryIf(context.Background(), fastPolicy(), 3,
		func(error) bool { return true },
		func(attempt int) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", errTemporary
		})

	if !errors.Is(err, errTemporary) {
		t.Errorf("RetryIf() error = %v, want the last underlying error", err)
	}
	if atomic.LoadInt32(&attempts) != 3 {
		t.Errorf("function called %v times, want 3", attempts)
	}
}

func TestRetryIf_HonorsDelayHint(t *testing.T) {
	hinted := &hintedError{after: 60 * time.Millisecond}

	var attempts int32
	start := time.Now()
	_, err := RetryIf(context.Background(), fastPolicy(), 2,
		func(error) bool { return true },
		func(attempt int) (string, error) {
			atomic.AddInt32(&attempts, 1)
			return "", hinted
		})
	elapsed := time.Since(start)

	if !errors.Is(err, hinted) {
		t.Errorf("RetryIf() error = %v, want the hinted error", err)
	}
	// One sleep between two attempts, stretched to the 60ms hint.
	if elapsed < 55*time.Millisecond {
		t.Errorf("RetryIf() slept %v, want at least the hinted 60ms", elapsed)
	}
}

func TestRetryWithBackoff_AttemptNumberPassedCorrectly(t *testing.T) {
	var receivedAttempts []int
	_, _ = RetryWithBackoff(context.Background(), fastPolicy(), 3, func(attempt int) (struct{}, error) {
		receivedAttempts = append(receivedAttempts, attempt)
		return struct{}{}, errTemporary
	})

	expected := []int{1, 2, 3}
	if len(receivedAttempts) != len(expected) {
		t.Fatalf("got %v attempts, want %v", len(receivedAttempts), len(expected))
	}
	for i, v := range expected {
		if receivedAttempts[i] != v {
			t.Errorf("attempt %d: got %v, want %v", i, receivedAttempts[i], v)
		}
	}
}
