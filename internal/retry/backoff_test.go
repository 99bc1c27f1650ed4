package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "hostpost/internal/errors"
)

func TestBackoff_DefaultConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	if config.InitialDelay != 100*time.Millisecond {
		t.Errorf("Expected initial delay of 100ms, got %v", config.InitialDelay)
	}

	if config.MaxDelay != 30*time.Second {
		t.Errorf("Expected max delay of 30s, got %v", config.MaxDelay)
	}

	if config.Multiplier != 2.0 {
		t.Errorf("Expected multiplier of 2.0, got %v", config.Multiplier)
	}

	if config.MaxAttempts != 5 {
		t.Errorf("Expected max attempts of 5, got %d", config.MaxAttempts)
	}
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 10 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	operation := func() error {
		attempts++
		return nil
	}

	ctx := context.Background()
	if err := backoff.Do(ctx, operation); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt, got %d", attempts)
	}
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     100 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	operation := func() error {
		attempts++
		if attempts < 3 {
			return errors.New("temporary error")
		}
		return nil
	}

	ctx := context.Background()
	if err := backoff.Do(ctx, operation); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestBackoff_Exhaustion(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	attempts := 0
	underlying := errors.New("upstream unavailable")
	operation := func() error {
		attempts++
		return underlying
	}

	ctx := context.Background()
	err := backoff.Do(ctx, operation)

	if attempts != 3 {
		t.Errorf("Expected exactly 3 attempts, got %d", attempts)
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Expected ExhaustedError, got %v", err)
	}

	if exhausted.Attempts != 3 {
		t.Errorf("Expected recorded attempt count of 3, got %d", exhausted.Attempts)
	}

	if !errors.Is(err, underlying) {
		t.Errorf("Expected exhausted error to wrap the last underlying error")
	}
}

func TestBackoff_TerminalErrorShortCircuits(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       false,
	})

	attempts := 0
	terminal := apperrors.NewAPIError("facebook", "/feed", 400, errors.New("bad request"))
	operation := func() error {
		attempts++
		return terminal
	}

	ctx := context.Background()
	err := backoff.Do(ctx, operation)

	if attempts != 1 {
		t.Errorf("Expected exactly 1 attempt for a 400 response, got %d", attempts)
	}

	if !errors.Is(err, terminal) {
		t.Errorf("Expected the terminal error itself, got %v", err)
	}

	if IsExhausted(err) {
		t.Errorf("Terminal error must not be reported as exhaustion")
	}
}

func TestBackoff_RateLimitedIsRetryable(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  2,
		Jitter:       false,
	})

	attempts := 0
	operation := func() error {
		attempts++
		return apperrors.NewAPIError("twitter", "/2/tweets", 429, errors.New("rate limited"))
	}

	ctx := context.Background()
	err := backoff.Do(ctx, operation)

	if attempts != 2 {
		t.Errorf("Expected 429 to be retried, got %d attempts", attempts)
	}

	if !IsExhausted(err) {
		t.Errorf("Expected exhaustion after retryable failures, got %v", err)
	}
}

func TestBackoff_ContextCancellation(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       false,
	})

	ctx, cancel := context.WithCancel(context.Background())

	attempts := 0
	operation := func() error {
		attempts++
		cancel()
		return errors.New("temporary error")
	}

	err := backoff.Do(ctx, operation)

	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestBackoff_DelayCalculation(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     1 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  10,
		Jitter:       false,
	})

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{5, 1 * time.Second}, // capped
		{8, 1 * time.Second}, // still capped
	}

	for _, tt := range tests {
		if got := backoff.GetNextDelay(tt.attempt); got != tt.expected {
			t.Errorf("attempt %d: expected delay %v, got %v", tt.attempt, tt.expected, got)
		}
	}
}

func TestBackoff_JitterBounds(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
		Jitter:       true,
	})

	// Jittered delay must stay within [delay/2, delay].
	for i := 0; i < 100; i++ {
		delay := backoff.GetNextDelay(3) // base 400ms
		if delay < 200*time.Millisecond || delay > 400*time.Millisecond {
			t.Fatalf("Jittered delay %v outside [200ms, 400ms]", delay)
		}
	}
}

func TestBackoff_IndependentCalls(t *testing.T) {
	backoff := NewBackoff(BackoffConfig{
		InitialDelay: 1 * time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       false,
	})

	ctx := context.Background()
	done := make(chan error, 2)

	for i := 0; i < 2; i++ {
		go func() {
			attempts := 0
			done <- backoff.Do(ctx, func() error {
				attempts++
				if attempts < 2 {
					return errors.New("flaky")
				}
				return nil
			})
		}()
	}

	for i := 0; i < 2; i++ {
		if err := <-done; err != nil {
			t.Errorf("Concurrent call %d failed: %v", i, err)
		}
	}
}
