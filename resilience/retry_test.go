package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func fastRetry(attempts uint) RetryConfig {
	return RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     2 * time.Millisecond,
	}
}

func TestRetry_SucceedsAfterTransientFailure(t *testing.T) {
	r := NewRetry(fastRetry(3))
	calls := 0

	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errUpstream
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	r := NewRetry(fastRetry(2))
	calls := 0

	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return errUpstream
	})
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("error = %v, want ErrMaxRetriesExceeded", err)
	}
	if !errors.Is(err, errUpstream) {
		t.Errorf("error = %v, want wrapped upstream error", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestRetry_NonRetryableStopsImmediately(t *testing.T) {
	notFound := errors.New("status 404")
	cfg := fastRetry(5)
	cfg.RetryIf = func(err error) bool { return !errors.Is(err, notFound) }
	r := NewRetry(cfg)
	calls := 0

	err := r.Execute(context.Background(), func(context.Context) error {
		calls++
		return notFound
	})
	if !errors.Is(err, notFound) {
		t.Errorf("error = %v, want notFound", err)
	}
	if errors.Is(err, ErrMaxRetriesExceeded) {
		t.Error("non-retryable error must not be reported as exhaustion")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestRetry_OnRetryCallback(t *testing.T) {
	cfg := fastRetry(3)
	var notified int
	cfg.OnRetry = func(err error, delay time.Duration) { notified++ }
	r := NewRetry(cfg)

	_ = r.Execute(context.Background(), func(context.Context) error { return errUpstream })
	if notified != 2 {
		t.Errorf("OnRetry called %d times, want 2", notified)
	}
}

func TestRetry_Defaults(t *testing.T) {
	cfg := NewRetry(RetryConfig{}).Config()
	if cfg.MaxAttempts != 3 {
		t.Errorf("MaxAttempts = %d, want 3", cfg.MaxAttempts)
	}
	if cfg.InitialDelay != 100*time.Millisecond {
		t.Errorf("InitialDelay = %v", cfg.InitialDelay)
	}
	if cfg.Multiplier != 2.0 {
		t.Errorf("Multiplier = %v", cfg.Multiplier)
	}
}
