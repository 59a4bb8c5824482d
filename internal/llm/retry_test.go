package llm

import (
	"context"
	"testing"
	"time"
)

func fastPolicy(retries int) RetryPolicy {
	return RetryPolicy{MaxRetries: retries, BaseDelay: 0.001, BackoffMultiplier: 1, MaxDelay: 0.001}
}

func TestRetryDelayBackoff(t *testing.T) {
	p := RetryPolicy{BaseDelay: 1.0, BackoffMultiplier: 2.0, MaxDelay: 30.0}
	want := []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, expected := range want {
		if got := p.Delay(i); got != expected {
			t.Errorf("attempt %d: expected %v, got %v", i, expected, got)
		}
	}
	// Capped at MaxDelay.
	if got := p.Delay(10); got != 30*time.Second {
		t.Errorf("expected cap at 30s, got %v", got)
	}
}

func TestRetryDelayJitterRange(t *testing.T) {
	p := RetryPolicy{BaseDelay: 1.0, BackoffMultiplier: 2.0, MaxDelay: 30.0, Jitter: true}
	for i := 0; i < 100; i++ {
		got := p.Delay(0)
		if got < 500*time.Millisecond || got > 1500*time.Millisecond {
			t.Fatalf("jittered delay out of range: %v", got)
		}
	}
}

func TestRetryEventualSuccess(t *testing.T) {
	calls := 0
	result, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", &ServerError{ProviderError: ProviderError{
				SDKError: SDKError{Message: "overloaded"}, Retryable: true,
			}}
		}
		return "done", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != "done" || calls != 3 {
		t.Errorf("expected done after 3 calls, got %q after %d", result, calls)
	}
}

func TestRetryStopsOnNonRetryable(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(3), func(ctx context.Context) (string, error) {
		calls++
		return "", &AuthenticationError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "bad key"},
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("non-retryable error should not retry, got %d calls", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	_, err := Retry(context.Background(), fastPolicy(2), func(ctx context.Context) (string, error) {
		calls++
		return "", &RateLimitError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "slow down"}, Retryable: true,
		}}
	})
	if err == nil {
		t.Fatal("expected error after exhaustion")
	}
	if calls != 3 { // initial + 2 retries
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxRetries: 5, BaseDelay: 5.0, BackoffMultiplier: 1, MaxDelay: 5.0}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := Retry(ctx, policy, func(ctx context.Context) (string, error) {
		return "", &ServerError{ProviderError: ProviderError{
			SDKError: SDKError{Message: "down"}, Retryable: true,
		}}
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("cancellation did not interrupt backoff, took %v", elapsed)
	}
}
