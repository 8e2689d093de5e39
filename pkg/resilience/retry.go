package resilience

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy defines retry behavior for transient failures: a fixed
// attempt cap with jittered exponential backoff between attempts.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	MaxBackoff  time.Duration
	// Retryable decides whether an error is worth retrying.
	// Nil means every error is retryable.
	Retryable func(error) bool
}

func NewRetryPolicy(maxAttempts int, backoff time.Duration) RetryPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Backoff:     backoff,
		MaxBackoff:  4 * time.Second,
	}
}

// Do runs fn until it succeeds, the attempt cap is reached, or ctx is
// canceled. The last error is returned when the budget is exhausted.
func (r RetryPolicy) Do(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	var err error
	for attempt := 1; attempt <= r.MaxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if r.Retryable != nil && !r.Retryable(err) {
			return err
		}
		if attempt == r.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.wait(attempt)):
		}
	}
	return err
}

func (r RetryPolicy) wait(attempt int) time.Duration {
	d := r.Backoff << uint(attempt-1)
	if r.MaxBackoff > 0 && d > r.MaxBackoff {
		d = r.MaxBackoff
	}
	if d <= 0 {
		return 0
	}
	// Random portion of the exponential window, never zero.
	return time.Duration(rand.Int63n(int64(d))) + r.Backoff/2
}
